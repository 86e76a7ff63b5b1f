package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mcpay/gateway/internal/catalog"
)

func seedAPIKeyUser(repo *catalog.MemoryRepository, key string) catalog.User {
	user := catalog.User{ID: "u-api", Email: "dev@example.com", APIKeyHash: HashAPIKey(key)}
	repo.SeedUser(user)
	return user
}

func TestAPIKeyHeaderWins(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	seedAPIKeyUser(repo, "sk-live-1")
	resolver := New(repo, nil)

	req := httptest.NewRequest("POST", "/mcp/SRV", nil)
	req.Header.Set("X-API-Key", "sk-live-1")
	req.Header.Set("X-Wallet-Address", "0x857b06519E91e3A54538791bDbb0E22373e36b66")

	user, method := resolver.Resolve(context.Background(), req, "")
	if method != MethodAPIKey {
		t.Fatalf("method = %q, want api_key", method)
	}
	if user.ID != "u-api" {
		t.Errorf("user = %+v", user)
	}
}

func TestBearerTokenAndQueryAndBodyKey(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	seedAPIKeyUser(repo, "sk-live-2")
	resolver := New(repo, nil)

	bearer := httptest.NewRequest("POST", "/mcp/SRV", nil)
	bearer.Header.Set("Authorization", "Bearer sk-live-2")
	if _, method := resolver.Resolve(context.Background(), bearer, ""); method != MethodAPIKey {
		t.Errorf("bearer method = %q", method)
	}

	query := httptest.NewRequest("POST", "/mcp/SRV?api_key=sk-live-2", nil)
	if _, method := resolver.Resolve(context.Background(), query, ""); method != MethodAPIKey {
		t.Errorf("query method = %q", method)
	}

	body := httptest.NewRequest("POST", "/mcp/SRV", nil)
	if _, method := resolver.Resolve(context.Background(), body, "sk-live-2"); method != MethodAPIKey {
		t.Errorf("body method = %q", method)
	}
}

func TestUnknownKeyFallsThroughToNone(t *testing.T) {
	resolver := New(catalog.NewMemoryRepository(), nil)

	req := httptest.NewRequest("POST", "/mcp/SRV", nil)
	req.Header.Set("X-API-Key", "sk-unknown")

	user, method := resolver.Resolve(context.Background(), req, "")
	if method != MethodNone || user.ID != "" {
		t.Errorf("got %q / %+v, want none", method, user)
	}
}

func TestSessionCookieResolution(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	repo.SeedUser(catalog.User{ID: "u-sess"})

	secret := []byte("session-secret")
	resolver := New(repo, NewSessionVerifier(secret))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u-sess",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/mcp/SRV", nil)
	req.Header.Set("Cookie", "mcpay_session="+signed)

	user, method := resolver.Resolve(context.Background(), req, "")
	if method != MethodSession {
		t.Fatalf("method = %q, want session", method)
	}
	if user.ID != "u-sess" {
		t.Errorf("user = %+v", user)
	}
}

func TestExpiredSessionIgnored(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	repo.SeedUser(catalog.User{ID: "u-sess"})

	secret := []byte("session-secret")
	resolver := New(repo, NewSessionVerifier(secret))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u-sess",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	signed, _ := token.SignedString(secret)

	req := httptest.NewRequest("GET", "/mcp/SRV", nil)
	req.Header.Set("Cookie", "mcpay_session="+signed)

	if _, method := resolver.Resolve(context.Background(), req, ""); method != MethodNone {
		t.Errorf("expired session resolved as %q", method)
	}
}

func TestWalletHeaderProvisionsUser(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	resolver := New(repo, nil)

	addr := "0x857b06519E91e3A54538791bDbb0E22373e36b66"
	req := httptest.NewRequest("POST", "/mcp/SRV", nil)
	req.Header.Set("X-Wallet-Address", addr)

	user, method := resolver.Resolve(context.Background(), req, "")
	if method != MethodWallet {
		t.Fatalf("method = %q", method)
	}
	if user.PrimaryWalletAddress != addr {
		t.Errorf("user = %+v", user)
	}

	// Second resolution finds the same user instead of creating another.
	again, _ := resolver.Resolve(context.Background(), req, "")
	if again.ID != user.ID {
		t.Error("wallet user should be stable across requests")
	}
}

func TestInferChain(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"0x857b06519E91e3A54538791bDbb0E22373e36b66", "evm"},
		{"9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", "solana"},
		{"alice.near", "near"},
		{"ed25519ed25519ed25519ed25519ed25519ed25519ed25519ed25519ed25519x", "near"},
		{"IIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIII", "unknown"}, // 44 chars but invalid base58
		{"short", "unknown"},
	}
	for _, tt := range tests {
		if got := inferChain(tt.address); got != tt.want {
			t.Errorf("inferChain(%q) = %q, want %q", tt.address, got, tt.want)
		}
	}
}

func TestHashAPIKeyIsStable(t *testing.T) {
	if HashAPIKey("abc") != HashAPIKey("abc") {
		t.Error("hash must be deterministic")
	}
	if HashAPIKey("abc") == HashAPIKey("abd") {
		t.Error("different keys must hash differently")
	}
}
