// Package auth resolves an incoming request to a user identity, trying API
// key, session cookie, and wallet header in that order.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mcpay/gateway/internal/catalog"
	"github.com/mcpay/gateway/internal/logger"
)

// Method names the resolution path that produced a user, or "none".
type Method string

const (
	MethodAPIKey  Method = "api_key"
	MethodSession Method = "session"
	MethodWallet  Method = "wallet_header"
	MethodNone    Method = "none"
)

// Resolver maps request credentials to a catalog.User. It never returns an
// error to the caller: any failure resolves to (User{}, MethodNone).
type Resolver struct {
	repo    catalog.Repository
	session *SessionVerifier // nil disables session-cookie resolution
}

// New builds a Resolver backed by repo. session may be nil if the deployment
// has no external session-cookie provider configured.
func New(repo catalog.Repository, session *SessionVerifier) *Resolver {
	return &Resolver{repo: repo, session: session}
}

// Resolve tries the credential sources in order: API key (header, bearer
// token, query param, or body param), then session cookie, then the
// X-Wallet-Address header (auto-provisioning an unknown address).
func (r *Resolver) Resolve(ctx context.Context, req *http.Request, bodyAPIKey string) (catalog.User, Method) {
	if key := extractAPIKey(req, bodyAPIKey); key != "" {
		if user, ok := r.resolveAPIKey(ctx, key); ok {
			return user, MethodAPIKey
		}
	}

	if r.session != nil {
		if cookie, err := req.Cookie(sessionCookieName); err == nil {
			if user, ok := r.resolveSession(ctx, cookie.Value); ok {
				return user, MethodSession
			}
		}
	}

	if addr := strings.TrimSpace(req.Header.Get("X-Wallet-Address")); addr != "" {
		if user, ok := r.resolveWallet(ctx, addr); ok {
			return user, MethodWallet
		}
	}

	return catalog.User{}, MethodNone
}

func extractAPIKey(req *http.Request, bodyAPIKey string) string {
	if key := strings.TrimSpace(req.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if auth := req.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if key := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); key != "" {
			return key
		}
	}
	if key := strings.TrimSpace(req.URL.Query().Get("api_key")); key != "" {
		return key
	}
	return strings.TrimSpace(bodyAPIKey)
}

// HashAPIKey returns the lookup hash stored alongside a User record. Plain
// keys are never persisted or compared directly.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (r *Resolver) resolveAPIKey(ctx context.Context, key string) (catalog.User, bool) {
	user, err := r.repo.GetUserByAPIKeyHash(ctx, HashAPIKey(key))
	if err != nil {
		return catalog.User{}, false
	}
	r.touchLogin(ctx, user.ID)
	return user, true
}

func (r *Resolver) resolveSession(ctx context.Context, token string) (catalog.User, bool) {
	userID, err := r.session.Verify(token)
	if err != nil {
		return catalog.User{}, false
	}
	user, err := r.repo.GetUserByID(ctx, userID)
	if err != nil {
		return catalog.User{}, false
	}
	r.touchLogin(ctx, user.ID)
	return user, true
}

func (r *Resolver) resolveWallet(ctx context.Context, address string) (catalog.User, bool) {
	user, err := r.repo.GetUserByWalletAddress(ctx, address)
	if err == nil {
		return user, true
	}
	if err != catalog.ErrNotFound {
		return catalog.User{}, false
	}

	created, err := r.repo.CreateUserWithWallet(ctx, address, inferChain(address))
	if err != nil {
		return catalog.User{}, false
	}
	return created, true
}

// touchLogin updates last-login/last-used timestamps best-effort; failures
// are logged and never surfaced.
func (r *Resolver) touchLogin(ctx context.Context, userID string) {
	if err := r.repo.TouchUserLogin(ctx, userID); err != nil {
		log := logger.FromContext(ctx)
		log.Debug().Err(err).Str("user_id", userID).Msg("touch user login failed")
	}
}

// inferChain heuristically classifies a wallet address by shape: 42-char
// 0x-prefixed is EVM, 44-char non-0x is Solana (confirmed by a base58
// decode), 64-char or a .near suffix is NEAR.
func inferChain(address string) string {
	switch {
	case strings.HasSuffix(address, ".near"):
		return "near"
	case strings.HasPrefix(address, "0x") && len(address) == 42:
		return "evm"
	case len(address) == 44 && !strings.HasPrefix(address, "0x"):
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return "unknown"
		}
		return "solana"
	case len(address) == 64:
		return "near"
	default:
		return "unknown"
	}
}

const sessionCookieName = "mcpay_session"
