package signer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcpay/gateway/internal/catalog"
	"github.com/mcpay/gateway/pkg/x402"
)

// fakeStrategy is a scriptable strategy for registry tests.
type fakeStrategy struct {
	name     string
	priority int
	canSign  bool
	results  []Result // consumed one per attempt; last repeats
	calls    int
}

func (f *fakeStrategy) Name() string  { return f.name }
func (f *fakeStrategy) Priority() int { return f.priority }
func (f *fakeStrategy) CanSign(context.Context, SignContext) bool {
	return f.canSign
}
func (f *fakeStrategy) SignPayment(context.Context, SignContext) (Result, error) {
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	r := f.results[idx]
	return r, r.Err
}

func signContext() SignContext {
	return SignContext{
		User: catalog.User{ID: "u1"},
		Requirement: x402.PaymentRequirement{
			Scheme:  x402.SchemeExact,
			Network: x402.NetworkBaseSepolia,
			PayTo:   "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		},
		AmountRaw: "10000",
	}
}

func fastConfig() Config {
	return Config{Enabled: true, FallbackBehavior: FallbackContinue, MaxRetries: 1, Timeout: time.Second}
}

func TestPriorityOrderWins(t *testing.T) {
	low := &fakeStrategy{name: "low", priority: 10, canSign: true, results: []Result{{OK: true, Header: "low-header"}}}
	high := &fakeStrategy{name: "high", priority: 1000, canSign: true, results: []Result{{OK: true, Header: "high-header"}}}

	registry := New(fastConfig(), []Strategy{low, high}, nil)
	result, err := registry.Sign(context.Background(), signContext())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if result.Header != "high-header" {
		t.Errorf("header = %q, want the high-priority strategy's", result.Header)
	}
	if low.calls != 0 {
		t.Error("low-priority strategy should not run once high succeeds")
	}
}

func TestIneligibleStrategySkippedWithoutRetries(t *testing.T) {
	skipped := &fakeStrategy{name: "skipped", priority: 1000, canSign: false, results: []Result{{OK: false}}}
	winner := &fakeStrategy{name: "winner", priority: 1, canSign: true, results: []Result{{OK: true, Header: "h"}}}

	registry := New(fastConfig(), []Strategy{skipped, winner}, nil)
	result, _ := registry.Sign(context.Background(), signContext())
	if !result.OK {
		t.Fatal("expected success from the eligible strategy")
	}
	if skipped.calls != 0 {
		t.Errorf("ineligible strategy called %d times, want 0", skipped.calls)
	}
}

func TestRetriesThenFallthrough(t *testing.T) {
	failing := &fakeStrategy{
		name: "flaky", priority: 10, canSign: true,
		results: []Result{{OK: false, Err: errors.New("boom")}},
	}

	cfg := fastConfig()
	cfg.MaxRetries = 2
	// The deadline must outlast the 1s backoff, or it cancels the retry.
	cfg.Timeout = 5 * time.Second
	registry := New(cfg, []Strategy{failing}, nil)

	start := time.Now()
	result, err := registry.Sign(context.Background(), signContext())
	if err != nil {
		t.Fatalf("continue fallback must not raise: %v", err)
	}
	if result.OK {
		t.Error("expected failure result")
	}
	if failing.calls != 2 {
		t.Errorf("calls = %d, want 2 (retried once)", failing.calls)
	}
	// One linear backoff of attempt*1s between the two attempts.
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("elapsed = %v, expected >= 1s backoff", elapsed)
	}
}

func TestFallbackFailRaises(t *testing.T) {
	failing := &fakeStrategy{name: "f", priority: 1, canSign: true, results: []Result{{OK: false, Err: errors.New("boom")}}}

	cfg := fastConfig()
	cfg.FallbackBehavior = FallbackFail
	registry := New(cfg, []Strategy{failing}, nil)

	_, err := registry.Sign(context.Background(), signContext())
	if err == nil {
		t.Error("fail fallback must surface the error")
	}
}

func TestFallbackLogOnlySwallows(t *testing.T) {
	failing := &fakeStrategy{name: "f", priority: 1, canSign: true, results: []Result{{OK: false, Err: errors.New("boom")}}}

	cfg := fastConfig()
	cfg.FallbackBehavior = FallbackLogOnly
	registry := New(cfg, []Strategy{failing}, nil)

	result, err := registry.Sign(context.Background(), signContext())
	if err != nil {
		t.Errorf("log_only fallback must not raise: %v", err)
	}
	if result.OK {
		t.Error("expected failure result")
	}
}

func TestDisabledRegistryIsNoop(t *testing.T) {
	strategy := &fakeStrategy{name: "s", priority: 1, canSign: true, results: []Result{{OK: true, Header: "h"}}}

	cfg := fastConfig()
	cfg.Enabled = false
	registry := New(cfg, []Strategy{strategy}, nil)

	result, err := registry.Sign(context.Background(), signContext())
	if err != nil || result.OK {
		t.Errorf("disabled registry: result=%+v err=%v", result, err)
	}
	if strategy.calls != 0 {
		t.Error("disabled registry must not invoke strategies")
	}
}

func TestTestStrategyProducesVerifiableHeader(t *testing.T) {
	strategy, err := NewTestStrategy("")
	if err != nil {
		t.Fatal(err)
	}
	if !strategy.CanSign(context.Background(), signContext()) {
		t.Fatal("test strategy should sign on base-sepolia")
	}

	mainnet := signContext()
	mainnet.Requirement.Network = x402.NetworkBase
	if strategy.CanSign(context.Background(), mainnet) {
		t.Error("test strategy must refuse mainnet")
	}

	result, err := strategy.SignPayment(context.Background(), signContext())
	if err != nil || !result.OK {
		t.Fatalf("SignPayment: result=%+v err=%v", result, err)
	}

	payload, err := x402.DecodePaymentHeader(result.Header)
	if err != nil {
		t.Fatalf("produced header does not decode: %v", err)
	}
	if payload.Payload.Authorization.Value != "10000" {
		t.Errorf("authorization value = %q", payload.Payload.Authorization.Value)
	}
	if payload.Payload.Authorization.From != strategy.Address() {
		t.Errorf("from = %q, want strategy address %q", payload.Payload.Authorization.From, strategy.Address())
	}
}

func TestManagedWalletPrefersSmartAccounts(t *testing.T) {
	repo := newWalletRepo([]catalog.Wallet{
		{ID: "w1", UserID: "u1", Address: "0xplain", Network: x402.NetworkBaseSepolia, Active: true},
		{ID: "w2", UserID: "u1", Address: "0xsmart", Network: x402.NetworkBaseSepolia, IsSmartAccount: true, Active: true},
		{ID: "w3", UserID: "u1", Address: "0xother", Network: x402.NetworkBase, Active: true},
	})

	client := signerClientFunc(func(_ context.Context, wallet catalog.Wallet, _ SignContext) (string, error) {
		return "header-for-" + wallet.Address, nil
	})

	strategy := NewManagedWalletStrategy(repo, client)
	result, err := strategy.SignPayment(context.Background(), signContext())
	if err != nil || !result.OK {
		t.Fatalf("SignPayment: result=%+v err=%v", result, err)
	}
	if result.WalletAddress != "0xsmart" {
		t.Errorf("wallet = %q, want the smart account", result.WalletAddress)
	}
}

func TestManagedWalletNoNetworkMatch(t *testing.T) {
	repo := newWalletRepo([]catalog.Wallet{
		{ID: "w1", UserID: "u1", Address: "0xplain", Network: x402.NetworkBase, Active: true},
	})
	strategy := NewManagedWalletStrategy(repo, signerClientFunc(func(context.Context, catalog.Wallet, SignContext) (string, error) {
		return "h", nil
	}))

	result, err := strategy.SignPayment(context.Background(), signContext())
	if err == nil || result.OK {
		t.Errorf("expected failure when no wallet matches the network, got %+v", result)
	}
}

// signerClientFunc adapts a func to SigningClient.
type signerClientFunc func(ctx context.Context, wallet catalog.Wallet, sc SignContext) (string, error)

func (f signerClientFunc) SignTransfer(ctx context.Context, wallet catalog.Wallet, sc SignContext) (string, error) {
	return f(ctx, wallet, sc)
}

// walletRepo is a minimal catalog.Repository stub serving only wallets.
type walletRepo struct {
	catalog.Repository
	wallets []catalog.Wallet
}

func newWalletRepo(wallets []catalog.Wallet) *walletRepo {
	return &walletRepo{wallets: wallets}
}

func (r *walletRepo) GetUserWallets(_ context.Context, userID string, activeOnly bool) ([]catalog.Wallet, error) {
	var out []catalog.Wallet
	for _, w := range r.wallets {
		if w.UserID == userID && (!activeOnly || w.Active) {
			out = append(out, w)
		}
	}
	return out, nil
}
