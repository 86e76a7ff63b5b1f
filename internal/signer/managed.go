package signer

import (
	"context"
	"fmt"
	"sort"

	"github.com/mcpay/gateway/internal/catalog"
)

// SigningClient materializes a custodial wallet into an account that can
// sign an x402 payment. Production deployments plug a real wallet-provider
// SDK in here; the gateway only depends on this seam.
type SigningClient interface {
	// SignTransfer produces the base64 X-PAYMENT header for the payment
	// described by sc, signed by wallet.
	SignTransfer(ctx context.Context, wallet catalog.Wallet, sc SignContext) (string, error)
}

// ManagedWalletStrategy signs with the user's custodial wallets, preferring
// gas-sponsored smart accounts.
type ManagedWalletStrategy struct {
	repo   catalog.Repository
	client SigningClient
}

// NewManagedWalletStrategy builds the strategy over repo and client.
func NewManagedWalletStrategy(repo catalog.Repository, client SigningClient) *ManagedWalletStrategy {
	return &ManagedWalletStrategy{repo: repo, client: client}
}

func (s *ManagedWalletStrategy) Name() string { return "managed_wallet" }

func (s *ManagedWalletStrategy) Priority() int { return 100 }

// CanSign requires an authenticated user and a configured signing client.
func (s *ManagedWalletStrategy) CanSign(ctx context.Context, sc SignContext) bool {
	return s.client != nil && sc.User.ID != ""
}

// SignPayment walks the user's active wallets on the payment network,
// smart accounts first, and returns the first successful signature.
func (s *ManagedWalletStrategy) SignPayment(ctx context.Context, sc SignContext) (Result, error) {
	wallets, err := s.repo.GetUserWallets(ctx, sc.User.ID, true)
	if err != nil {
		return Result{OK: false}, fmt.Errorf("managed wallet lookup: %w", err)
	}

	candidates := wallets[:0:0]
	for _, w := range wallets {
		if w.Network == sc.Requirement.Network {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return Result{OK: false}, fmt.Errorf("no active wallet for network %s", sc.Requirement.Network)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].IsSmartAccount && !candidates[j].IsSmartAccount
	})

	var lastErr error
	for _, wallet := range candidates {
		header, err := s.client.SignTransfer(ctx, wallet, sc)
		if err != nil {
			lastErr = err
			continue
		}
		return Result{OK: true, Header: header, WalletAddress: wallet.Address}, nil
	}
	return Result{OK: false}, fmt.Errorf("all %d candidate wallets failed: %w", len(candidates), lastErr)
}
