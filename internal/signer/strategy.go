// Package signer produces X-PAYMENT headers on behalf of authenticated
// users. Strategies are ordered by priority; the registry owns the shared
// retry, timeout, and fallback policy so individual strategies stay simple.
package signer

import (
	"context"

	"github.com/mcpay/gateway/internal/catalog"
	"github.com/mcpay/gateway/pkg/x402"
)

// SignContext carries everything a strategy needs to sign one payment.
type SignContext struct {
	User        catalog.User
	Requirement x402.PaymentRequirement
	// AmountRaw is the amount in token base units — the value field of the
	// EIP-3009 authorization, unlike the requirement's human-readable amount.
	AmountRaw string
}

// Result is a strategy's (or the registry's) outcome.
type Result struct {
	OK            bool
	Header        string // base64 X-PAYMENT value
	WalletAddress string
	Err           error
}

// Strategy is one way of producing a payment header.
type Strategy interface {
	Name() string
	// Priority orders strategies; higher runs first.
	Priority() int
	// CanSign reports whether the strategy applies to this request at all.
	// A false return skips the strategy with no retries.
	CanSign(ctx context.Context, sc SignContext) bool
	// SignPayment attempts to produce a header. Errors are retried by the
	// registry up to its configured attempt budget.
	SignPayment(ctx context.Context, sc SignContext) (Result, error)
}
