// Package x402gate enforces per-tool micropayments on tool invocations. It
// implements the payment state machine: free pass-through, 402 challenge
// construction, auto-sign, header verification against the facilitator, and
// pending-payment persistence.
package x402gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mcpay/gateway/internal/catalog"
	"github.com/mcpay/gateway/internal/facilitator"
	"github.com/mcpay/gateway/internal/inspector"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/metrics"
	"github.com/mcpay/gateway/internal/money"
	"github.com/mcpay/gateway/internal/signer"
	"github.com/mcpay/gateway/pkg/x402"
)

// Challenge error strings, part of the wire contract.
const (
	errNoPaymentInfo  = "No payment information available"
	errHeaderRequired = "X-PAYMENT header is required"
)

// Managed-wallet header pair that makes an unauthenticated request eligible
// for auto-sign.
const (
	HeaderWalletProvider = "x-wallet-provider"
	HeaderWalletType     = "x-wallet-type"

	walletProviderCDP = "coinbase-cdp"
	walletTypeManaged = "managed"
)

// Gate coordinates pricing, auto-sign, verification, and the payment ledger.
type Gate struct {
	repo        catalog.Repository
	facilitator *facilitator.Client
	registry    *signer.Registry
	metrics     *metrics.Metrics
}

// New builds a Gate. registry may be nil when auto-sign is disabled.
func New(repo catalog.Repository, fac *facilitator.Client, registry *signer.Registry, m *metrics.Metrics) *Gate {
	return &Gate{repo: repo, facilitator: fac, registry: registry, metrics: m}
}

// Input is everything the gate needs from the request context.
type Input struct {
	ToolCall   *inspector.ToolCall
	Server     catalog.RegisteredServer
	User       catalog.User
	AuthMethod string

	// PaymentHeader is the client-supplied X-PAYMENT value, "" if absent.
	PaymentHeader string
	// WalletProvider / WalletType mirror the x-wallet-provider and
	// x-wallet-type request headers.
	WalletProvider string
	WalletType     string
}

// Outcome is the gate's verdict on one request.
type Outcome struct {
	// Proceed is true when the request may continue to upstream dispatch.
	Proceed bool
	// PaymentHeader is the header the forwarder must attach upstream; set
	// whenever Proceed is true for a paid call (client-supplied or signed).
	PaymentHeader string
	// PayerAddress is the verified payer, when known.
	PayerAddress string

	// Status/Body describe the terminal 402 when Proceed is false.
	Status int
	Body   []byte
}

// Evaluate runs the state machine. The only error return is a signer
// registry configured with the "fail" fallback; every payment-protocol
// failure is expressed as a 402 Outcome instead.
func (g *Gate) Evaluate(ctx context.Context, in Input) (Outcome, error) {
	start := time.Now()
	outcome, state, err := g.evaluate(ctx, in)
	if g.metrics != nil && in.ToolCall != nil {
		g.metrics.ObservePaymentGate(in.Server.ServerID, in.ToolCall.Name, state, time.Since(start))
	}
	return outcome, err
}

func (g *Gate) evaluate(ctx context.Context, in Input) (Outcome, string, error) {
	if in.ToolCall == nil || !in.ToolCall.IsPaid {
		return Outcome{Proceed: true}, "free", nil
	}

	pricing := in.ToolCall.Pricing
	payTo := in.Server.ReceiverAddress
	if pricing == nil || payTo == "" {
		return challenge(errNoPaymentInfo, nil, ""), "paid_unready", nil
	}

	requirement, err := g.buildRequirement(in.ToolCall.Name, payTo, *pricing)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).
			Str("tool", in.ToolCall.Name).
			Str("pricing_id", pricing.ID).
			Msg("invalid pricing row")
		return challenge(errNoPaymentInfo, nil, ""), "paid_unready", nil
	}
	accepts := []x402.PaymentRequirement{requirement}

	header := in.PaymentHeader
	if header == "" && g.autoSignEligible(in) {
		result, err := g.registry.Sign(ctx, signer.SignContext{
			User:        in.User,
			Requirement: requirement,
			AmountRaw:   pricing.MaxAmountRequiredRaw,
		})
		if err != nil {
			return Outcome{}, "autosign_failed", err
		}
		if result.OK {
			header = result.Header
		}
	}

	if header == "" {
		return challenge(errHeaderRequired, accepts, ""), "need_header", nil
	}

	payload, err := x402.DecodePaymentHeader(header)
	if err != nil {
		return challenge(err.Error(), accepts, ""), "invalid_header", nil
	}

	verdict, err := g.facilitator.Verify(ctx, payload, requirement)
	if err != nil {
		return challenge(err.Error(), accepts, ""), "facilitator_error", nil
	}
	if !verdict.IsValid {
		reason := verdict.InvalidReason
		if reason == "" {
			reason = x402.ErrVerificationFailed.Error()
		}
		return challenge(reason, accepts, verdict.Payer), "verify_rejected", nil
	}

	payer := verdict.Payer
	if payer == "" {
		payer = payload.Payer()
	}

	g.recordPending(ctx, in, *pricing, header, payer)

	return Outcome{Proceed: true, PaymentHeader: header, PayerAddress: payer}, "verified", nil
}

// autoSignEligible applies the eligibility rule: an API-key-authenticated
// user, or the managed-wallet header pair.
func (g *Gate) autoSignEligible(in Input) bool {
	if g.registry == nil || !g.registry.Enabled() {
		return false
	}
	if in.AuthMethod == "api_key" {
		return true
	}
	return in.WalletProvider == walletProviderCDP && in.WalletType == walletTypeManaged
}

// buildRequirement converts a pricing row into the advertised requirement.
// The amount conversion is exact big-integer arithmetic.
func (g *Gate) buildRequirement(toolName, payTo string, pricing catalog.PricingEntry) (x402.PaymentRequirement, error) {
	human, err := money.RawToHuman(pricing.MaxAmountRequiredRaw, pricing.TokenDecimals)
	if err != nil {
		return x402.PaymentRequirement{}, err
	}
	return x402.PaymentRequirement{
		Scheme:            x402.SchemeExact,
		Network:           pricing.Network,
		MaxAmountRequired: human,
		Resource:          x402.ResourceScheme + toolName,
		Description:       "Execution of " + toolName,
		MimeType:          "",
		PayTo:             payTo,
		MaxTimeoutSeconds: x402.DefaultMaxTimeoutSeconds,
		Asset:             pricing.AssetAddress,
	}, nil
}

// recordPending persists the pending payment keyed by signature. Duplicate
// signatures and storage failures are logged, never surfaced: persistence is
// best-effort and must not block forwarding.
func (g *Gate) recordPending(ctx context.Context, in Input, pricing catalog.PricingEntry, signature, payer string) {
	record := catalog.PaymentRecord{
		ID:            uuid.NewString(),
		ToolID:        in.ToolCall.ToolID,
		UserID:        in.User.ID,
		AmountRaw:     pricing.MaxAmountRequiredRaw,
		TokenDecimals: pricing.TokenDecimals,
		AssetAddress:  pricing.AssetAddress,
		Network:       pricing.Network,
		Status:        catalog.PaymentStatusPending,
		Signature:     signature,
		PayerAddress:  payer,
	}

	err := g.repo.CreatePayment(ctx, record)
	switch {
	case err == nil:
	case errors.Is(err, catalog.ErrSignatureExists):
		log := logger.FromContext(ctx)
		log.Debug().
			Str("tool_id", record.ToolID).
			Str("signature", logger.RedactSignature(signature)).
			Msg("payment signature already recorded")
	default:
		log := logger.FromContext(ctx)
		log.Error().Err(err).
			Str("tool_id", record.ToolID).
			Msg("pending payment persistence failed")
	}
}

// challenge renders a 402 outcome with the standard body shape.
func challenge(errMsg string, accepts []x402.PaymentRequirement, payer string) Outcome {
	if accepts == nil {
		accepts = []x402.PaymentRequirement{}
	}
	body, _ := json.Marshal(x402.PaymentRequiredResponse{
		X402Version: x402.SupportedVersion,
		Error:       errMsg,
		Accepts:     accepts,
		Payer:       payer,
	})
	return Outcome{Status: http.StatusPaymentRequired, Body: body}
}
