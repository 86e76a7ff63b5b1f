// Package facilitator is the HTTP client for the external x402 facilitator
// service that verifies and settles payments. The base URL is selected
// per-network from configuration; calls run behind the facilitator circuit
// breaker.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mcpay/gateway/internal/breaker"
	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/httputil"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/metrics"
	"github.com/mcpay/gateway/pkg/x402"
)

const defaultTimeout = 30 * time.Second

// maxResponseBytes bounds how much of a facilitator response we will read.
const maxResponseBytes = 1 << 20

// VerifyResult is the facilitator's answer to POST /verify.
type VerifyResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResult is the facilitator's answer to POST /settle.
type SettleResult struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
}

// SupportedKind is one (version, scheme, network) tuple the facilitator handles.
type SupportedKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// request is the envelope both /verify and /settle accept.
type request struct {
	X402Version         int                     `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}

// Client talks to one or more facilitator deployments, keyed by network.
type Client struct {
	defaultURL string
	byNetwork  map[string]string
	http       *http.Client
	breakers   *breaker.Manager
	metrics    *metrics.Metrics
}

// New builds a Client from configuration. breakers may be nil to disable
// circuit breaking (tests).
func New(cfg config.FacilitatorConfig, breakers *breaker.Manager) *Client {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		defaultURL: cfg.DefaultURL,
		byNetwork:  cfg.ByNetwork,
		http:       httputil.NewClient(timeout),
		breakers:   breakers,
	}
}

// WithMetrics adds settlement observability to the client.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// BaseURL returns the facilitator endpoint for a network, falling back to
// the default URL when the network has no dedicated deployment.
func (c *Client) BaseURL(network string) string {
	if url, ok := c.byNetwork[network]; ok && url != "" {
		return url
	}
	return c.defaultURL
}

// Verify asks the facilitator whether the decoded payment satisfies the
// requirement. A transport or decode failure is returned as an error
// wrapping x402.ErrFacilitatorUnavailable; an invalid payment is not an
// error — it comes back as VerifyResult{IsValid: false}.
func (c *Client) Verify(ctx context.Context, payload x402.PaymentPayload, requirement x402.PaymentRequirement) (VerifyResult, error) {
	var result VerifyResult
	err := c.post(ctx, requirement.Network, "/verify", request{
		X402Version:         x402.SupportedVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirement,
	}, &result)
	if err != nil {
		return VerifyResult{}, err
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("network", requirement.Network).
		Bool("is_valid", result.IsValid).
		Str("invalid_reason", result.InvalidReason).
		Msg("facilitator verify")

	return result, nil
}

// Settle asks the facilitator to execute a verified payment on-chain.
func (c *Client) Settle(ctx context.Context, payload x402.PaymentPayload, requirement x402.PaymentRequirement) (SettleResult, error) {
	start := time.Now()
	var result SettleResult
	err := c.post(ctx, requirement.Network, "/settle", request{
		X402Version:         x402.SupportedVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirement,
	}, &result)
	if c.metrics != nil {
		outcome := "success"
		if err != nil || !result.Success {
			outcome = "failure"
		}
		c.metrics.ObserveSettlement(requirement.Network, outcome, time.Since(start))
	}
	if err != nil {
		return SettleResult{}, err
	}
	return result, nil
}

// Supported lists the payment kinds the facilitator for network handles.
func (c *Client) Supported(ctx context.Context, network string) ([]SupportedKind, error) {
	var envelope struct {
		Kinds []SupportedKind `json:"kinds"`
	}
	if err := c.get(ctx, network, "/supported", &envelope); err != nil {
		return nil, err
	}
	return envelope.Kinds, nil
}

func (c *Client) post(ctx context.Context, network, path string, body request, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("facilitator: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL(network)+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("facilitator: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, network, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL(network)+path, nil)
	if err != nil {
		return fmt.Errorf("facilitator: build request: %w", err)
	}
	return c.do(req, out)
}

// do executes the request behind the facilitator breaker and decodes the
// JSON response into out.
func (c *Client) do(req *http.Request, out any) error {
	exec := func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", x402.ErrFacilitatorUnavailable, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d: %s", x402.ErrFacilitatorUnavailable, resp.StatusCode, truncate(raw, 200))
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", x402.ErrFacilitatorUnavailable, err)
		}
		return nil, nil
	}

	var err error
	if c.breakers != nil {
		_, err = c.breakers.Execute(breaker.ServiceFacilitator, exec)
	} else {
		_, err = exec()
	}
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
