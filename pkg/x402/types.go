// Package x402 holds the wire types for the x402 payment protocol: the
// PaymentRequirement advertised in a 402 challenge, the PaymentPayload
// carried base64-encoded in the X-PAYMENT header, and the 402 response body.
// Reference: https://github.com/coinbase/x402
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentRequirement describes one acceptable way to pay for a resource. It
// is embedded in the `accepts` list of a 402 challenge and echoed back to
// the facilitator during verification.
type PaymentRequirement struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	MaxAmountRequired string          `json:"maxAmountRequired"` // human-readable decimal
	Resource          string          `json:"resource"`
	Description       string          `json:"description"`
	MimeType          string          `json:"mimeType"`
	PayTo             string          `json:"payTo"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds"`
	Asset             string          `json:"asset"`
	OutputSchema      json.RawMessage `json:"outputSchema,omitempty"`
	Extra             map[string]any  `json:"extra,omitempty"`
}

// ExactEVMAuthorization is the EIP-3009 transferWithAuthorization tuple the
// payer signed. All numeric fields travel as decimal strings.
type ExactEVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEVMPayload is the scheme-specific payload for scheme "exact" on EVM
// networks: a signature over the enclosed authorization.
type ExactEVMPayload struct {
	Signature     string                `json:"signature"`
	Authorization ExactEVMAuthorization `json:"authorization"`
}

// PaymentPayload is the decoded X-PAYMENT header.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     ExactEVMPayload `json:"payload"`
}

// PaymentRequiredResponse is the JSON body of every 402 the gateway emits.
type PaymentRequiredResponse struct {
	X402Version int                  `json:"x402Version"`
	Error       string               `json:"error"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Payer       string               `json:"payer,omitempty"`
}

// DecodePaymentHeader parses an X-PAYMENT header value into a validated
// PaymentPayload. Raw JSON (a value starting with "{") is accepted alongside
// base64 to ease testing.
func DecodePaymentHeader(header string) (PaymentPayload, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return PaymentPayload{}, ErrEmptyHeader
	}

	data := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return PaymentPayload{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
		}
		data = decoded
	}

	var payload PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return PaymentPayload{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if err := payload.Validate(); err != nil {
		return PaymentPayload{}, err
	}
	return payload, nil
}

// EncodePaymentHeader renders a PaymentPayload as the base64 X-PAYMENT value.
func EncodePaymentHeader(payload PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Validate checks the structural invariants of a decoded payload: supported
// version and scheme, a non-empty signature, and well-formed EVM addresses
// in the authorization tuple.
func (p PaymentPayload) Validate() error {
	if p.X402Version != SupportedVersion {
		return fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, p.X402Version)
	}
	if p.Scheme != SchemeExact {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, p.Scheme)
	}
	if p.Network == "" {
		return fmt.Errorf("%w: network missing", ErrMalformedHeader)
	}
	if strings.TrimSpace(p.Payload.Signature) == "" {
		return fmt.Errorf("%w: signature missing", ErrMalformedHeader)
	}
	auth := p.Payload.Authorization
	if !common.IsHexAddress(auth.From) {
		return fmt.Errorf("%w: from %q", ErrInvalidAddress, auth.From)
	}
	if !common.IsHexAddress(auth.To) {
		return fmt.Errorf("%w: to %q", ErrInvalidAddress, auth.To)
	}
	return nil
}

// Payer returns the checksummed address the authorization was signed by.
func (p PaymentPayload) Payer() string {
	return common.HexToAddress(p.Payload.Authorization.From).Hex()
}
