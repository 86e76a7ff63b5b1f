package x402

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func validPayload() PaymentPayload {
	return PaymentPayload{
		X402Version: 1,
		Scheme:      SchemeExact,
		Network:     NetworkBaseSepolia,
		Payload: ExactEVMPayload{
			Signature: "0xdeadbeef",
			Authorization: ExactEVMAuthorization{
				From:        "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				To:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				Value:       "10000",
				ValidAfter:  "0",
				ValidBefore: "1999999999",
				Nonce:       "0x01",
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	header, err := EncodePaymentHeader(validPayload())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodePaymentHeader(header)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Network != NetworkBaseSepolia {
		t.Errorf("network = %q, want %q", decoded.Network, NetworkBaseSepolia)
	}
	if decoded.Payload.Authorization.Value != "10000" {
		t.Errorf("value = %q, want 10000", decoded.Payload.Authorization.Value)
	}
}

func TestDecodeAcceptsRawJSON(t *testing.T) {
	header, _ := EncodePaymentHeader(validPayload())
	raw, _ := base64.StdEncoding.DecodeString(header)
	if !strings.HasPrefix(string(raw), "{") {
		t.Fatalf("expected JSON payload, got %q", raw[:1])
	}
	if _, err := DecodePaymentHeader(string(raw)); err != nil {
		t.Fatalf("raw JSON should decode: %v", err)
	}
}

func TestDecodeRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PaymentPayload)
		wantErr error
	}{
		{"wrong version", func(p *PaymentPayload) { p.X402Version = 2 }, ErrUnsupportedVersion},
		{"wrong scheme", func(p *PaymentPayload) { p.Scheme = "upto" }, ErrUnsupportedScheme},
		{"missing network", func(p *PaymentPayload) { p.Network = "" }, ErrMalformedHeader},
		{"missing signature", func(p *PaymentPayload) { p.Payload.Signature = "" }, ErrMalformedHeader},
		{"bad from address", func(p *PaymentPayload) { p.Payload.Authorization.From = "nothex" }, ErrInvalidAddress},
		{"bad to address", func(p *PaymentPayload) { p.Payload.Authorization.To = "0x1234" }, ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := validPayload()
			tt.mutate(&payload)
			header, err := EncodePaymentHeader(payload)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			_, err = DecodePaymentHeader(header)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeGarbage(t *testing.T) {
	for _, header := range []string{"", "   ", "!!!not-base64!!!", base64.StdEncoding.EncodeToString([]byte("not json"))} {
		if _, err := DecodePaymentHeader(header); err == nil {
			t.Errorf("DecodePaymentHeader(%q) should fail", header)
		}
	}
}

func TestPayerIsChecksummed(t *testing.T) {
	payload := validPayload()
	payload.Payload.Authorization.From = "0x857b06519e91e3a54538791bdbb0e22373e36b66"
	if got := payload.Payer(); got != "0x857b06519E91e3A54538791bDbb0E22373e36b66" {
		t.Errorf("Payer() = %q, want checksummed form", got)
	}
}
