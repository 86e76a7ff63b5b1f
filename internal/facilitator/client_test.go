package facilitator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/pkg/x402"
)

func testPayload() x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: 1,
		Scheme:      x402.SchemeExact,
		Network:     x402.NetworkBaseSepolia,
		Payload: x402.ExactEVMPayload{
			Signature: "0xsig",
			Authorization: x402.ExactEVMAuthorization{
				From: "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				To:   "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			},
		},
	}
}

func testRequirement() x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkBaseSepolia,
		MaxAmountRequired: "0.01",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
}

func TestVerifyDecodesEnvelope(t *testing.T) {
	var captured request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("path = %q, want /verify", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(VerifyResult{IsValid: true, Payer: "0xAAA"})
	}))
	defer server.Close()

	client := New(config.FacilitatorConfig{DefaultURL: server.URL}, nil)
	result, err := client.Verify(context.Background(), testPayload(), testRequirement())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.IsValid || result.Payer != "0xAAA" {
		t.Errorf("result = %+v, want valid with payer 0xAAA", result)
	}
	if captured.X402Version != 1 {
		t.Errorf("request x402Version = %d, want 1", captured.X402Version)
	}
	if captured.PaymentRequirements.Network != x402.NetworkBaseSepolia {
		t.Errorf("requirement network = %q", captured.PaymentRequirements.Network)
	}
}

func TestVerifyInvalidIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(VerifyResult{IsValid: false, InvalidReason: "insufficient_funds", Payer: "0xBBB"})
	}))
	defer server.Close()

	client := New(config.FacilitatorConfig{DefaultURL: server.URL}, nil)
	result, err := client.Verify(context.Background(), testPayload(), testRequirement())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.IsValid {
		t.Error("expected IsValid=false")
	}
	if result.InvalidReason != "insufficient_funds" {
		t.Errorf("reason = %q", result.InvalidReason)
	}
}

func TestVerifyNon200IsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(config.FacilitatorConfig{DefaultURL: server.URL}, nil)
	_, err := client.Verify(context.Background(), testPayload(), testRequirement())
	if !errors.Is(err, x402.ErrFacilitatorUnavailable) {
		t.Errorf("err = %v, want ErrFacilitatorUnavailable", err)
	}
}

func TestBaseURLPerNetwork(t *testing.T) {
	client := New(config.FacilitatorConfig{
		DefaultURL: "https://default.example",
		ByNetwork: map[string]string{
			x402.NetworkSeiTestnet: "https://sei.example",
		},
	}, nil)

	if got := client.BaseURL(x402.NetworkSeiTestnet); got != "https://sei.example" {
		t.Errorf("sei url = %q", got)
	}
	if got := client.BaseURL(x402.NetworkBase); got != "https://default.example" {
		t.Errorf("default url = %q", got)
	}
}

func TestSettle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settle" {
			t.Errorf("path = %q, want /settle", r.URL.Path)
		}
		json.NewEncoder(w).Encode(SettleResult{Success: true, Transaction: "0xtx", Network: x402.NetworkBaseSepolia})
	}))
	defer server.Close()

	client := New(config.FacilitatorConfig{DefaultURL: server.URL}, nil)
	result, err := client.Settle(context.Background(), testPayload(), testRequirement())
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !result.Success || result.Transaction != "0xtx" {
		t.Errorf("result = %+v", result)
	}
}

func TestSupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/supported" {
			t.Errorf("path = %q, want /supported", r.URL.Path)
		}
		w.Write([]byte(`{"kinds":[{"x402Version":1,"scheme":"exact","network":"base-sepolia"}]}`))
	}))
	defer server.Close()

	client := New(config.FacilitatorConfig{DefaultURL: server.URL}, nil)
	kinds, err := client.Supported(context.Background(), x402.NetworkBaseSepolia)
	if err != nil {
		t.Fatalf("Supported: %v", err)
	}
	if len(kinds) != 1 || kinds[0].Scheme != x402.SchemeExact {
		t.Errorf("kinds = %+v", kinds)
	}
}
