package x402gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcpay/gateway/internal/catalog"
	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/facilitator"
	"github.com/mcpay/gateway/internal/inspector"
	"github.com/mcpay/gateway/internal/signer"
	"github.com/mcpay/gateway/pkg/x402"
)

const (
	receiverAddr = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	assetAddr    = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

func paidToolCall() *inspector.ToolCall {
	return &inspector.ToolCall{
		Name:     "myTool",
		ServerID: "SRV",
		ToolID:   "t1",
		IsPaid:   true,
		Pricing: &catalog.PricingEntry{
			ID:                   "p1",
			ToolID:               "t1",
			AssetAddress:         assetAddr,
			Network:              x402.NetworkBaseSepolia,
			MaxAmountRequiredRaw: "10000",
			TokenDecimals:        6,
			Active:               true,
		},
	}
}

func paidInput() Input {
	return Input{
		ToolCall: paidToolCall(),
		Server:   catalog.RegisteredServer{ServerID: "SRV", ReceiverAddress: receiverAddr},
	}
}

func newVerifyStub(t *testing.T, result facilitator.VerifyResult) *facilitator.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(result)
	}))
	t.Cleanup(server.Close)
	return facilitator.New(config.FacilitatorConfig{DefaultURL: server.URL}, nil)
}

func signedHeader(t *testing.T) string {
	t.Helper()
	strategy, err := signer.NewTestStrategy("")
	if err != nil {
		t.Fatal(err)
	}
	result, err := strategy.SignPayment(context.Background(), signer.SignContext{
		Requirement: x402.PaymentRequirement{
			Network:           x402.NetworkBaseSepolia,
			PayTo:             receiverAddr,
			MaxTimeoutSeconds: 60,
		},
		AmountRaw: "10000",
	})
	if err != nil || !result.OK {
		t.Fatalf("test sign: %+v %v", result, err)
	}
	return result.Header
}

func decode402(t *testing.T, body []byte) x402.PaymentRequiredResponse {
	t.Helper()
	var resp x402.PaymentRequiredResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("402 body does not parse: %v", err)
	}
	return resp
}

func TestFreeCallPassesThrough(t *testing.T) {
	gate := New(catalog.NewMemoryRepository(), nil, nil, nil)

	for _, in := range []Input{
		{ToolCall: nil},
		{ToolCall: &inspector.ToolCall{Name: "freeTool", IsPaid: false}},
	} {
		outcome, err := gate.Evaluate(context.Background(), in)
		if err != nil || !outcome.Proceed {
			t.Errorf("free call: outcome=%+v err=%v", outcome, err)
		}
	}
}

func TestPaidWithoutPricingIs402EmptyAccepts(t *testing.T) {
	gate := New(catalog.NewMemoryRepository(), nil, nil, nil)

	in := paidInput()
	in.ToolCall.Pricing = nil

	outcome, err := gate.Evaluate(context.Background(), in)
	if err != nil || outcome.Proceed {
		t.Fatalf("outcome=%+v err=%v", outcome, err)
	}
	if outcome.Status != http.StatusPaymentRequired {
		t.Errorf("status = %d", outcome.Status)
	}
	resp := decode402(t, outcome.Body)
	if resp.Error != "No payment information available" {
		t.Errorf("error = %q", resp.Error)
	}
	if len(resp.Accepts) != 0 {
		t.Errorf("accepts should be empty, got %d", len(resp.Accepts))
	}
}

func TestPaidWithoutReceiverIs402(t *testing.T) {
	gate := New(catalog.NewMemoryRepository(), nil, nil, nil)

	in := paidInput()
	in.Server.ReceiverAddress = ""

	outcome, _ := gate.Evaluate(context.Background(), in)
	if outcome.Proceed || outcome.Status != http.StatusPaymentRequired {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestMissingHeaderChallenge(t *testing.T) {
	gate := New(catalog.NewMemoryRepository(), nil, nil, nil)

	outcome, err := gate.Evaluate(context.Background(), paidInput())
	if err != nil || outcome.Proceed {
		t.Fatalf("outcome=%+v err=%v", outcome, err)
	}

	resp := decode402(t, outcome.Body)
	if resp.X402Version != 1 {
		t.Errorf("x402Version = %d", resp.X402Version)
	}
	if resp.Error != "X-PAYMENT header is required" {
		t.Errorf("error = %q", resp.Error)
	}
	if len(resp.Accepts) != 1 {
		t.Fatalf("accepts length = %d", len(resp.Accepts))
	}
	req := resp.Accepts[0]
	if req.Scheme != "exact" || req.Network != "base-sepolia" || req.Asset != assetAddr {
		t.Errorf("requirement = %+v", req)
	}
	if req.MaxAmountRequired != "0.01" {
		t.Errorf("maxAmountRequired = %q, want exact decimal 0.01", req.MaxAmountRequired)
	}
	if req.Resource != "mcpay://myTool" {
		t.Errorf("resource = %q", req.Resource)
	}
	if req.PayTo != receiverAddr || req.MaxTimeoutSeconds != 60 {
		t.Errorf("payTo/timeout = %q/%d", req.PayTo, req.MaxTimeoutSeconds)
	}
}

func TestValidHeaderVerifiesAndRecordsPending(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	fac := newVerifyStub(t, facilitator.VerifyResult{IsValid: true, Payer: "0xAAA"})
	gate := New(repo, fac, nil, nil)

	header := signedHeader(t)
	in := paidInput()
	in.PaymentHeader = header

	outcome, err := gate.Evaluate(context.Background(), in)
	if err != nil || !outcome.Proceed {
		t.Fatalf("outcome=%+v err=%v", outcome, err)
	}
	if outcome.PaymentHeader != header {
		t.Error("verified header should be carried forward")
	}
	if outcome.PayerAddress != "0xAAA" {
		t.Errorf("payer = %q", outcome.PayerAddress)
	}

	record, err := repo.GetPaymentBySignature(context.Background(), header)
	if err != nil {
		t.Fatalf("pending record not written: %v", err)
	}
	if record.Status != catalog.PaymentStatusPending {
		t.Errorf("status = %q", record.Status)
	}
	if record.AmountRaw != "10000" || record.Network != "base-sepolia" {
		t.Errorf("record = %+v", record)
	}
}

func TestDuplicateSignatureIsIdempotent(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	fac := newVerifyStub(t, facilitator.VerifyResult{IsValid: true, Payer: "0xAAA"})
	gate := New(repo, fac, nil, nil)

	header := signedHeader(t)
	in := paidInput()
	in.PaymentHeader = header

	for i := 0; i < 2; i++ {
		outcome, err := gate.Evaluate(context.Background(), in)
		if err != nil || !outcome.Proceed {
			t.Fatalf("pass %d: outcome=%+v err=%v", i, outcome, err)
		}
	}

	first, err := repo.GetPaymentBySignature(context.Background(), header)
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != catalog.PaymentStatusPending {
		t.Errorf("status = %q", first.Status)
	}
}

func TestInvalidVerdictIs402WithReasonAndPayer(t *testing.T) {
	fac := newVerifyStub(t, facilitator.VerifyResult{IsValid: false, InvalidReason: "insufficient_funds", Payer: "0xBBB"})
	gate := New(catalog.NewMemoryRepository(), fac, nil, nil)

	in := paidInput()
	in.PaymentHeader = signedHeader(t)

	outcome, err := gate.Evaluate(context.Background(), in)
	if err != nil || outcome.Proceed {
		t.Fatalf("outcome=%+v err=%v", outcome, err)
	}
	resp := decode402(t, outcome.Body)
	if resp.Error != "insufficient_funds" {
		t.Errorf("error = %q", resp.Error)
	}
	if resp.Payer != "0xBBB" {
		t.Errorf("payer = %q", resp.Payer)
	}
	if len(resp.Accepts) != 1 {
		t.Errorf("accepts length = %d", len(resp.Accepts))
	}
}

func TestFacilitatorDownIs402(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	fac := facilitator.New(config.FacilitatorConfig{DefaultURL: server.URL}, nil)
	gate := New(catalog.NewMemoryRepository(), fac, nil, nil)

	in := paidInput()
	in.PaymentHeader = signedHeader(t)

	outcome, err := gate.Evaluate(context.Background(), in)
	if err != nil || outcome.Proceed {
		t.Fatalf("outcome=%+v err=%v", outcome, err)
	}
	if outcome.Status != http.StatusPaymentRequired {
		t.Errorf("status = %d", outcome.Status)
	}
	if resp := decode402(t, outcome.Body); len(resp.Accepts) != 1 {
		t.Errorf("accepts should still advertise the requirement")
	}
}

func TestMalformedHeaderIs402(t *testing.T) {
	gate := New(catalog.NewMemoryRepository(), nil, nil, nil)

	in := paidInput()
	in.PaymentHeader = "!!!not-a-payment!!!"

	outcome, err := gate.Evaluate(context.Background(), in)
	if err != nil || outcome.Proceed {
		t.Fatalf("outcome=%+v err=%v", outcome, err)
	}
	if outcome.Status != http.StatusPaymentRequired {
		t.Errorf("status = %d", outcome.Status)
	}
}

func TestAutoSignSubstitution(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	fac := newVerifyStub(t, facilitator.VerifyResult{IsValid: true})

	strategy, err := signer.NewTestStrategy("")
	if err != nil {
		t.Fatal(err)
	}
	registry := signer.New(signer.Config{
		Enabled:          true,
		FallbackBehavior: signer.FallbackContinue,
		MaxRetries:       1,
		Timeout:          5 * time.Second,
	}, []signer.Strategy{strategy}, nil)

	gate := New(repo, fac, registry, nil)

	in := paidInput()
	in.AuthMethod = "api_key"
	in.User = catalog.User{ID: "u1"}

	outcome, err := gate.Evaluate(context.Background(), in)
	if err != nil || !outcome.Proceed {
		t.Fatalf("outcome=%+v err=%v", outcome, err)
	}
	if outcome.PaymentHeader == "" {
		t.Fatal("auto-sign should have produced a header")
	}
	if _, err := x402.DecodePaymentHeader(outcome.PaymentHeader); err != nil {
		t.Errorf("produced header invalid: %v", err)
	}
}

func TestAutoSignIneligibleWithoutAPIKey(t *testing.T) {
	strategy, _ := signer.NewTestStrategy("")
	registry := signer.New(signer.Config{Enabled: true, MaxRetries: 1, Timeout: time.Second}, []signer.Strategy{strategy}, nil)
	gate := New(catalog.NewMemoryRepository(), nil, registry, nil)

	in := paidInput()
	in.AuthMethod = "none"

	outcome, _ := gate.Evaluate(context.Background(), in)
	if outcome.Proceed {
		t.Error("unauthenticated request must not auto-sign")
	}
}

func TestManagedWalletHeadersEnableAutoSign(t *testing.T) {
	fac := newVerifyStub(t, facilitator.VerifyResult{IsValid: true})
	strategy, _ := signer.NewTestStrategy("")
	registry := signer.New(signer.Config{Enabled: true, MaxRetries: 1, Timeout: time.Second}, []signer.Strategy{strategy}, nil)
	gate := New(catalog.NewMemoryRepository(), fac, registry, nil)

	in := paidInput()
	in.AuthMethod = "none"
	in.WalletProvider = "coinbase-cdp"
	in.WalletType = "managed"

	outcome, err := gate.Evaluate(context.Background(), in)
	if err != nil || !outcome.Proceed {
		t.Fatalf("outcome=%+v err=%v", outcome, err)
	}
}
