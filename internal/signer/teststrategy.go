package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mcpay/gateway/pkg/x402"
)

// testNetworks are the EVM networks the test strategy will sign on. Mainnet
// is deliberately excluded so a misconfigured test deployment can never
// authorize real funds.
var testNetworks = map[string]struct{}{
	x402.NetworkBaseSepolia: {},
	x402.NetworkSeiTestnet:  {},
}

// TestStrategy signs payments with a process-wide throwaway key. It is only
// registered when the gateway runs in test mode and outranks every
// production strategy so tests exercise the auto-sign path deterministically.
type TestStrategy struct {
	key *ecdsa.PrivateKey
}

// NewTestStrategy parses a hex-encoded secp256k1 private key. An empty
// keyHex generates a fresh throwaway key.
func NewTestStrategy(keyHex string) (*TestStrategy, error) {
	if keyHex == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("signer: generate test key: %w", err)
		}
		return &TestStrategy{key: key}, nil
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("signer: parse test key: %w", err)
	}
	return &TestStrategy{key: key}, nil
}

func (s *TestStrategy) Name() string { return "test" }

func (s *TestStrategy) Priority() int { return 1000 }

// Address returns the strategy's signing address.
func (s *TestStrategy) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

func (s *TestStrategy) CanSign(ctx context.Context, sc SignContext) bool {
	_, ok := testNetworks[sc.Requirement.Network]
	return ok
}

// SignPayment builds and signs an EIP-3009-shaped authorization for the
// required amount, valid for the requirement's timeout window.
func (s *TestStrategy) SignPayment(ctx context.Context, sc SignContext) (Result, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return Result{OK: false}, fmt.Errorf("signer: nonce: %w", err)
	}

	timeout := sc.Requirement.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = x402.DefaultMaxTimeoutSeconds
	}
	now := time.Now().Unix()

	authorization := x402.ExactEVMAuthorization{
		From:        s.Address(),
		To:          sc.Requirement.PayTo,
		Value:       sc.AmountRaw,
		ValidAfter:  "0",
		ValidBefore: strconv.FormatInt(now+int64(timeout), 10),
		Nonce:       "0x" + hex.EncodeToString(nonce),
	}

	digest, err := authorizationDigest(authorization)
	if err != nil {
		return Result{OK: false}, err
	}
	signature, err := crypto.Sign(digest, s.key)
	if err != nil {
		return Result{OK: false}, fmt.Errorf("signer: sign: %w", err)
	}

	header, err := x402.EncodePaymentHeader(x402.PaymentPayload{
		X402Version: x402.SupportedVersion,
		Scheme:      x402.SchemeExact,
		Network:     sc.Requirement.Network,
		Payload: x402.ExactEVMPayload{
			Signature:     "0x" + hex.EncodeToString(signature),
			Authorization: authorization,
		},
	})
	if err != nil {
		return Result{OK: false}, err
	}

	return Result{OK: true, Header: header, WalletAddress: authorization.From}, nil
}

// authorizationDigest hashes the canonical JSON of the authorization tuple.
// Test-only: the facilitator stub in tests accepts any well-formed
// signature, so no EIP-712 domain separation is involved.
func authorizationDigest(auth x402.ExactEVMAuthorization) ([]byte, error) {
	data, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal authorization: %w", err)
	}
	return crypto.Keccak256(data), nil
}
