package x402

import "errors"

// Header decode/validation failures. All of these surface to the client as a
// 402 challenge, never as a 4xx/5xx of their own.
var (
	ErrEmptyHeader        = errors.New("x402: empty payment header")
	ErrMalformedHeader    = errors.New("x402: malformed payment header")
	ErrUnsupportedVersion = errors.New("x402: unsupported protocol version")
	ErrUnsupportedScheme  = errors.New("x402: unsupported payment scheme")
	ErrInvalidAddress     = errors.New("x402: invalid EVM address")
)

// Facilitator interaction failures.
var (
	ErrFacilitatorUnavailable = errors.New("x402: facilitator unavailable")
	ErrVerificationFailed     = errors.New("x402: payment verification failed")
	ErrSettlementFailed       = errors.New("x402: payment settlement failed")
)
