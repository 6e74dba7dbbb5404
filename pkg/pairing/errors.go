// Package pairing implements one-time pairing code issuance and consumption,
// session token minting and validation, and the paired-device registry.
package pairing

import "errors"

// Pairing errors: outcomes of consuming a code. Each names the specific
// recoverable cause so the offering flow can retry with a fresh code.
var (
	// ErrCodeConsumed indicates the code was already redeemed exactly once.
	ErrCodeConsumed = errors.New("pairing code already consumed")

	// ErrCodeExpired indicates the code's TTL elapsed before any redemption.
	ErrCodeExpired = errors.New("pairing code expired")

	// ErrMalformedCode indicates the presented code is not a code we could
	// ever have issued.
	ErrMalformedCode = errors.New("malformed pairing code")
)

// Authorization errors: outcomes of validating a session token.
var (
	// ErrUnknownToken indicates no device record matches the token.
	ErrUnknownToken = errors.New("unknown token")

	// ErrTokenExpired indicates the device must re-pair.
	ErrTokenExpired = errors.New("token expired")

	// ErrDeviceRevoked indicates the device was revoked by an operator.
	ErrDeviceRevoked = errors.New("device revoked")

	// ErrFingerprintMismatch indicates the presented certificate differs from
	// the one pinned at pairing time. Always fatal to the connection.
	ErrFingerprintMismatch = errors.New("certificate fingerprint mismatch")
)
