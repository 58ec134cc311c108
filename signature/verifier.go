package signature

import (
	"crypto/hmac"
	"crypto/sha256"
)

// DefaultToleranceMs is the maximum accepted clock skew between the signing
// timestamp and the verifier's clock, in milliseconds.
const DefaultToleranceMs = 300_000 // 5 minutes

// Verify checks whether sig matches the expected HMAC-SHA256 signature for
// the payload, secret, and timestamp, and that the timestamp falls within
// toleranceMs of nowMs. Signatures outside the tolerance window are rejected
// to limit replay.
//
// The comparison hashes both candidates before the constant-time equality
// check so that a length mismatch cannot short-circuit in variable time.
func Verify(payload []byte, sig, secret string, timestampMs, nowMs, toleranceMs int64) bool {
	skew := nowMs - timestampMs
	if skew < 0 {
		skew = -skew
	}
	if skew > toleranceMs {
		return false
	}

	expected := Sign(payload, secret, timestampMs)
	return equalConstantTime(expected, sig)
}

// VerifyHeader parses a "t=...,sha256=..." header value and verifies it
// against the payload using the default tolerance.
func VerifyHeader(payload []byte, headerValue, secret string, nowMs int64) bool {
	h, ok := ParseHeader(headerValue)
	if !ok {
		return false
	}
	return Verify(payload, h.Signature, secret, h.TimestampMs, nowMs, DefaultToleranceMs)
}

// equalConstantTime compares two strings in constant time after equalizing
// their lengths through SHA-256.
func equalConstantTime(a, b string) bool {
	da := sha256.Sum256([]byte(a))
	db := sha256.Sum256([]byte(b))
	return hmac.Equal(da[:], db[:])
}
