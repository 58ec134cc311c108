package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/signalworks/herald/signature"
)

func TestSignKnownVector(t *testing.T) {
	payload := []byte(`{"event":"test"}`)
	secret := "whsec_testsecret123"
	timestampMs := int64(1700000000000)

	got := signature.Sign(payload, secret, timestampMs)

	// Compute expected HMAC-SHA256 independently.
	content := fmt.Sprintf("%d.%s", timestampMs, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if got != expected {
		t.Errorf("Sign() = %q, want %q", got, expected)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"invoice_id":"inv_01h2x","amount":9900}`)
	secret := "whsec_roundtripsecret"
	timestampMs := int64(1700000001000)

	sig := signature.Sign(payload, secret, timestampMs)
	if !signature.Verify(payload, sig, secret, timestampMs, timestampMs, signature.DefaultToleranceMs) {
		t.Error("Verify() returned false for valid signature")
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	payload := []byte(`{"original":true}`)
	secret := "whsec_tampersecret"
	timestampMs := int64(1700000002000)

	sig := signature.Sign(payload, secret, timestampMs)

	tampered := []byte(`{"original":false}`)
	if signature.Verify(tampered, sig, secret, timestampMs, timestampMs, signature.DefaultToleranceMs) {
		t.Error("Verify() returned true for tampered payload")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	payload := []byte(`{"data":"value"}`)
	secret := "whsec_correct"
	timestampMs := int64(1700000003000)

	sig := signature.Sign(payload, secret, timestampMs)

	if signature.Verify(payload, sig, "whsec_wrong", timestampMs, timestampMs, signature.DefaultToleranceMs) {
		t.Error("Verify() returned true for wrong secret")
	}
}

func TestVerifyToleranceBoundary(t *testing.T) {
	payload := []byte(`{"data":"value"}`)
	secret := "whsec_tolerancesecret"
	timestampMs := int64(1700000004000)
	tolerance := int64(1000)

	sig := signature.Sign(payload, secret, timestampMs)

	// Skew exactly at the tolerance is accepted.
	if !signature.Verify(payload, sig, secret, timestampMs, timestampMs+tolerance, tolerance) {
		t.Error("Verify() rejected signature with skew == tolerance")
	}

	// One past the tolerance is rejected, in both directions.
	if signature.Verify(payload, sig, secret, timestampMs, timestampMs+tolerance+1, tolerance) {
		t.Error("Verify() accepted signature with skew > tolerance")
	}
	if signature.Verify(payload, sig, secret, timestampMs, timestampMs-tolerance-1, tolerance) {
		t.Error("Verify() accepted signature with negative skew > tolerance")
	}
}

func TestSignatureFormat(t *testing.T) {
	sig := signature.Sign([]byte("test"), "secret", 123)

	if len(sig) < 7 || sig[:7] != "sha256=" {
		t.Errorf("signature should start with 'sha256=', got %q", sig)
	}

	// sha256= prefix (7) + 64 hex chars (SHA256 = 32 bytes = 64 hex)
	if len(sig) != 71 {
		t.Errorf("expected signature length 71, got %d", len(sig))
	}
}

func TestFormatParseHeaderRoundTrip(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)
	secret := "whsec_headersecret"
	timestampMs := int64(1700000005000)

	sig := signature.Sign(payload, secret, timestampMs)
	value := signature.FormatHeader(sig, timestampMs)

	h, ok := signature.ParseHeader(value)
	if !ok {
		t.Fatalf("ParseHeader(%q) failed", value)
	}
	if h.TimestampMs != timestampMs {
		t.Errorf("TimestampMs = %d, want %d", h.TimestampMs, timestampMs)
	}
	if h.Signature != sig {
		t.Errorf("Signature = %q, want %q", h.Signature, sig)
	}
}

func TestParseHeaderMalformed(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"missing signature", "t=1700000000000"},
		{"missing timestamp", "sha256=abcdef"},
		{"non-numeric timestamp", "t=abc,sha256=abcdef"},
		{"empty signature value", "t=1700000000000,sha256="},
		{"no equals", "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := signature.ParseHeader(tt.value); ok {
				t.Errorf("ParseHeader(%q) succeeded, want failure", tt.value)
			}
		})
	}
}

func TestParseHeaderFieldReordering(t *testing.T) {
	h, ok := signature.ParseHeader("sha256=deadbeef,t=42")
	if !ok {
		t.Fatal("ParseHeader failed on reordered fields")
	}
	if h.TimestampMs != 42 {
		t.Errorf("TimestampMs = %d, want 42", h.TimestampMs)
	}
	if h.Signature != "sha256=deadbeef" {
		t.Errorf("Signature = %q, want sha256=deadbeef", h.Signature)
	}
}

func TestVerifyHeader(t *testing.T) {
	payload := []byte(`{"n":1}`)
	secret := "whsec_verifyheader"
	timestampMs := int64(1700000006000)

	value := signature.FormatHeader(signature.Sign(payload, secret, timestampMs), timestampMs)

	if !signature.VerifyHeader(payload, value, secret, timestampMs+1000) {
		t.Error("VerifyHeader() returned false for valid header")
	}
	if signature.VerifyHeader(payload, value, "whsec_other", timestampMs+1000) {
		t.Error("VerifyHeader() returned true for wrong secret")
	}
	if signature.VerifyHeader(payload, "not-a-header", secret, timestampMs) {
		t.Error("VerifyHeader() returned true for malformed header")
	}
}
