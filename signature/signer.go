// Package signature provides HMAC-SHA256 webhook signing and verification.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sign generates the HMAC-SHA256 signature for the given payload.
// The content to sign is "{timestampMs}.{payload}", where timestampMs is the
// attempt timestamp in epoch milliseconds.
// Returns a signature in the format "sha256=<hex>".
func Sign(payload []byte, secret string, timestampMs int64) string {
	content := fmt.Sprintf("%d.%s", timestampMs, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
