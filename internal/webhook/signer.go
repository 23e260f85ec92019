// Package webhook implements the delivery engine: registration, queueing,
// HMAC signing, the SSRF guard, the retry policy, and the dispatch worker.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign produces the lowercase hex HMAC-SHA256 of payload under secret. The
// receiver verifies the same value from the X-Webhook-Signature header.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a presented signature in constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	want := Sign(payload, secret)
	if len(signature) != len(want) {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(want))
}
