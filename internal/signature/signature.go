package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Header carries the carrier's webhook signature.
const Header = "X-Webhook-Signature"

// Validator checks webhook authenticity with an HMAC-SHA256 over the raw
// request body, keyed by the shared secret configured with the carrier.
type Validator struct {
	secret []byte
}

func NewValidator(secret string) (*Validator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &Validator{secret: []byte(secret)}, nil
}

// Sign computes the hex-encoded signature for a payload. Used by tests and
// by operators replaying webhooks manually.
func (v *Validator) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Valid reports whether the presented signature matches the payload.
// Comparison is constant-time.
func (v *Validator) Valid(body []byte, presented string) bool {
	if v == nil || strings.TrimSpace(presented) == "" {
		return false
	}

	expected, err := hex.DecodeString(strings.TrimSpace(presented))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
