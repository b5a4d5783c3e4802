package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureVerifier checks gateway callback signatures using HMAC-SHA256.
//
// The signed payload is "<gatewayOrderID>|<gatewayPaymentID>" and the expected
// signature is hex encoded. Comparison is constant time.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier constructs a verifier bound to the shared signing secret.
func NewSignatureVerifier(secret string) (*SignatureVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("payments: signing secret is required")
	}
	return &SignatureVerifier{secret: []byte(secret)}, nil
}

// Verify reports whether signature matches the expected HMAC over the
// gateway order and payment identifiers.
func (v *SignatureVerifier) Verify(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if v == nil || len(v.secret) == 0 {
		return false
	}
	if gatewayOrderID == "" || gatewayPaymentID == "" || signature == "" {
		return false
	}

	expected := v.Sign(gatewayOrderID, gatewayPaymentID)
	provided := strings.TrimSpace(strings.ToLower(signature))
	return hmac.Equal([]byte(expected), []byte(provided))
}

// Sign computes the hex encoded HMAC for the given identifier pair.
func (v *SignatureVerifier) Sign(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(gatewayOrderID))
	mac.Write([]byte("|"))
	mac.Write([]byte(gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
