package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestSignatureVerifierAcceptsValidSignature(t *testing.T) {
	verifier, err := NewSignatureVerifier("whsec_test")
	if err != nil {
		t.Fatalf("NewSignatureVerifier returned error: %v", err)
	}

	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write([]byte("pi_123|py_456"))
	signature := hex.EncodeToString(mac.Sum(nil))

	if !verifier.Verify("pi_123", "py_456", signature) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestSignatureVerifierAcceptsUpperCaseHex(t *testing.T) {
	verifier, err := NewSignatureVerifier("whsec_test")
	if err != nil {
		t.Fatalf("NewSignatureVerifier returned error: %v", err)
	}

	signature := verifier.Sign("pi_123", "py_456")
	upper := "  " + toUpper(signature) + "  "

	if !verifier.Verify("pi_123", "py_456", upper) {
		t.Fatal("expected upper-cased signature with whitespace to verify")
	}
}

func TestSignatureVerifierRejectsTamperedPayload(t *testing.T) {
	verifier, err := NewSignatureVerifier("whsec_test")
	if err != nil {
		t.Fatalf("NewSignatureVerifier returned error: %v", err)
	}

	signature := verifier.Sign("pi_123", "py_456")

	cases := []struct {
		name      string
		orderID   string
		paymentID string
		signature string
	}{
		{"wrong order id", "pi_999", "py_456", signature},
		{"wrong payment id", "pi_123", "py_999", signature},
		{"wrong signature", "pi_123", "py_456", verifier.Sign("pi_999", "py_456")},
		{"empty signature", "pi_123", "py_456", ""},
		{"empty order id", "", "py_456", signature},
		{"empty payment id", "pi_123", "", signature},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if verifier.Verify(tc.orderID, tc.paymentID, tc.signature) {
				t.Fatal("expected verification to fail")
			}
		})
	}
}

func TestSignatureVerifierRejectsWrongSecret(t *testing.T) {
	signer, _ := NewSignatureVerifier("whsec_one")
	verifier, _ := NewSignatureVerifier("whsec_two")

	signature := signer.Sign("pi_123", "py_456")
	if verifier.Verify("pi_123", "py_456", signature) {
		t.Fatal("expected signature from different secret to fail")
	}
}

func TestNewSignatureVerifierRequiresSecret(t *testing.T) {
	if _, err := NewSignatureVerifier("  "); err == nil {
		t.Fatal("expected error for blank secret")
	}
}

func toUpper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - ('a' - 'A')
		}
	}
	return string(out)
}
