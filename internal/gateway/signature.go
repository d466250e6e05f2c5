// Package gateway talks to the external payment provider: it signs
// payment-initiation requests and verifies callback signatures.
package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

func sha256Hex(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// CallbackSignature is hex(SHA256(order_id ∥ amount ∥ status ∥ transaction_id ∥ secret)).
// amount is the exact text the provider sent.
func CallbackSignature(orderID, amount, status, transactionID, secret string) string {
	return sha256Hex(orderID, amount, status, transactionID, secret)
}

// VerifyCallback compares a received signature in constant time.
func VerifyCallback(orderID, amount, status, transactionID, secret, signature string) bool {
	want := CallbackSignature(orderID, amount, status, transactionID, secret)
	got := strings.ToLower(strings.TrimSpace(signature))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// InitSignature signs an outbound payment initiation:
// hex(SHA256(merchant_id ∥ order_id ∥ amount ∥ secret)).
func InitSignature(merchantID, orderID, amount, secret string) string {
	return sha256Hex(merchantID, orderID, amount, secret)
}
