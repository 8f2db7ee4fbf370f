// Package onramp turns signed payment notifications from the fiat-to-crypto
// on-ramp into deposit funding.
package onramp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	SignatureHeader = "X-Onramp-Signature"
	signaturePrefix = "sha256="

	EventPaymentCompleted = "payment.completed"
)

// Event is the on-ramp notification body.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData describes a settled purchase delivered into the escrow contract.
// Reference is the deposit reference the renter was shown at checkout.
type EventData struct {
	Reference string          `json:"reference"`
	TxHash    string          `json:"txHash"`
	Amount    decimal.Decimal `json:"amount"`
	Token     string          `json:"token"`
}

// Sign returns the header value for payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature checks a sha256=<hex> header against payload.
func ValidSignature(secret string, payload []byte, header string) bool {
	header = strings.TrimSpace(header)
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(strings.ToLower(header)), []byte(Sign(secret, payload)))
}
