package esewa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// SignedFieldNames lists the request fields covered by the signature, in signing order
const SignedFieldNames = "total_amount,transaction_uuid,product_code"

// Signer computes eSewa HMAC-SHA256 signatures
type Signer struct {
	key []byte
}

// NewSigner creates a signer for the merchant secret key
func NewSigner(secretKey string) (*Signer, error) {
	if secretKey == "" {
		return nil, &ConfigurationError{Message: "cannot create signer", Err: ErrMissingSecretKey}
	}
	return &Signer{key: []byte(secretKey)}, nil
}

// Sign returns base64(HMAC-SHA256(key, message))
func (s *Signer) Sign(message string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature in constant time
func (s *Signer) Verify(message, signature string) bool {
	expected := s.Sign(message)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// RequestMessage builds the canonical message signed for a payment request.
// The field order is fixed by the gateway.
func RequestMessage(totalAmount, transactionUUID, productCode string) string {
	return fmt.Sprintf("total_amount=%s,transaction_uuid=%s,product_code=%s",
		totalAmount, transactionUUID, productCode)
}

// FieldsMessage builds a message from the named fields, in the order given
// by signedFieldNames. Used for signatures on inbound callbacks.
func FieldsMessage(signedFieldNames string, fields map[string]string) (string, error) {
	names := strings.Split(signedFieldNames, ",")
	parts := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		value, ok := fields[name]
		if !ok {
			return "", fmt.Errorf("signed field %q not present", name)
		}
		parts = append(parts, name+"="+value)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no signed fields listed")
	}
	return strings.Join(parts, ","), nil
}
