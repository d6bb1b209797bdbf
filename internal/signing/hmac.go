package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	HeaderName = "X-Webhook-Signature"
	prefix     = "sha256="
)

// Sign returns the lowercase hex HMAC-SHA256 of payload. payload must be the
// exact bytes put on the wire.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header formats a signature for the X-Webhook-Signature header.
func Header(signature string) string {
	return prefix + signature
}

// Verify recomputes the signature over payload and compares it with provided
// in constant time. The "sha256=" prefix on provided is optional.
func Verify(payload []byte, provided, secret string) bool {
	if secret == "" || provided == "" {
		return false
	}
	provided = strings.TrimPrefix(strings.TrimSpace(provided), prefix)
	got, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), got)
}
