package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Outbound signature headers. Receivers recompute the body HMAC under their
// integration secret and compare against X-Converzia-Signature.
const (
	SignatureHeader = "X-Converzia-Signature"
	TimestampHeader = "X-Converzia-Timestamp"

	signatureVersionPrefix = "v1="
)

// Sign produces the signature header value for an outbound payload:
// "v1=" + hex(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signatureVersionPrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign. Comparison is constant-time;
// malformed signatures return false. Receivers can use this to validate
// deliveries end to end.
func Verify(secret string, body []byte, signature string) bool {
	if secret == "" || !strings.HasPrefix(signature, signatureVersionPrefix) {
		return false
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(signature, signatureVersionPrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
