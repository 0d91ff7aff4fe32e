package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Provider signature headers. Meta prefixes the hex digest with "sha256=";
// Chatwoot sends the bare hex digest.
const (
	metaSignatureHeader     = "X-Hub-Signature-256"
	metaSignaturePrefix     = "sha256="
	chatwootSignatureHeader = "X-Chatwoot-HMAC-SHA256"
)

// Verifier checks inbound webhook signatures. Every check is computed over
// the exact raw request bytes and compared in constant time. A missing
// secret fails closed: an unconfigured provider rejects all traffic rather
// than accepting it unsigned.
type Verifier struct {
	metaSecret     []byte
	chatwootSecret []byte
}

// NewVerifier creates a verifier from the per-provider webhook secrets.
func NewVerifier(metaAppSecret, chatwootHMACSecret string) *Verifier {
	return &Verifier{
		metaSecret:     []byte(metaAppSecret),
		chatwootSecret: []byte(chatwootHMACSecret),
	}
}

// VerifyMeta reports whether the X-Hub-Signature-256 header matches the
// HMAC-SHA256 of body under the Meta app secret.
func (v *Verifier) VerifyMeta(header http.Header, body []byte) bool {
	raw := header.Get(metaSignatureHeader)
	if !strings.HasPrefix(raw, metaSignaturePrefix) {
		return false
	}
	return verifyHex(v.metaSecret, strings.TrimPrefix(raw, metaSignaturePrefix), body)
}

// VerifyChatwoot reports whether the X-Chatwoot-HMAC-SHA256 header matches
// the HMAC-SHA256 of body under the Chatwoot HMAC secret.
func (v *Verifier) VerifyChatwoot(header http.Header, body []byte) bool {
	return verifyHex(v.chatwootSecret, header.Get(chatwootSignatureHeader), body)
}

// verifyHex recomputes the body digest and compares it against the provided
// hex signature. Absent secret, absent signature, and malformed hex all
// return false; nothing here panics or leaks timing.
func verifyHex(secret []byte, hexSignature string, body []byte) bool {
	if len(secret) == 0 || hexSignature == "" {
		return false
	}

	provided, err := hex.DecodeString(hexSignature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
