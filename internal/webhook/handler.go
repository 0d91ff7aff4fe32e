package webhook

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"converzia_backend/platform/logger"
)

// maxEnvelopeBytes caps webhook request bodies. Providers batch events but
// stay far below this.
const maxEnvelopeBytes = 1 << 20

// Handler handles inbound webhook HTTP requests. Signature verification
// happens here against the raw body, before any parsing.
type Handler struct {
	service     *Service
	verifier    *Verifier
	verifyToken string
	log         *logger.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(service *Service, verifier *Verifier, verifyToken string, log *logger.Logger) *Handler {
	return &Handler{service: service, verifier: verifier, verifyToken: verifyToken, log: log}
}

// HandleMetaVerify answers Meta's subscription handshake by echoing
// hub.challenge when the verify token matches.
// GET /api/v1/webhooks/meta
func (h *Handler) HandleMetaVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && equalConstantTime(token, h.verifyToken) {
		c.String(http.StatusOK, challenge)
		return
	}

	h.log.WebhookEvent("meta", "handshake", "", false, "verify token mismatch")
	c.JSON(http.StatusForbidden, gin.H{"error": "verification failed"})
}

// HandleMeta ingests a Meta leadgen envelope.
// POST /api/v1/webhooks/meta
func (h *Handler) HandleMeta(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}

	if !h.verifier.VerifyMeta(c.Request.Header, body) {
		h.log.WebhookEvent("meta", "envelope", "", false, "signature verification failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var env MetaEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed envelope"})
		return
	}

	h.service.ProcessMetaEnvelope(c.Request.Context(), env)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleChatwoot ingests a Chatwoot webhook event.
// POST /api/v1/webhooks/chatwoot
func (h *Handler) HandleChatwoot(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}

	if !h.verifier.VerifyChatwoot(c.Request.Header, body) {
		h.log.WebhookEvent("chatwoot", "envelope", "", false, "signature verification failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var env ChatwootEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed envelope"})
		return
	}

	h.service.ProcessChatwootEvent(c.Request.Context(), env)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEnvelopeBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return nil, false
	}
	return body, true
}

// equalConstantTime compares two strings without leaking content or length,
// same scheme as the cron secret check.
func equalConstantTime(a, b string) bool {
	da := sha256.Sum256([]byte(a))
	db := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(da[:], db[:]) == 1
}
