package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"converzia_backend/platform/config"
)

// Payload is the JSON body webhook integrations receive.
type Payload struct {
	DeliveryID uuid.UUID    `json:"delivery_id"`
	TenantID   uuid.UUID    `json:"tenant_id"`
	Lead       LeadPayload  `json:"lead"`
	Offer      OfferPayload `json:"offer"`
	SentAt     time.Time    `json:"sent_at"`
}

// LeadPayload is the lead as delivered to an integration.
type LeadPayload struct {
	ID        uuid.UUID      `json:"id"`
	FullName  string         `json:"full_name"`
	Email     string         `json:"email,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Source    string         `json:"source"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// OfferPayload is the qualified offer behind the delivery.
type OfferPayload struct {
	ID          uuid.UUID  `json:"id"`
	Status      string     `json:"status"`
	QualifiedAt *time.Time `json:"qualified_at,omitempty"`
}

// Sender posts signed lead payloads to webhook integrations.
type Sender struct {
	httpClient *http.Client
}

// NewSender creates a sender whose requests time out at the configured
// delivery timeout.
func NewSender(cfg config.DeliveryConfig) *Sender {
	return &Sender{
		httpClient: &http.Client{Timeout: cfg.GetDeliveryTimeout()},
	}
}

// Send POSTs the payload to url, signed under the integration's secret.
// Any 2xx response is success; everything else is an error carrying the
// status and a snippet of the response body.
func (s *Sender) Send(ctx context.Context, url, secret string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(secret, body))
	req.Header.Set(TimestampHeader, strconv.FormatInt(time.Now().UTC().Unix(), 10))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return nil
}
