// Package email sends transactional mail: lead handoffs to email-type
// integrations and operational alerts when deliveries exhaust their retries.
package email

import (
	"context"

	"github.com/google/uuid"

	"converzia_backend/platform/config"
	"converzia_backend/platform/logger"
)

// AlertData is everything a delivery-failure alert mail needs. Alerts go to
// the configured operations address.
type AlertData struct {
	DeliveryID   uuid.UUID
	TenantID     uuid.UUID
	LeadID       uuid.UUID
	RetryCount   int
	ErrorMessage string
}

// HandoffData is everything a lead handoff mail needs.
type HandoffData struct {
	To         string
	LeadName   string
	LeadEmail  string
	LeadPhone  string
	Source     string
	Fields     map[string]any
	DeliveryID uuid.UUID
}

// Sender sends transactional email.
type Sender interface {
	// SendDeliveryAlert notifies operations that a delivery hit the retry
	// ceiling.
	SendDeliveryAlert(ctx context.Context, data AlertData) error
	// SendLeadHandoff mails a qualified lead summary to an email-type
	// integration destination.
	SendLeadHandoff(ctx context.Context, data HandoffData) error
}

// NewFromConfig picks the SMTP sender when mail is configured and the noop
// sender otherwise, so callers never branch on configuration.
func NewFromConfig(cfg config.SMTPConfig, log *logger.Logger) Sender {
	if cfg.IsSMTPEnabled() {
		return NewSMTPSender(cfg)
	}
	log.Warn("smtp not configured, email delivery disabled")
	return NewNoopSender(log)
}

// NoopSender logs instead of sending. Used in development and in
// deployments without SMTP credentials.
type NoopSender struct {
	log *logger.Logger
}

// NewNoopSender creates a sender that only logs.
func NewNoopSender(log *logger.Logger) *NoopSender {
	return &NoopSender{log: log}
}

func (s *NoopSender) SendDeliveryAlert(_ context.Context, data AlertData) error {
	s.log.Info("email skipped (noop sender)",
		"kind", "delivery_alert", "deliveryId", data.DeliveryID)
	return nil
}

func (s *NoopSender) SendLeadHandoff(_ context.Context, data HandoffData) error {
	s.log.Info("email skipped (noop sender)",
		"kind", "lead_handoff", "to", data.To, "deliveryId", data.DeliveryID)
	return nil
}

var _ Sender = (*NoopSender)(nil)
