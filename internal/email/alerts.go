package email

import (
	"context"
	"fmt"

	"converzia_backend/internal/events"
	"converzia_backend/platform/logger"
)

// Alerter turns delivery lifecycle events into operational email.
type Alerter struct {
	sender Sender
	log    *logger.Logger
}

// NewAlerter creates the event-driven alert mailer.
func NewAlerter(sender Sender, log *logger.Logger) *Alerter {
	return &Alerter{sender: sender, log: log}
}

// RegisterHandlers subscribes the alerter to the events it cares about.
func (a *Alerter) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.DeliveryExhausted{}.EventName(), a)
}

// Handle implements events.Handler.
func (a *Alerter) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.DeliveryExhausted:
		return a.handleDeliveryExhausted(ctx, e)
	default:
		return nil
	}
}

func (a *Alerter) handleDeliveryExhausted(ctx context.Context, e events.DeliveryExhausted) error {
	err := a.sender.SendDeliveryAlert(ctx, AlertData{
		DeliveryID:   e.DeliveryID,
		TenantID:     e.TenantID,
		LeadID:       e.LeadID,
		RetryCount:   e.RetryCount,
		ErrorMessage: e.ErrorMessage,
	})
	if err != nil {
		return fmt.Errorf("send delivery alert for %s: %w", e.DeliveryID, err)
	}

	a.log.Info("delivery alert sent",
		"deliveryId", e.DeliveryID,
		"tenantId", e.TenantID,
	)
	return nil
}
