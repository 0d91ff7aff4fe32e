// Package delivery owns the handoff of qualified leads to tenant
// integrations. Ready offers become pending delivery records; a processor
// claims due records in batches, posts signed payloads to webhook
// integrations and mails email integrations, and retries failures up to a
// ceiling before parking the record as failed.
package delivery

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"converzia_backend/internal/email"
	"converzia_backend/internal/events"
	apphttp "converzia_backend/internal/http"
	"converzia_backend/platform/apperr"
	"converzia_backend/platform/config"
	"converzia_backend/platform/logger"
	"converzia_backend/platform/validator"
)

// LeadService is the slice of the leads module the delivery module depends
// on. The leads service satisfies it.
type LeadService interface {
	LeadSource
	OfferExpirer
}

// Module is the delivery bounded context module implementing http.Module.
type Module struct {
	handler   *Handler
	processor *Processor
	repo      Repository
	log       *logger.Logger
}

// NewModule creates and initializes the delivery module with all its
// dependencies.
func NewModule(
	cfg config.DeliveryConfig,
	pool *pgxpool.Pool,
	integrations IntegrationSource,
	leads LeadService,
	mailer email.Sender,
	bus events.Bus,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	repo := NewRepository(pool)
	sender := NewSender(cfg)
	processor := NewProcessor(cfg, repo, integrations, leads, sender, mailer, bus, log)
	h := NewHandler(processor, repo, leads, val)

	return &Module{
		handler:   h,
		processor: processor,
		repo:      repo,
		log:       log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "delivery"
}

// Processor returns the delivery processor for use by the scheduler module.
func (m *Module) Processor() *Processor {
	return m.processor
}

// Repository returns the delivery store for use by the scheduler dispatcher.
func (m *Module) Repository() Repository {
	return m.repo
}

// RegisterRoutes mounts delivery routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Cron.GET("/process-deliveries", m.handler.HandleProcessDeliveries)
	ctx.Cron.GET("/expire-offers", m.handler.HandleExpireOffers)

	deliveries := ctx.Protected.Group("/deliveries")
	deliveries.GET("", m.handler.ListDeliveries)
	deliveries.GET("/:id", m.handler.GetDelivery)
	deliveries.POST("/:id/retry", m.handler.RetryDelivery)
}

// RegisterHandlers subscribes the module to the domain events it reacts to.
func (m *Module) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.OfferReady{}.EventName(), m)
}

// Handle implements events.Handler.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.OfferReady:
		return m.handleOfferReady(ctx, e)
	default:
		return nil
	}
}

// handleOfferReady opens a pending delivery for a ready offer. The open-record
// uniqueness on lead_offer_id makes replays harmless.
func (m *Module) handleOfferReady(ctx context.Context, e events.OfferReady) error {
	rec, err := m.repo.Create(ctx, CreateParams{
		TenantID:    e.TenantID,
		LeadID:      e.LeadID,
		LeadOfferID: e.LeadOfferID,
	})
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			m.log.Info("delivery already open for offer",
				"tenantId", e.TenantID, "leadOfferId", e.LeadOfferID)
			return nil
		}
		return fmt.Errorf("create delivery for offer %s: %w", e.LeadOfferID, err)
	}

	m.log.Info("delivery created",
		"deliveryId", rec.ID,
		"tenantId", e.TenantID,
		"leadId", e.LeadID,
		"leadOfferId", e.LeadOfferID,
	)
	return nil
}

// Compile-time check that Module implements http.Module.
var _ apphttp.Module = (*Module)(nil)
