// Package leads provides the lead funnel bounded context module.
// It ingests provider leads, walks each lead offer through the
// qualification funnel, and exposes the portal's lead, offer, and
// funnel read models.
package leads

import (
	"converzia_backend/internal/events"
	apphttp "converzia_backend/internal/http"
	"converzia_backend/internal/leads/handler"
	"converzia_backend/internal/leads/repository"
	"converzia_backend/internal/leads/service"
	"converzia_backend/platform/logger"
	"converzia_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the leads module with all its dependencies.
func NewModule(pool *pgxpool.Pool, bus events.Bus, cfg service.Config, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, bus, cfg, log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Service returns the service layer for use by the webhook, delivery, and
// scheduler modules.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts lead funnel routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	leadGroup := ctx.Protected.Group("/leads")
	leadGroup.GET("", m.handler.ListLeads)
	leadGroup.GET("/:id", m.handler.GetLead)

	ctx.Protected.GET("/funnel", m.handler.GetFunnel)

	offerGroup := ctx.Protected.Group("/offers")
	offerGroup.GET("", m.handler.ListOffers)
	offerGroup.POST("", m.handler.CreateOffer)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
