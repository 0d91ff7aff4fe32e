// Package tenants provides the tenants bounded context module.
// It manages tenant records, their Meta/Chatwoot channel bindings, and the
// delivery integrations (webhook or email) that receive qualified leads.
package tenants

import (
	apphttp "converzia_backend/internal/http"
	"converzia_backend/internal/tenants/handler"
	"converzia_backend/internal/tenants/repository"
	"converzia_backend/internal/tenants/service"
	"converzia_backend/platform/logger"
	"converzia_backend/platform/secretbox"
	"converzia_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the tenants bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    repository.Repository
}

// NewModule creates and initializes the tenants module with all its dependencies.
func NewModule(pool *pgxpool.Pool, box *secretbox.Box, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, box, log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "tenants"
}

// Service returns the service layer for use by the webhook and delivery modules.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the repository for direct access if needed.
func (m *Module) Repository() repository.Repository {
	return m.repo
}

// RegisterRoutes mounts tenant routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Admin-only tenant CRUD
	adminGroup := ctx.Admin.Group("/tenants")
	adminGroup.GET("", m.handler.ListTenants)
	adminGroup.POST("", m.handler.CreateTenant)
	adminGroup.GET("/:id", m.handler.GetTenant)
	adminGroup.PATCH("/:id", m.handler.UpdateTenant)

	// Tenant-scoped integration management
	integGroup := ctx.Protected.Group("/integrations")
	integGroup.GET("", m.handler.ListIntegrations)
	integGroup.POST("", m.handler.CreateIntegration)
	integGroup.GET("/:id", m.handler.GetIntegration)
	integGroup.PATCH("/:id", m.handler.UpdateIntegration)
	integGroup.DELETE("/:id", m.handler.DeleteIntegration)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
