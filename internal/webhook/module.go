package webhook

import (
	apphttp "converzia_backend/internal/http"
	"converzia_backend/platform/config"
	"converzia_backend/platform/logger"
)

// Config is the narrow configuration surface the webhook module reads.
type Config interface {
	config.MetaConfig
	config.ChatwootConfig
}

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule creates and initializes the webhook module with all its dependencies.
func NewModule(cfg Config, tenants TenantResolver, leads LeadIngestor, log *logger.Logger) *Module {
	verifier := NewVerifier(cfg.GetMetaAppSecret(), cfg.GetChatwootHMACSecret())
	graph := NewGraphClient(cfg)
	service := NewService(tenants, leads, graph, log)
	handler := NewHandler(service, verifier, cfg.GetMetaVerifyToken(), log)

	return &Module{handler: handler}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts the public webhook routes on the provided router
// context. Both providers sign their requests; the rate limiter keeps
// unsigned junk cheap.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	hooks := ctx.V1.Group("/webhooks")
	hooks.Use(ctx.WebhookRateLimiter.RateLimit())
	hooks.GET("/meta", m.handler.HandleMetaVerify)
	hooks.POST("/meta", m.handler.HandleMeta)
	hooks.POST("/chatwoot", m.handler.HandleChatwoot)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
