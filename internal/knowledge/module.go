// Package knowledge provides the tenant knowledge base bounded context
// module: document intake, vector indexing, similarity search, and grounded
// question answering.
package knowledge

import (
	"converzia_backend/internal/events"
	apphttp "converzia_backend/internal/http"
	"converzia_backend/internal/knowledge/embedcache"
	"converzia_backend/internal/knowledge/handler"
	"converzia_backend/internal/knowledge/repository"
	"converzia_backend/internal/knowledge/service"
	"converzia_backend/platform/ai/embeddings"
	"converzia_backend/platform/config"
	"converzia_backend/platform/logger"
	"converzia_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the knowledge bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the knowledge module. The upstream
// embedder is wrapped in the bounded in-memory cache so repeated chunk and
// query texts skip the embeddings API. answerer and storage may be nil when
// Gemini or MinIO is not configured.
func NewModule(
	cfg config.EmbeddingConfig,
	pool *pgxpool.Pool,
	upstream embeddings.Embedder,
	answerer service.Answerer,
	storage service.Storage,
	tasks service.TaskEnqueuer,
	bus events.Bus,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	repo := repository.New(pool)
	cache := embedcache.New(cfg.GetEmbeddingCacheCapacity(), cfg.GetEmbeddingCacheTTL())
	embedder := service.NewCachedEmbedder(upstream, cache)
	svc := service.New(repo, embedder, answerer, storage, tasks, bus, log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "knowledge"
}

// Service returns the service layer for use by the scheduler worker and the
// reindex command.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts knowledge base routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/knowledge")
	group.POST("/documents", m.handler.UploadDocument)
	group.GET("/documents", m.handler.ListDocuments)
	group.GET("/documents/:id", m.handler.GetDocument)
	group.DELETE("/documents/:id", m.handler.DeleteDocument)
	group.POST("/search", m.handler.Search)
	group.POST("/ask", m.handler.Ask)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
