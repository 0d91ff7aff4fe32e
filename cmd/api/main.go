package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"converzia_backend/internal/delivery"
	"converzia_backend/internal/email"
	"converzia_backend/internal/events"
	apphttp "converzia_backend/internal/http"
	"converzia_backend/internal/http/router"
	"converzia_backend/internal/knowledge"
	knowledgeservice "converzia_backend/internal/knowledge/service"
	"converzia_backend/internal/leads"
	"converzia_backend/internal/scheduler"
	"converzia_backend/internal/storage"
	"converzia_backend/internal/tenants"
	"converzia_backend/internal/webhook"
	"converzia_backend/platform/ai/embeddings"
	"converzia_backend/platform/ai/gemini"
	"converzia_backend/platform/config"
	"converzia_backend/platform/db"
	"converzia_backend/platform/logger"
	"converzia_backend/platform/secretbox"
	"converzia_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// At-rest encryption for integration credentials
	box, err := secretbox.New(cfg.GetIntegrationSecretKey())
	if err != nil {
		log.Error("failed to initialize secret box", "error", err)
		panic("failed to initialize secret box: " + err.Error())
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	sender := email.NewFromConfig(cfg, log)

	// Task client for async work (document indexing). The scheduler binary
	// runs the matching worker.
	taskClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task client", "error", err)
		panic("failed to initialize task client: " + err.Error())
	}
	defer func() { _ = taskClient.Close() }()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	tenantsModule := tenants.NewModule(pool, box, val, log)
	leadsModule := leads.NewModule(pool, eventBus, cfg, val, log)
	webhookModule := webhook.NewModule(cfg, tenantsModule.Service(), leadsModule.Service(), log)
	deliveryModule := delivery.NewModule(cfg, pool, tenantsModule.Service(), leadsModule.Service(), sender, eventBus, val, log)

	// Delivery opens a pending record for every ready offer; the alerter
	// mails operations when a delivery exhausts its retries.
	deliveryModule.RegisterHandlers(eventBus)
	email.NewAlerter(sender, log).RegisterHandlers(eventBus)

	modules := []apphttp.Module{
		tenantsModule,
		leadsModule,
		webhookModule,
		deliveryModule,
	}

	if cfg.IsEmbeddingEnabled() {
		embedClient := embeddings.NewClient(embeddings.Config{
			BaseURL: cfg.GetEmbeddingAPIURL(),
			APIKey:  cfg.GetEmbeddingAPIKey(),
			Model:   cfg.GetEmbeddingModel(),
		})
		knowledgeModule := knowledge.NewModule(
			cfg,
			pool,
			embedClient,
			initAnswerer(ctx, cfg, log),
			initDocumentStore(ctx, cfg, log),
			taskClient,
			eventBus,
			val,
			log,
		)
		modules = append(modules, knowledgeModule)
	} else {
		log.Warn("EMBEDDING_API_URL not configured; knowledge module disabled")
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules:  modules,
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initAnswerer builds the Gemini answerer when configured. Without it the
// knowledge module still serves search but declines /ask.
func initAnswerer(ctx context.Context, cfg *config.Config, log *logger.Logger) knowledgeservice.Answerer {
	if !cfg.IsGeminiEnabled() {
		log.Warn("GEMINI_API_KEY not configured; knowledge answers disabled")
		return nil
	}

	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey: cfg.GetGeminiAPIKey(),
		Model:  cfg.GetGeminiModel(),
	})
	if err != nil {
		log.Error("failed to initialize gemini client", "error", err)
		panic("failed to initialize gemini client: " + err.Error())
	}

	return client
}

// initDocumentStore builds the MinIO archive for uploaded documents when
// configured. Without it uploads skip archival and only the database copy
// exists.
func initDocumentStore(ctx context.Context, cfg *config.Config, log *logger.Logger) knowledgeservice.Storage {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MINIO_ENDPOINT not configured; document archival disabled")
		return nil
	}

	store, err := storage.New(cfg)
	if err != nil {
		log.Error("failed to initialize document storage", "error", err)
		panic("failed to initialize document storage: " + err.Error())
	}

	if err := withRetry(ctx, log, "ensure documents bucket", 5, 2*time.Second, func() error {
		return store.EnsureBucket(ctx)
	}); err != nil {
		log.Error("failed to ensure documents bucket exists", "error", err)
		panic("failed to ensure documents bucket exists: " + err.Error())
	}
	log.Info("document storage initialized", "bucket", cfg.GetMinIOBucketDocuments())

	return store
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
