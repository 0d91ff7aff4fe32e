package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"converzia_backend/internal/delivery"
	"converzia_backend/internal/email"
	"converzia_backend/internal/events"
	"converzia_backend/internal/knowledge"
	"converzia_backend/internal/leads"
	"converzia_backend/internal/scheduler"
	"converzia_backend/internal/tenants"
	"converzia_backend/platform/ai/embeddings"
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

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)

	box, err := secretbox.New(cfg.GetIntegrationSecretKey())
	if err != nil {
		log.Error("failed to initialize secret box", "error", err)
		panic("failed to initialize secret box: " + err.Error())
	}

	val := validator.New()
	sender := email.NewFromConfig(cfg, log)

	// Worker-side delivery wiring (no HTTP handlers required).
	tenantsModule := tenants.NewModule(pool, box, val, log)
	leadsModule := leads.NewModule(pool, eventBus, cfg, val, log)
	deliveryModule := delivery.NewModule(cfg, pool, tenantsModule.Service(), leadsModule.Service(), sender, eventBus, val, log)

	deliveryModule.RegisterHandlers(eventBus)
	email.NewAlerter(sender, log).RegisterHandlers(eventBus)

	taskClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task client", "error", err)
		panic("failed to initialize task client: " + err.Error())
	}
	defer func() { _ = taskClient.Close() }()

	var indexer scheduler.DocumentIndexer
	if cfg.IsEmbeddingEnabled() {
		embedClient := embeddings.NewClient(embeddings.Config{
			BaseURL: cfg.GetEmbeddingAPIURL(),
			APIKey:  cfg.GetEmbeddingAPIKey(),
			Model:   cfg.GetEmbeddingModel(),
		})
		knowledgeModule := knowledge.NewModule(cfg, pool, embedClient, nil, nil, taskClient, eventBus, val, log)
		indexer = knowledgeModule.Service()
	} else {
		log.Warn("EMBEDDING_API_URL not configured; document indexing disabled")
	}

	dispatcher := scheduler.NewDeliveryDispatcher(cfg, deliveryModule.Repository(), taskClient, log)
	go dispatcher.Run(ctx)

	expiryJob := scheduler.NewOfferExpiryJob(taskClient, log)
	go expiryJob.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, deliveryModule.Processor(), indexer, leadsModule.Service(), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
