package main

import (
	"context"
	"flag"
	"os"

	"converzia_backend/internal/events"
	"converzia_backend/internal/knowledge/embedcache"
	knowledgerepo "converzia_backend/internal/knowledge/repository"
	knowledgeservice "converzia_backend/internal/knowledge/service"
	"converzia_backend/platform/ai/embeddings"
	"converzia_backend/platform/config"
	"converzia_backend/platform/db"
	"converzia_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-embeds stored knowledge chunks in place, for example after switching
// the embedding model. Optionally restricted to a single tenant.
func main() {
	tenantFlag := flag.String("tenant", "", "restrict the re-embed to one tenant id")
	batchFlag := flag.Int("batch", 100, "chunks per batch")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting document reindex")

	if !cfg.IsEmbeddingEnabled() {
		log.Error("EMBEDDING_API_URL not configured")
		os.Exit(1)
	}

	var tenantID *uuid.UUID
	if *tenantFlag != "" {
		id, err := uuid.Parse(*tenantFlag)
		if err != nil {
			log.Error("invalid tenant id", "tenant", *tenantFlag, "error", err)
			os.Exit(1)
		}
		tenantID = &id
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	upstream := embeddings.NewClient(embeddings.Config{
		BaseURL: cfg.GetEmbeddingAPIURL(),
		APIKey:  cfg.GetEmbeddingAPIKey(),
		Model:   cfg.GetEmbeddingModel(),
	})
	cache := embedcache.New(cfg.GetEmbeddingCacheCapacity(), cfg.GetEmbeddingCacheTTL())
	embedder := knowledgeservice.NewCachedEmbedder(upstream, cache)

	repo := knowledgerepo.New(pool)
	svc := knowledgeservice.New(repo, embedder, nil, nil, nil, events.NewInMemoryBus(log), log)

	updated, err := svc.ReindexChunks(ctx, tenantID, *batchFlag)
	if err != nil {
		log.Error("document reindex failed", "updated", updated, "error", err)
		os.Exit(1)
	}

	log.Info("document reindex completed", "updated", updated)
}
