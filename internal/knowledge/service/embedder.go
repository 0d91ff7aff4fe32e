package service

import (
	"context"

	"golang.org/x/sync/singleflight"

	"converzia_backend/internal/knowledge/embedcache"
	"converzia_backend/platform/ai/embeddings"
)

// CachedEmbedder fronts an embeddings client with the in-memory vector
// cache. Concurrent misses for the same normalized text collapse into a
// single upstream call; the winner's vector is cached and shared.
type CachedEmbedder struct {
	upstream embeddings.Embedder
	cache    *embedcache.Cache
	group    singleflight.Group
}

func NewCachedEmbedder(upstream embeddings.Embedder, cache *embedcache.Cache) *CachedEmbedder {
	return &CachedEmbedder{upstream: upstream, cache: cache}
}

var _ embeddings.Embedder = (*CachedEmbedder)(nil)

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		return vec, nil
	}

	result, err, _ := e.group.Do(embedcache.Key(text), func() (any, error) {
		// A flight that finished while we queued may have filled the cache.
		if vec, ok := e.cache.Get(text); ok {
			return vec, nil
		}
		vec, err := e.upstream.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		e.cache.Set(text, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}
