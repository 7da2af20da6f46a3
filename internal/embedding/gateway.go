package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"uniassist/internal/errkind"
)

// Gateway fronts an Engine with caching and bounded concurrency.
// Contract: empty input yields a zero vector of the engine's dimension;
// batch results preserve input order; only cache misses reach the model.
type Gateway struct {
	engine Engine
	cache  Cache
	ttl    time.Duration
	sem    *semaphore.Weighted
	log    *zap.Logger
}

// NewGateway wraps an engine. maxInFlight bounds concurrent model calls;
// values <= 0 default to 8.
func NewGateway(engine Engine, cache Cache, ttl time.Duration, maxInFlight int, log *zap.Logger) *Gateway {
	if maxInFlight <= 0 {
		maxInFlight = 8
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		engine: engine,
		cache:  cache,
		ttl:    ttl,
		sem:    semaphore.NewWeighted(int64(maxInFlight)),
		log:    log,
	}
}

// Dimensions returns the underlying engine's embedding dimension.
func (g *Gateway) Dimensions() int { return g.engine.Dimensions() }

// Name returns the underlying engine name.
func (g *Gateway) Name() string { return g.engine.Name() }

// Embed encodes one text, consulting the cache first.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch encodes texts, submitting only cache misses to the model and
// re-interleaving results back into their original positions.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if text == "" {
			out[i] = make([]float32, g.engine.Dimensions())
			continue
		}
		key := cacheKey(g.engine.Name(), text)
		data, ok, err := g.cache.Get(ctx, key)
		if err != nil {
			// A broken cache degrades to a miss, it never fails the request.
			g.log.Warn("embedding cache read failed", zap.Error(err))
		}
		if ok {
			if vec := decodeVector(data); vec != nil {
				out[i] = vec
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, errkind.E(errkind.Timeout, "waiting for embedding slot", err)
	}
	vecs, err := g.engine.EmbedBatch(ctx, missTexts)
	g.sem.Release(1)
	if err != nil {
		return nil, errkind.E(errkind.DependencyUnavailable, "embedding model", err)
	}
	if len(vecs) != len(missTexts) {
		return nil, errkind.Errorf(errkind.Internal, "embedding batch returned %d vectors for %d texts", len(vecs), len(missTexts))
	}

	for j, vec := range vecs {
		out[missIdx[j]] = vec
		key := cacheKey(g.engine.Name(), missTexts[j])
		if err := g.cache.Set(ctx, key, encodeVector(vec), g.ttl); err != nil {
			g.log.Warn("embedding cache write failed", zap.Error(err))
		}
	}
	return out, nil
}
