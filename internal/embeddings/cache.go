package embeddings

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// CachedProvider memoizes EmbedQuery results in memory, keyed by model and
// text. Document embeddings pass through uncached.
type CachedProvider struct {
	Provider
	model   string
	cache   *ristretto.Cache
	metrics *Metrics
}

// NewCachedProvider keeps up to size query vectors.
func NewCachedProvider(p Provider, model string, size int) (*CachedProvider, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64,
		// Each entry costs 1; ristretto's per-item overhead would
		// otherwise exceed MaxCost and reject every Set.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating query cache: %w", err)
	}
	return &CachedProvider{
		Provider: p,
		model:    model,
		cache:    cache,
		metrics:  NewMetrics(zap.NewNop()),
	}, nil
}

func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.model + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		c.metrics.RecordCacheHit(ctx, c.model)
		return clone(v.([]float32)), nil
	}

	vector, err := c.Provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, clone(vector), 1)
	c.cache.Wait()
	return vector, nil
}

func (c *CachedProvider) Close() error {
	c.cache.Close()
	return c.Provider.Close()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
