package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// Result kinds. They separate depth and cost entries for the same query.
const (
	KindDepth = "depth"
	KindCost  = "cost"
)

// ResultKey derives the cache key of an analysis result. fingerprint
// identifies the analyzer settings the result was computed with: the
// recursion ceiling for depths, plus the schema and cost map for costs.
func ResultKey(kind, fingerprint, operationName, query string) string {
	h := sha256.New()
	for _, part := range []string{kind, fingerprint, operationName} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	h.Write([]byte(query))
	return kind + ":" + hex.EncodeToString(h.Sum(nil))
}

type depthValue struct {
	Depth int `json:"depth"`
}

type costValue struct {
	Cost uint64 `json:"cost"`
}

// ResultCache memoizes successful depth and cost computations. Failed
// computations are never stored. Backend errors are logged and treated as
// misses. A nil *ResultCache computes every call.
type ResultCache struct {
	backend Cache
	ttl     time.Duration
	logger  observability.Logger
}

// NewResultCache wraps backend. A nil backend yields a nil ResultCache.
func NewResultCache(backend Cache, ttl time.Duration, logger observability.Logger) *ResultCache {
	if backend == nil {
		return nil
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ResultCache{backend: backend, ttl: ttl, logger: logger}
}

// Depth returns the cached depth of query under fingerprint or computes and
// stores it.
func (c *ResultCache) Depth(
	ctx context.Context,
	fingerprint, operationName, query string,
	compute func() (int, error),
) (int, error) {
	if c == nil {
		return compute()
	}

	key := ResultKey(KindDepth, fingerprint, operationName, query)
	var cached depthValue
	if c.load(ctx, key, &cached) {
		return cached.Depth, nil
	}

	depth, err := compute()
	if err != nil {
		return 0, err
	}
	c.store(ctx, key, depthValue{Depth: depth})
	return depth, nil
}

// Cost returns the cached cost of query under fingerprint or computes and
// stores it.
func (c *ResultCache) Cost(
	ctx context.Context,
	fingerprint, operationName, query string,
	compute func() (uint64, error),
) (uint64, error) {
	if c == nil {
		return compute()
	}

	key := ResultKey(KindCost, fingerprint, operationName, query)
	var cached costValue
	if c.load(ctx, key, &cached) {
		return cached.Cost, nil
	}

	cost, err := compute()
	if err != nil {
		return 0, err
	}
	c.store(ctx, key, costValue{Cost: cost})
	return cost, nil
}

// Close closes the backend.
func (c *ResultCache) Close() error {
	if c == nil {
		return nil
	}
	return c.backend.Close()
}

func (c *ResultCache) load(ctx context.Context, key string, dst any) bool {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.WithContext(ctx).Warn("result cache read failed, recomputing",
				observability.String("key", key),
				observability.Error(err),
			)
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.WithContext(ctx).Warn("discarding malformed result cache entry",
			observability.String("key", key),
			observability.Error(err),
		)
		_ = c.backend.Delete(ctx, key)
		return false
	}
	return true
}

func (c *ResultCache) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.WithContext(ctx).Warn("result cache write failed",
			observability.String("key", key),
			observability.Error(err),
		)
	}
}
