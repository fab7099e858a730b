// Package cache stores analysis results so that repeated identical
// operations skip re-analysis. Backends are an in-process LRU and redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// Cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

const cacheTracerName = "gqlguard/cache"

// Backend names used as metric labels.
const (
	backendMemory = "memory"
	backendRedis  = "redis"
)

// Cache is a byte-oriented key/value store with per-entry TTL.
type Cache interface {
	// Get returns ErrCacheMiss when key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value. A ttl of 0 uses the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	Close() error
}

// New creates the backend selected by cfg. A nil or disabled cfg returns a
// nil Cache and no error.
func New(cfg *config.CacheConfig, logger observability.Logger) (Cache, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	switch cfg.Type {
	case config.CacheTypeMemory, "":
		return NewMemoryCache(cfg.MaxEntries, cfg.TTL.OrDefault(config.DefaultCacheTTL), logger)
	case config.CacheTypeRedis:
		return NewRedisCache(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown cache type %q", ErrInvalidConfig, cfg.Type)
	}
}
