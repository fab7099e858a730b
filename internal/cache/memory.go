package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is a size-bounded in-process LRU with per-entry expiry.
// Expired entries are dropped lazily on access.
type MemoryCache struct {
	lru        *lru.Cache
	defaultTTL time.Duration
	logger     observability.Logger
	now        func() time.Time
}

// NewMemoryCache creates a MemoryCache holding at most maxEntries values.
func NewMemoryCache(maxEntries int, defaultTTL time.Duration, logger observability.Logger) (*MemoryCache, error) {
	if maxEntries <= 0 {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	metrics := GetCacheMetrics()
	l, err := lru.NewWithEvict(maxEntries, func(_, _ interface{}) {
		metrics.evictionsTotal.WithLabelValues(backendMemory).Inc()
	})
	if err != nil {
		return nil, err
	}

	logger.Info("memory cache initialized",
		observability.Int("max_entries", maxEntries),
		observability.Duration("default_ttl", defaultTTL),
	)

	return &MemoryCache{
		lru:        l,
		defaultTTL: defaultTTL,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	start := time.Now()
	metrics := GetCacheMetrics()
	defer metrics.observe(backendMemory, "get", start)

	v, ok := c.lru.Get(key)
	if !ok {
		metrics.missesTotal.WithLabelValues(backendMemory).Inc()
		return nil, ErrCacheMiss
	}

	entry := v.(*memoryEntry)
	if entry.expired(c.now()) {
		c.lru.Remove(key)
		metrics.missesTotal.WithLabelValues(backendMemory).Inc()
		return nil, ErrCacheMiss
	}

	metrics.hitsTotal.WithLabelValues(backendMemory).Inc()
	return entry.value, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer GetCacheMetrics().observe(backendMemory, "set", start)

	if ttl == 0 {
		ttl = c.defaultTTL
	}
	entry := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.lru.Add(key, entry)
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Exists implements Cache.
func (c *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	v, ok := c.lru.Peek(key)
	if !ok {
		return false, nil
	}
	return !v.(*memoryEntry).expired(c.now()), nil
}

// Len returns the number of stored entries, including expired ones not yet dropped.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// Close implements Cache.
func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
