package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

const (
	defaultKeyPrefix = "gqlguard:"
	redisMaxRetries  = 3
	redisPingTimeout = 5 * time.Second
)

// RedisCache is a Cache shared between gqlguard replicas.
type RedisCache struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	ttlJitter  float64
	logger     observability.Logger
}

// NewRedisCache connects to the redis server in cfg.Redis and pings it.
func NewRedisCache(cfg *config.CacheConfig, logger observability.Logger) (*RedisCache, error) {
	if cfg == nil || cfg.Redis == nil || cfg.Redis.URL == "" {
		return nil, fmt.Errorf("%w: redis url is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis url: %w", ErrInvalidConfig, err)
	}
	applyRedisOptions(opts, cfg.Redis)

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	c := &RedisCache{
		client:     client,
		keyPrefix:  cfg.Redis.KeyPrefix,
		defaultTTL: cfg.TTL.OrDefault(config.DefaultCacheTTL),
		ttlJitter:  cfg.Redis.TTLJitter,
		logger:     logger,
	}
	if c.keyPrefix == "" {
		c.keyPrefix = defaultKeyPrefix
	}

	logger.Info("redis cache initialized",
		observability.String("addr", opts.Addr),
		observability.String("key_prefix", c.keyPrefix),
		observability.Duration("default_ttl", c.defaultTTL),
		observability.Float64("ttl_jitter", c.ttlJitter),
	)

	return c, nil
}

func applyRedisOptions(opts *redis.Options, cfg *config.RedisCacheConfig) {
	opts.MaxRetries = redisMaxRetries
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout.Duration()
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout.Duration()
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout.Duration()
	}
}

// applyTTLJitter spreads ttl by up to ±factor so entries written together
// do not expire together.
func applyTTLJitter(ttl time.Duration, factor float64) time.Duration {
	if factor <= 0 || ttl <= 0 {
		return ttl
	}
	factor = min(factor, 1)
	//nolint:gosec // jitter needs no cryptographic randomness
	jittered := ttl + time.Duration(float64(ttl)*factor*(2*rand.Float64()-1))
	if jittered <= 0 {
		return ttl
	}
	return jittered
}

func (c *RedisCache) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return otel.Tracer(cacheTracerName).Start(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", backendRedis),
			attribute.String("cache.key", key),
		),
	)
}

func (c *RedisCache) fail(span trace.Span, op, key string, err error) error {
	GetCacheMetrics().errorsTotal.WithLabelValues(backendRedis, op).Inc()
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	c.logger.Warn("redis "+op+" failed",
		observability.String("key", key),
		observability.Error(err),
	)
	return err
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "Get", key)
	defer span.End()

	metrics := GetCacheMetrics()
	defer metrics.observe(backendRedis, "get", time.Now())

	val, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	switch {
	case err == nil:
		metrics.hitsTotal.WithLabelValues(backendRedis).Inc()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return val, nil
	case errors.Is(err, redis.Nil):
		metrics.missesTotal.WithLabelValues(backendRedis).Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	default:
		return nil, c.fail(span, "get", key, err)
	}
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := c.startSpan(ctx, "Set", key)
	defer span.End()
	defer GetCacheMetrics().observe(backendRedis, "set", time.Now())

	if ttl == 0 {
		ttl = c.defaultTTL
	}
	ttl = applyTTLJitter(ttl, c.ttlJitter)

	if err := c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err(); err != nil {
		return c.fail(span, "set", key, err)
	}
	return nil
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	ctx, span := c.startSpan(ctx, "Delete", key)
	defer span.End()
	defer GetCacheMetrics().observe(backendRedis, "delete", time.Now())

	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		return c.fail(span, "delete", key, err)
	}
	return nil
}

// Exists implements Cache.
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := c.startSpan(ctx, "Exists", key)
	defer span.End()
	defer GetCacheMetrics().observe(backendRedis, "exists", time.Now())

	n, err := c.client.Exists(ctx, c.keyPrefix+key).Result()
	if err != nil {
		return false, c.fail(span, "exists", key, err)
	}
	return n > 0, nil
}

// Close implements Cache.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
