package gateway

import (
	"fmt"

	"github.com/vyrodovalexey/gqlguard/internal/cache"
	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/analysis"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// Bundle holds what one configuration needs loaded from outside the
// config document: the cost analyzer over the schema and the result cache.
type Bundle struct {
	// Cost is nil when no schema is configured.
	Cost *analysis.CostAnalyzer

	// Backend is the result cache store, nil when caching is disabled.
	Backend cache.Cache

	// Results memoizes analysis on top of Backend.
	Results *cache.ResultCache
}

// BuildBundle reads the schema and cost map cfg refers to and connects the
// result cache.
func BuildBundle(cfg *config.GuardConfig, logger observability.Logger) (*Bundle, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	b := &Bundle{}

	sdl, err := config.ResolveSchema(cfg)
	if err != nil {
		return nil, err
	}
	if sdl != "" {
		weights, err := config.ResolveCostMap(cfg)
		if err != nil {
			return nil, err
		}
		opts := []analysis.Option{analysis.WithLogger(logger)}
		if n := cfg.Spec.Limits.MaxRecursion; n > 0 {
			opts = append(opts, analysis.WithMaxRecursion(n))
		}
		b.Cost, err = analysis.NewCostAnalyzer(sdl, analysis.CostMapFromWeights(weights), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
		logger.Info("GraphQL schema loaded",
			observability.String("fingerprint", b.Cost.Fingerprint()),
			observability.Int("cost_entries", len(weights)),
		)
	}

	b.Backend, err = cache.New(cfg.Spec.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	if b.Backend != nil {
		b.Results = cache.NewResultCache(b.Backend, cfg.Spec.Cache.TTL.OrDefault(config.DefaultCacheTTL), logger)
	}

	return b, nil
}

// Close releases the cache backend.
func (b *Bundle) Close() error {
	if b == nil || b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}

func closeBundle(b *Bundle, logger observability.Logger) {
	if err := b.Close(); err != nil {
		logger.Warn("failed to close result cache", observability.Error(err))
	}
}
