package middleware

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vyrodovalexey/gqlguard/internal/cache"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/analysis"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/document"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// CostLimiter enforces a maximum operation cost against a preloaded schema.
type CostLimiter struct {
	maxCost  analysis.Cost
	analyzer *analysis.CostAnalyzer
	cache    *cache.ResultCache
	logger   observability.Logger
}

// NewCostLimiter creates a cost limiter over analyzer. A maxCost of 0
// disables the limit; costs are still computed so they can be charged
// against a budget.
func NewCostLimiter(
	analyzer *analysis.CostAnalyzer,
	maxCost analysis.Cost,
	logger observability.Logger,
	opts ...LimiterOption,
) *CostLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	o := newLimiterOptions(opts)
	return &CostLimiter{
		maxCost:  maxCost,
		analyzer: analyzer,
		cache:    o.cache,
		logger:   logger,
	}
}

// MaxCost returns the configured maximum cost.
func (c *CostLimiter) MaxCost() analysis.Cost {
	return c.maxCost
}

// Analyzer returns the underlying analyzer.
func (c *CostLimiter) Analyzer() *analysis.CostAnalyzer {
	return c.analyzer
}

// Check parses query and validates the cost of the selected operation. It
// returns the computed cost.
func (c *CostLimiter) Check(query, operationName string) (analysis.Cost, error) {
	doc, err := document.Parse(query)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", analysis.ErrParse, err)
	}
	return c.Evaluate(context.Background(), doc, query, operationName, c.maxCost)
}

// Evaluate computes the cost of the selected operation in doc and compares
// it against limit. A limit of 0 only measures.
func (c *CostLimiter) Evaluate(
	ctx context.Context,
	doc *document.Document,
	query, operationName string,
	limit analysis.Cost,
) (analysis.Cost, error) {
	ctx, span := startAnalysisSpan(ctx, "cost", operationName)
	defer span.End()

	raw, err := c.cache.Cost(ctx, c.analyzer.Fingerprint(), operationName, query, func() (uint64, error) {
		cost, err := c.analyzer.CostOf(doc, operationName)
		return uint64(cost), err
	})
	if err != nil {
		failAnalysisSpan(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("graphql.cost", int64(min(raw, uint64(math.MaxInt64)))))

	cost := analysis.Cost(raw)
	if limit > 0 && cost.Exceeds(limit) {
		c.logger.WithContext(ctx).Warn("GraphQL operation cost limit exceeded",
			observability.Uint64("cost", uint64(cost)),
			observability.Uint64("max_cost", uint64(limit)),
			observability.String("operation_name", operationName),
		)
		return cost, fmt.Errorf("%w: cost %s exceeds maximum of %s", ErrCostExceeded, cost, limit)
	}
	return cost, nil
}
