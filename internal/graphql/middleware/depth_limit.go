package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/gqlguard/internal/cache"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/analysis"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/document"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

const analysisTracerName = "gqlguard/graphql-analysis"

// startAnalysisSpan opens the span covering one depth or cost computation.
func startAnalysisSpan(ctx context.Context, kind, operationName string) (context.Context, trace.Span) {
	return otel.Tracer(analysisTracerName).Start(ctx, "graphql.analysis."+kind,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("graphql.operation.name", operationName)),
	)
}

func failAnalysisSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// LimiterOption configures a DepthLimiter or CostLimiter.
type LimiterOption func(*limiterOptions)

type limiterOptions struct {
	cache        *cache.ResultCache
	maxRecursion int
}

// WithResultCache memoizes computed values in c.
func WithResultCache(c *cache.ResultCache) LimiterOption {
	return func(o *limiterOptions) {
		o.cache = c
	}
}

// WithLimiterMaxRecursion overrides the analyzer's nesting ceiling. It only
// applies to the DepthLimiter; a CostLimiter uses its analyzer's setting.
func WithLimiterMaxRecursion(n int) LimiterOption {
	return func(o *limiterOptions) {
		o.maxRecursion = n
	}
}

func newLimiterOptions(opts []LimiterOption) limiterOptions {
	var o limiterOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DepthLimiter enforces a maximum operation depth.
type DepthLimiter struct {
	maxDepth int
	analyzer *analysis.DepthAnalyzer
	cache    *cache.ResultCache
	logger   observability.Logger
}

// NewDepthLimiter creates a depth limiter. A maxDepth of 0 or less disables
// the limit.
func NewDepthLimiter(maxDepth int, logger observability.Logger, opts ...LimiterOption) *DepthLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	o := newLimiterOptions(opts)

	analyzerOpts := []analysis.Option{analysis.WithLogger(logger)}
	if o.maxRecursion > 0 {
		analyzerOpts = append(analyzerOpts, analysis.WithMaxRecursion(o.maxRecursion))
	}

	return &DepthLimiter{
		maxDepth: maxDepth,
		analyzer: analysis.NewDepthAnalyzer(analyzerOpts...),
		cache:    o.cache,
		logger:   logger,
	}
}

// MaxDepth returns the configured maximum depth.
func (d *DepthLimiter) MaxDepth() int {
	return d.maxDepth
}

// Check parses query and validates the depth of the selected operation.
// It returns the computed depth. When the limit is disabled it returns 0
// without parsing.
func (d *DepthLimiter) Check(query, operationName string) (int, error) {
	if d.maxDepth <= 0 {
		return 0, nil
	}
	doc, err := document.Parse(query)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", analysis.ErrParse, err)
	}
	return d.Evaluate(context.Background(), doc, query, operationName, d.maxDepth)
}

// Evaluate computes the depth of the selected operation in doc and compares
// it against limit. query is the text doc was parsed from and keys the
// result cache. A limit of 0 or less only measures.
func (d *DepthLimiter) Evaluate(
	ctx context.Context,
	doc *document.Document,
	query, operationName string,
	limit int,
) (int, error) {
	ctx, span := startAnalysisSpan(ctx, "depth", operationName)
	defer span.End()

	depth, err := d.cache.Depth(ctx, d.analyzer.Fingerprint(), operationName, query, func() (int, error) {
		return d.analyzer.DepthOf(doc, operationName)
	})
	if err != nil {
		failAnalysisSpan(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("graphql.depth", depth))

	if limit > 0 && depth > limit {
		d.logger.WithContext(ctx).Warn("GraphQL operation depth limit exceeded",
			observability.Int("depth", depth),
			observability.Int("max_depth", limit),
			observability.String("operation_name", operationName),
		)
		return depth, fmt.Errorf("%w: depth %d exceeds maximum of %d", ErrDepthExceeded, depth, limit)
	}
	return depth, nil
}
