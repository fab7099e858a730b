// Package metrics provides Prometheus metrics for GraphQL admission and
// forwarding.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "gqlguard"
	subsystem = "graphql"
)

// Rejection reasons used as the "reason" label.
const (
	ReasonDepthExceeded        = "depth_exceeded"
	ReasonCostExceeded         = "cost_exceeded"
	ReasonBudgetExhausted      = "budget_exhausted"
	ReasonIntrospectionBlocked = "introspection_blocked"
	ReasonMissingOperation     = "missing_operation"
	ReasonParseError           = "parse_error"
)

// Analyzer names used as the "analyzer" label.
const (
	AnalyzerDepth         = "depth"
	AnalyzerCost          = "cost"
	AnalyzerIntrospection = "introspection"
)

// Metrics contains the GraphQL admission and upstream metrics.
type Metrics struct {
	operationDepth      *prometheus.HistogramVec
	operationCost       prometheus.Histogram
	rejectionsTotal     *prometheus.CounterVec
	analysisErrorsTotal *prometheus.CounterVec
	analysisDuration    *prometheus.HistogramVec
	upstreamRequests    *prometheus.CounterVec
	upstreamDuration    *prometheus.HistogramVec
	circuitBreakerState *prometheus.GaugeVec
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// InitMetrics initializes the singleton metrics with the given registerer.
// A nil registerer means the default registerer. Later calls are no-ops.
func InitMetrics(registerer prometheus.Registerer) {
	defaultMetricsOnce.Do(func() {
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		defaultMetrics = newMetricsWithFactory(promauto.With(registerer))
	})
}

// GetMetrics returns the singleton metrics, initializing them with the
// default registerer if InitMetrics was not called.
func GetMetrics() *Metrics {
	InitMetrics(nil)
	return defaultMetrics
}

// NewMetrics creates an independent metrics set registered with registerer.
// Tests use it with a private registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	return newMetricsWithFactory(promauto.With(registerer))
}

func newMetricsWithFactory(factory promauto.Factory) *Metrics {
	return &Metrics{
		operationDepth: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "operation_depth",
				Help:      "Distribution of admitted GraphQL operation depths",
				Buckets:   []float64{1, 2, 3, 5, 7, 10, 15, 20, 30, 50},
			},
			[]string{"operation_type"},
		),
		operationCost: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "operation_cost",
				Help:      "Distribution of GraphQL operation costs",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		rejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rejections_total",
				Help:      "Total number of GraphQL operations rejected at admission",
			},
			[]string{"reason"},
		),
		analysisErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "analysis_errors_total",
				Help:      "Total number of operations the analyzers could not evaluate",
			},
			[]string{"analyzer"},
		),
		analysisDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "analysis_duration_seconds",
				Help:      "Time spent analyzing GraphQL operations",
				Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
			},
			[]string{"analyzer"},
		),
		upstreamRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "upstream_requests_total",
				Help:      "Total number of requests forwarded to upstreams",
			},
			[]string{"upstream", "status_code"},
		),
		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "upstream_request_duration_seconds",
				Help:      "Upstream request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"upstream"},
		),
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "circuit_breaker_state",
				Help:      "Upstream circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"upstream"},
		),
	}
}

// InitVecMetrics pre-populates label combinations so they show up on
// /metrics with zero values before the first request.
func (m *Metrics) InitVecMetrics() {
	for _, op := range []string{"query", "mutation", "subscription"} {
		m.operationDepth.WithLabelValues(op)
	}
	for _, r := range []string{
		ReasonDepthExceeded, ReasonCostExceeded, ReasonBudgetExhausted,
		ReasonIntrospectionBlocked, ReasonMissingOperation, ReasonParseError,
	} {
		m.rejectionsTotal.WithLabelValues(r)
	}
	for _, a := range []string{AnalyzerDepth, AnalyzerCost, AnalyzerIntrospection} {
		m.analysisErrorsTotal.WithLabelValues(a)
		m.analysisDuration.WithLabelValues(a)
	}
}

// RecordDepth records the depth of an analyzed operation.
func (m *Metrics) RecordDepth(operationType string, depth int) {
	m.operationDepth.WithLabelValues(operationType).Observe(float64(depth))
}

// RecordCost records the cost of an analyzed operation.
func (m *Metrics) RecordCost(cost uint64) {
	m.operationCost.Observe(float64(cost))
}

// RecordRejection counts an operation rejected for reason.
func (m *Metrics) RecordRejection(reason string) {
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordAnalysisError counts an operation analyzer could not evaluate.
func (m *Metrics) RecordAnalysisError(analyzer string) {
	m.analysisErrorsTotal.WithLabelValues(analyzer).Inc()
}

// RecordAnalysisDuration records how long analyzer took.
func (m *Metrics) RecordAnalysisDuration(analyzer string, d time.Duration) {
	m.analysisDuration.WithLabelValues(analyzer).Observe(d.Seconds())
}

// RecordUpstreamRequest records a forwarded request.
func (m *Metrics) RecordUpstreamRequest(upstream string, statusCode int, d time.Duration) {
	m.upstreamRequests.WithLabelValues(upstream, strconv.Itoa(statusCode)).Inc()
	m.upstreamDuration.WithLabelValues(upstream).Observe(d.Seconds())
}

// SetCircuitBreakerState sets the breaker state gauge of upstream.
func (m *Metrics) SetCircuitBreakerState(upstream string, state int) {
	m.circuitBreakerState.WithLabelValues(upstream).Set(float64(state))
}
