package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)

	require.NotNil(t, m)
	assert.NotNil(t, m.operationDepth)
	assert.NotNil(t, m.operationCost)
	assert.NotNil(t, m.rejectionsTotal)
	assert.NotNil(t, m.analysisErrorsTotal)
	assert.NotNil(t, m.analysisDuration)
	assert.NotNil(t, m.upstreamRequests)
	assert.NotNil(t, m.upstreamDuration)
	assert.NotNil(t, m.circuitBreakerState)
}

func TestMetrics_RecordRejection(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)

	tests := []struct {
		name   string
		reason string
		times  int
	}{
		{name: "depth", reason: ReasonDepthExceeded, times: 2},
		{name: "cost", reason: ReasonCostExceeded, times: 1},
		{name: "budget", reason: ReasonBudgetExhausted, times: 3},
	}

	for _, tt := range tests {
		for i := 0; i < tt.times; i++ {
			m.RecordRejection(tt.reason)
		}
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := testutil.ToFloat64(m.rejectionsTotal.WithLabelValues(tt.reason))
			assert.Equal(t, float64(tt.times), got)
		})
	}
}

func TestMetrics_RecordAnalysis(t *testing.T) {
	t.Parallel()

	m, reg := newTestMetrics(t)

	m.RecordDepth("query", 4)
	m.RecordDepth("mutation", 2)
	m.RecordCost(13)
	m.RecordAnalysisError(AnalyzerCost)
	m.RecordAnalysisDuration(AnalyzerDepth, 150*time.Microsecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.analysisErrorsTotal.WithLabelValues(AnalyzerCost)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.operationDepth))
	assert.Equal(t, 1, testutil.CollectAndCount(m.operationCost))

	count, err := testutil.GatherAndCount(reg, "gqlguard_graphql_analysis_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_RecordUpstreamRequest(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)

	m.RecordUpstreamRequest("api", 200, 10*time.Millisecond)
	m.RecordUpstreamRequest("api", 200, 20*time.Millisecond)
	m.RecordUpstreamRequest("api", 502, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.upstreamRequests.WithLabelValues("api", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.upstreamRequests.WithLabelValues("api", "502")))
}

func TestMetrics_SetCircuitBreakerState(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)

	m.SetCircuitBreakerState("api", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.circuitBreakerState.WithLabelValues("api")))

	m.SetCircuitBreakerState("api", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.circuitBreakerState.WithLabelValues("api")))
}

func TestMetrics_InitVecMetrics(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	m.InitVecMetrics()

	assert.Equal(t, 6, testutil.CollectAndCount(m.rejectionsTotal))
	assert.Equal(t, 3, testutil.CollectAndCount(m.analysisErrorsTotal))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.rejectionsTotal.WithLabelValues(ReasonParseError)))
}

func TestGetMetrics_Singleton(t *testing.T) {
	t.Parallel()

	InitMetrics(prometheus.NewRegistry())
	assert.Same(t, GetMetrics(), GetMetrics())
}
