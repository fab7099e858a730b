package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HealthMetrics holds Prometheus metrics for health probes.
type HealthMetrics struct {
	probesTotal *prometheus.CounterVec
	checkStatus *prometheus.GaugeVec
}

var (
	healthMetricsInstance *HealthMetrics
	healthMetricsOnce     sync.Once
)

// GetHealthMetrics returns the singleton health metrics registered with
// the default registerer.
func GetHealthMetrics() *HealthMetrics {
	healthMetricsOnce.Do(func() {
		healthMetricsInstance = NewHealthMetrics(prometheus.DefaultRegisterer)
	})
	return healthMetricsInstance
}

// NewHealthMetrics registers health metrics with registerer.
func NewHealthMetrics(registerer prometheus.Registerer) *HealthMetrics {
	factory := promauto.With(registerer)
	return &HealthMetrics{
		probesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gqlguard",
				Subsystem: "health",
				Name:      "probes_total",
				Help:      "Total number of health probes served",
			},
			[]string{"type"},
		),
		checkStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gqlguard",
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Current readiness check status (1=healthy, 0=not healthy)",
			},
			[]string{"check"},
		),
	}
}

// Init pre-populates the probe counters with zero values.
func (m *HealthMetrics) Init() {
	for _, probe := range []string{"liveness", "readiness"} {
		m.probesTotal.WithLabelValues(probe)
	}
}

func (m *HealthMetrics) recordProbe(probe string) {
	m.probesTotal.WithLabelValues(probe).Inc()
}

func (m *HealthMetrics) setStatus(check string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	m.checkStatus.WithLabelValues(check).Set(v)
}
