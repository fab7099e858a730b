package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MiddlewareMetrics holds the HTTP listener metrics.
type MiddlewareMetrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	bodyLimitRejected prometheus.Counter
	panicsRecovered   prometheus.Counter
}

var (
	middlewareMetrics     *MiddlewareMetrics
	middlewareMetricsOnce sync.Once
)

// GetMiddlewareMetrics returns the singleton middleware metrics registered
// with the default registerer.
func GetMiddlewareMetrics() *MiddlewareMetrics {
	middlewareMetricsOnce.Do(func() {
		middlewareMetrics = newMiddlewareMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return middlewareMetrics
}

func newMiddlewareMetrics(factory promauto.Factory) *MiddlewareMetrics {
	return &MiddlewareMetrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gqlguard",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests on the public listener",
			},
			[]string{"method", "status_code"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gqlguard",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		bodyLimitRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gqlguard",
				Subsystem: "http",
				Name:      "body_limit_rejected_total",
				Help:      "Total number of requests rejected due to body size limit",
			},
		),
		panicsRecovered: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gqlguard",
				Subsystem: "http",
				Name:      "panics_recovered_total",
				Help:      "Total number of panics recovered in handlers",
			},
		),
	}
}

func (m *MiddlewareMetrics) observe(method string, status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}
