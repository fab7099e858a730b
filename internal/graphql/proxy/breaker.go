package proxy

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/metrics"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// upstreamStatusError marks a 5xx upstream response as a breaker failure.
// The response itself is still relayed to the client.
type upstreamStatusError struct {
	status int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.status)
}

// newBreaker builds the breaker of one upstream. It trips once threshold
// requests were seen in the current window and at least half failed, and
// probes again after timeout.
func newBreaker(
	name string,
	cfg *config.CircuitBreakerConfig,
	m *metrics.Metrics,
	logger observability.Logger,
) *gobreaker.CircuitBreaker {
	threshold := safeIntToUint32(cfg.Threshold)
	timeout := cfg.Timeout.OrDefault(config.DefaultBreakerTimeout)

	m.SetCircuitBreakerState(name, int(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    timeout,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < threshold {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				observability.String("upstream", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			m.SetCircuitBreakerState(name, int(to))

			_, span := otel.Tracer(tracerName).Start(context.Background(), "circuitbreaker.state_change",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			span.AddEvent("state_change", trace.WithAttributes(
				attribute.String("circuitbreaker.upstream", name),
				attribute.String("circuitbreaker.from", from.String()),
				attribute.String("circuitbreaker.to", to.String()),
			))
			span.End()
		},
	})
}

func breakerConfigEqual(a, b *config.CircuitBreakerConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
