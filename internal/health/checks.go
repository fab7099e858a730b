package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/vyrodovalexey/gqlguard/internal/cache"
)

const probeKey = "gqlguard:health:probe"

// CacheCheck reports the result cache backend as unhealthy when it cannot
// answer a lookup. A nil backend is healthy.
func CacheCheck(backend cache.Cache) CheckFunc {
	return func(ctx context.Context) Check {
		if backend == nil {
			return Check{Status: StatusHealthy, Message: "disabled"}
		}
		if _, err := backend.Exists(ctx, probeKey); err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}

// TCPCheck dials every address. It is degraded when only some of them
// answer and unhealthy when none do.
func TCPCheck(addresses []string, timeout time.Duration) CheckFunc {
	return func(ctx context.Context) Check {
		if len(addresses) == 0 {
			return Check{Status: StatusUnhealthy, Message: "no addresses"}
		}

		dialer := &net.Dialer{Timeout: timeout}
		var failed []error
		for _, addr := range addresses {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				failed = append(failed, fmt.Errorf("%s: %w", addr, err))
				continue
			}
			_ = conn.Close()
		}

		switch len(failed) {
		case 0:
			return Check{Status: StatusHealthy}
		case len(addresses):
			return Check{Status: StatusUnhealthy, Message: errors.Join(failed...).Error()}
		default:
			return Check{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d of %d hosts unreachable", len(failed), len(addresses)),
			}
		}
	}
}
