package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the service is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the service is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the service is degraded but operational.
	StatusDegraded Status = "degraded"
)

// Probe paths.
const (
	PathLiveness  = "/healthz"
	PathReadiness = "/readyz"
	PathLivez     = "/livez"
)

// DefaultReadinessTimeout bounds a single readiness evaluation.
const DefaultReadinessTimeout = 5 * time.Second

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
	checkNotReady     = "gateway"
)

// HealthResponse represents the liveness response.
type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse represents the readiness response.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Check represents an individual check result.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc performs one readiness check.
type CheckFunc func(ctx context.Context) Check

// Checker provides health and readiness checking.
type Checker struct {
	version   string
	startTime time.Time
	timeout   time.Duration
	logger    observability.Logger
	metrics   *HealthMetrics

	ready atomic.Bool

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout bounds each readiness evaluation.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records probe results into m.
func WithMetrics(m *HealthMetrics) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// NewChecker creates a checker that is not ready until SetReady(true).
func NewChecker(version string, logger observability.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	c := &Checker{
		version:   version,
		startTime: time.Now(),
		timeout:   DefaultReadinessTimeout,
		logger:    logger,
		checks:    make(map[string]CheckFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterCheck registers or replaces a named check.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// UnregisterCheck removes a named check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// CheckNames returns the registered check names in sorted order.
func (c *Checker) CheckNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetReady marks the gateway as accepting traffic or draining.
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// IsReady reports the last SetReady value.
func (c *Checker) IsReady() bool {
	return c.ready.Load()
}

// Health returns the liveness status.
func (c *Checker) Health() HealthResponse {
	return HealthResponse{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// Readiness runs every check concurrently and aggregates the worst status.
func (c *Checker) Readiness(ctx context.Context) ReadinessResponse {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	response := ReadinessResponse{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(checks)+1),
		Timestamp: time.Now(),
	}

	if !c.ready.Load() {
		response.Checks[checkNotReady] = Check{Status: StatusUnhealthy, Message: "not accepting traffic"}
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			result := fn(ctx)
			if result.Status == "" {
				result.Status = StatusHealthy
			}
			if result.Status != StatusHealthy {
				c.logger.WithContext(ctx).Warn("readiness check failed",
					observability.String("check", name),
					observability.String("status", string(result.Status)),
					observability.String("message", result.Message),
				)
			}
			mu.Lock()
			response.Checks[name] = result
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	for name, check := range response.Checks {
		if c.metrics != nil {
			c.metrics.setStatus(name, check.Status == StatusHealthy)
		}
		switch {
		case check.Status == StatusUnhealthy:
			response.Status = StatusUnhealthy
		case check.Status == StatusDegraded && response.Status != StatusUnhealthy:
			response.Status = StatusDegraded
		}
	}
	return response
}

// LivenessHandler serves the liveness probe.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.metrics != nil {
			c.metrics.recordProbe("liveness")
		}
		c.writeJSON(w, http.StatusOK, c.Health())
	}
}

// ReadinessHandler serves the readiness probe. Degraded is still ready.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.metrics != nil {
			c.metrics.recordProbe("readiness")
		}
		response := c.Readiness(r.Context())

		statusCode := http.StatusOK
		if response.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.writeJSON(w, statusCode, response)
	}
}

// RegisterRoutes mounts the probes on mux.
func (c *Checker) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(PathLiveness, c.LivenessHandler())
	mux.HandleFunc(PathLivez, c.LivenessHandler())
	mux.HandleFunc(PathReadiness, c.ReadinessHandler())
}

func (c *Checker) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.logger.Error("failed to write health response", observability.Error(err))
	}
}
