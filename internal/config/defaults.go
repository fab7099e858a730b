package config

import "time"

// Defaults applied when a field is left empty.
const (
	DefaultListenAddress   = ":8080"
	DefaultAdminAddress    = ":9090"
	DefaultMetricsPath     = "/metrics"
	DefaultMaxBodySize     = 1 << 20
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultUpstreamTimeout = 30 * time.Second
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheMaxEntries = 10000
	DefaultBudgetClientTTL = 10 * time.Minute
	DefaultBreakerTimeout  = 30 * time.Second
	DefaultServiceName     = "gqlguard"
)

// DefaultConfig returns a configuration that listens on the default ports
// with depth and cost checks disabled.
func DefaultConfig() *GuardConfig {
	cfg := &GuardConfig{
		APIVersion: DefaultAPIVersion,
		Kind:       KindGuard,
		Metadata:   Metadata{Name: DefaultServiceName},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *GuardConfig) {
	spec := &cfg.Spec

	if spec.Listen.Address == "" {
		spec.Listen.Address = DefaultListenAddress
	}
	if spec.Listen.MaxBodySize == 0 {
		spec.Listen.MaxBodySize = DefaultMaxBodySize
	}
	if spec.Admin.Address == "" {
		spec.Admin.Address = DefaultAdminAddress
	}
	if spec.Admin.MetricsPath == "" {
		spec.Admin.MetricsPath = DefaultMetricsPath
	}
	if spec.Limits.MissingOperation == "" {
		spec.Limits.MissingOperation = MissingOperationReject
	}

	if spec.Cache != nil {
		if spec.Cache.Type == "" {
			spec.Cache.Type = CacheTypeMemory
		}
		if spec.Cache.TTL == 0 {
			spec.Cache.TTL = Duration(DefaultCacheTTL)
		}
		if spec.Cache.MaxEntries == 0 {
			spec.Cache.MaxEntries = DefaultCacheMaxEntries
		}
	}

	if spec.Budget != nil && spec.Budget.ClientTTL == 0 {
		spec.Budget.ClientTTL = Duration(DefaultBudgetClientTTL)
	}

	for i := range spec.Upstreams {
		u := &spec.Upstreams[i]
		if u.Scheme == "" {
			u.Scheme = "http"
		}
		if u.Timeout == 0 {
			u.Timeout = Duration(DefaultUpstreamTimeout)
		}
		if u.CircuitBreaker != nil && u.CircuitBreaker.Timeout == 0 {
			u.CircuitBreaker.Timeout = Duration(DefaultBreakerTimeout)
		}
	}
}
