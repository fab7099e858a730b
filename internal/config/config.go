// Package config defines, loads, validates and watches the gqlguard
// configuration file.
package config

// API identity of the configuration document.
const (
	APIVersionPrefix  = "gqlguard.io/"
	DefaultAPIVersion = APIVersionPrefix + "v1"
	KindGuard         = "Guard"
)

// Cache backend types.
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// GuardConfig is the root configuration document.
type GuardConfig struct {
	APIVersion string    `yaml:"apiVersion" json:"apiVersion"`
	Kind       string    `yaml:"kind" json:"kind"`
	Metadata   Metadata  `yaml:"metadata" json:"metadata"`
	Spec       GuardSpec `yaml:"spec" json:"spec"`

	// baseDir resolves relative schema and cost map paths.
	baseDir string
}

// BaseDir is the directory of the file the config was loaded from, or "".
func (c *GuardConfig) BaseDir() string {
	return c.baseDir
}

// Metadata identifies a guard instance.
type Metadata struct {
	Name   string            `yaml:"name" json:"name"`
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// GuardSpec is the body of the configuration.
type GuardSpec struct {
	Listen        ListenConfig         `yaml:"listen" json:"listen"`
	Admin         AdminConfig          `yaml:"admin" json:"admin"`
	Schema        SchemaSource         `yaml:"schema" json:"schema"`
	CostMap       CostMapSource        `yaml:"costMap" json:"costMap"`
	Limits        Limits               `yaml:"limits" json:"limits"`
	Budget        *BudgetConfig        `yaml:"budget,omitempty" json:"budget,omitempty"`
	Cache         *CacheConfig         `yaml:"cache,omitempty" json:"cache,omitempty"`
	Upstreams     []Upstream           `yaml:"upstreams,omitempty" json:"upstreams,omitempty"`
	Routes        []Route              `yaml:"routes,omitempty" json:"routes,omitempty"`
	Observability *ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// ListenConfig configures the public GraphQL listener.
type ListenConfig struct {
	Address        string   `yaml:"address" json:"address"`
	ReadTimeout    Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout   Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout    Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	MaxBodySize    int64    `yaml:"maxBodySize,omitempty" json:"maxBodySize,omitempty"`
	TrustedProxies []string `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`
}

// AdminConfig configures the metrics and health listener.
type AdminConfig struct {
	Address     string `yaml:"address" json:"address"`
	MetricsPath string `yaml:"metricsPath,omitempty" json:"metricsPath,omitempty"`
}

// SchemaSource points at the SDL used for cost analysis. At most one of
// Path and Inline is set.
type SchemaSource struct {
	Path   string `yaml:"path,omitempty" json:"path,omitempty"`
	Inline string `yaml:"inline,omitempty" json:"inline,omitempty"`
}

// IsSet reports whether a schema was configured.
func (s SchemaSource) IsSet() bool {
	return s.Path != "" || s.Inline != ""
}

// CostMapSource holds field weights keyed by "Type.field". Inline entries
// override entries read from Path.
type CostMapSource struct {
	Path   string           `yaml:"path,omitempty" json:"path,omitempty"`
	Inline map[string]int64 `yaml:"inline,omitempty" json:"inline,omitempty"`
}

// MissingOperationPolicy decides what happens when the requested operation
// cannot be selected from the document.
type MissingOperationPolicy string

// Missing operation policies.
const (
	MissingOperationReject MissingOperationPolicy = "reject"
	MissingOperationAllow  MissingOperationPolicy = "allow"
)

// Limits are the admission thresholds. On a route, zero values inherit the
// global limit and negative values disable the check.
type Limits struct {
	MaxDepth         int                    `yaml:"maxDepth,omitempty" json:"maxDepth,omitempty"`
	MaxCost          int64                  `yaml:"maxCost,omitempty" json:"maxCost,omitempty"`
	MissingOperation MissingOperationPolicy `yaml:"missingOperation,omitempty" json:"missingOperation,omitempty"`
	Introspection    *bool                  `yaml:"introspection,omitempty" json:"introspection,omitempty"`
	MaxRecursion     int                    `yaml:"maxRecursion,omitempty" json:"maxRecursion,omitempty"`
}

// Merge returns l with the non-zero fields of override applied.
func (l Limits) Merge(override *Limits) Limits {
	if override == nil {
		return l
	}
	out := l
	if override.MaxDepth != 0 {
		out.MaxDepth = override.MaxDepth
	}
	if override.MaxCost != 0 {
		out.MaxCost = override.MaxCost
	}
	if override.MissingOperation != "" {
		out.MissingOperation = override.MissingOperation
	}
	if override.Introspection != nil {
		out.Introspection = override.Introspection
	}
	if override.MaxRecursion != 0 {
		out.MaxRecursion = override.MaxRecursion
	}
	return out
}

// IntrospectionAllowed reports whether introspection fields may be selected.
func (l Limits) IntrospectionAllowed() bool {
	return l.Introspection == nil || *l.Introspection
}

// BudgetConfig configures the cost token bucket.
type BudgetConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	CostPerSecond float64  `yaml:"costPerSecond" json:"costPerSecond"`
	Burst         int      `yaml:"burst" json:"burst"`
	PerClient     bool     `yaml:"perClient,omitempty" json:"perClient,omitempty"`
	ClientTTL     Duration `yaml:"clientTTL,omitempty" json:"clientTTL,omitempty"`
}

// CacheConfig configures the analysis result cache.
type CacheConfig struct {
	Enabled    bool              `yaml:"enabled" json:"enabled"`
	Type       string            `yaml:"type" json:"type"`
	TTL        Duration          `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	MaxEntries int               `yaml:"maxEntries,omitempty" json:"maxEntries,omitempty"`
	Redis      *RedisCacheConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisCacheConfig configures the redis cache backend.
type RedisCacheConfig struct {
	// URL has the form redis://[user:password@]host:port[/db].
	URL            string   `yaml:"url" json:"url"`
	KeyPrefix      string   `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	PoolSize       int      `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	ConnectTimeout Duration `yaml:"connectTimeout,omitempty" json:"connectTimeout,omitempty"`
	ReadTimeout    Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout   Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	// TTLJitter spreads expiry by up to this fraction of the TTL (0.0 to 1.0).
	TTLJitter float64 `yaml:"ttlJitter,omitempty" json:"ttlJitter,omitempty"`
}

// Upstream is a GraphQL server admitted requests are forwarded to.
type Upstream struct {
	Name           string                `yaml:"name" json:"name"`
	Scheme         string                `yaml:"scheme,omitempty" json:"scheme,omitempty"`
	Hosts          []UpstreamHost        `yaml:"hosts" json:"hosts"`
	Timeout        Duration              `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
}

// UpstreamHost is one upstream endpoint.
type UpstreamHost struct {
	Address string `yaml:"address" json:"address"`
	Port    int    `yaml:"port" json:"port"`
}

// CircuitBreakerConfig configures the per-upstream breaker.
type CircuitBreakerConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Threshold int      `yaml:"threshold" json:"threshold"`
	Timeout   Duration `yaml:"timeout" json:"timeout"`
}

// Route selects per-request limits and an upstream.
type Route struct {
	Name     string       `yaml:"name" json:"name"`
	Match    []RouteMatch `yaml:"match,omitempty" json:"match,omitempty"`
	Upstream string       `yaml:"upstream,omitempty" json:"upstream,omitempty"`
	Limits   *Limits      `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// RouteMatch is one match condition. All set fields must match.
type RouteMatch struct {
	Path          *StringMatch  `yaml:"path,omitempty" json:"path,omitempty"`
	OperationType string        `yaml:"operationType,omitempty" json:"operationType,omitempty"`
	OperationName *StringMatch  `yaml:"operationName,omitempty" json:"operationName,omitempty"`
	Headers       []HeaderMatch `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// StringMatch matches a value exactly, by prefix or by regular expression.
type StringMatch struct {
	Exact  string `yaml:"exact,omitempty" json:"exact,omitempty"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Regex  string `yaml:"regex,omitempty" json:"regex,omitempty"`
}

// HeaderMatch matches a request header value.
type HeaderMatch struct {
	Name   string `yaml:"name" json:"name"`
	Exact  string `yaml:"exact,omitempty" json:"exact,omitempty"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Regex  string `yaml:"regex,omitempty" json:"regex,omitempty"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
	Tracing *TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}
