package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/analysis"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/metrics"
	gqlmw "github.com/vyrodovalexey/gqlguard/internal/graphql/middleware"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/proxy"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/router"
	"github.com/vyrodovalexey/gqlguard/internal/health"
	transport "github.com/vyrodovalexey/gqlguard/internal/middleware"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// DefaultShutdownTimeout bounds Stop when the caller's context has no deadline.
const DefaultShutdownTimeout = 30 * time.Second

const (
	checkCache           = "cache"
	upstreamCheckPrefix  = "upstream:"
	upstreamCheckTimeout = 2 * time.Second
)

// Gateway is the GraphQL admission gateway.
type Gateway struct {
	logger          observability.Logger
	metrics         *metrics.Metrics
	gatherer        prometheus.Gatherer
	tracer          *observability.Tracer
	version         string
	shutdownTimeout time.Duration
	transport       http.RoundTripper

	admission *gqlmw.Admission
	proxy     *proxy.Proxy
	health    *health.Checker

	state atomic.Int32

	mu             sync.RWMutex
	config         *config.GuardConfig
	bundle         *Bundle
	budget         *gqlmw.CostBudget
	upstreamChecks []string
	public         *Listener
	admin          *Listener
	startTime      time.Time
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithShutdownTimeout sets the shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.shutdownTimeout = timeout
		}
	}
}

// WithMetrics records GraphQL metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithGatherer sets what the admin listener exposes on the metrics path.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(g *Gateway) {
		g.gatherer = gatherer
	}
}

// WithTracer sets the tracer used for server spans.
func WithTracer(t *observability.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = t
	}
}

// WithVersion sets the version reported by the liveness probe.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.version = version
	}
}

// WithUpstreamTransport sets the round tripper used to reach upstreams.
func WithUpstreamTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) {
		g.transport = rt
	}
}

// New creates a stopped gateway for cfg. bundle may be nil when cfg has no
// schema and no cache.
func New(cfg *config.GuardConfig, bundle *Bundle, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	g := &Gateway{
		logger:          observability.NopLogger(),
		shutdownTimeout: DefaultShutdownTimeout,
		gatherer:        prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = metrics.GetMetrics()
	}
	if g.tracer == nil {
		g.tracer, _ = observability.NewTracer(context.Background(), observability.TracerConfig{})
	}

	proxyOpts := []proxy.Option{proxy.WithLogger(g.logger), proxy.WithMetrics(g.metrics)}
	if g.transport != nil {
		proxyOpts = append(proxyOpts, proxy.WithTransport(g.transport))
	}
	g.proxy = proxy.New(proxyOpts...)

	clientIP := transport.NewClientIPExtractor(cfg.Spec.Listen.TrustedProxies)
	g.admission = gqlmw.NewAdmission(nil,
		gqlmw.WithAdmissionLogger(g.logger),
		gqlmw.WithAdmissionMetrics(g.metrics),
		gqlmw.WithClientKeyFunc(clientIP.Extract),
	)
	g.health = health.NewChecker(g.version, g.logger, health.WithMetrics(health.GetHealthMetrics()))

	if bundle == nil {
		bundle = &Bundle{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.apply(cfg, bundle); err != nil {
		return nil, err
	}
	g.state.Store(int32(StateStopped))
	return g, nil
}

// Start binds both listeners and marks the gateway ready.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrGatewayNotStopped
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("starting gateway",
		observability.String("name", g.config.Metadata.Name),
	)

	listen := g.config.Spec.Listen
	g.public = NewListener("public", listen.Address, g.publicHandler(listen),
		WithListenerLogger(g.logger),
		WithTimeouts(
			listen.ReadTimeout.OrDefault(config.DefaultReadTimeout),
			listen.WriteTimeout.OrDefault(config.DefaultWriteTimeout),
			listen.IdleTimeout.OrDefault(config.DefaultIdleTimeout),
		),
	)
	g.admin = NewListener("admin", g.config.Spec.Admin.Address, g.adminHandler(g.config.Spec.Admin),
		WithListenerLogger(g.logger),
	)

	if err := g.public.Start(ctx); err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start listener %s: %w", g.public.Name(), err)
	}
	if err := g.admin.Start(ctx); err != nil {
		_ = g.public.Stop(ctx)
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start listener %s: %w", g.admin.Name(), err)
	}

	g.startTime = time.Now()
	g.health.SetReady(true)
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started",
		observability.String("name", g.config.Metadata.Name),
		observability.String("public_address", g.public.Addr()),
		observability.String("admin_address", g.admin.Addr()),
	)
	return nil
}

// Stop fails readiness, then drains both listeners. Without a deadline on
// ctx it waits at most the shutdown timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrGatewayNotRunning
	}

	g.mu.RLock()
	name := g.config.Metadata.Name
	listeners := []*Listener{g.public, g.admin}
	g.mu.RUnlock()

	g.logger.Info("stopping gateway",
		observability.String("name", name),
	)
	g.health.SetReady(false)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.shutdownTimeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l *Listener) {
			defer wg.Done()
			if err := l.Stop(ctx); err != nil {
				g.logger.Error("failed to stop listener",
					observability.String("name", l.Name()),
					observability.Error(err),
				)
			}
		}(l)
	}
	wg.Wait()

	g.state.Store(int32(StateStopped))
	g.logger.Info("gateway stopped",
		observability.String("name", name),
	)
	return nil
}

// Close releases the cost budget, the upstream connections and the result
// cache. Call it after Stop.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.budget != nil {
		g.budget.Stop()
		g.budget = nil
	}
	g.proxy.Close()
	closeBundle(g.bundle, g.logger)
	g.bundle = &Bundle{}
}

// Reload validates cfg and swaps routes, limits, analyzers, upstreams and
// the budget. A nil bundle keeps the current one. Listener settings only
// take effect on the next Start.
func (g *Gateway) Reload(cfg *config.GuardConfig, bundle *Bundle) error {
	if cfg == nil {
		return ErrNilConfig
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("reloading gateway configuration",
		observability.String("name", cfg.Metadata.Name),
	)
	if bundle == nil {
		bundle = g.bundle
	}
	if err := g.apply(cfg, bundle); err != nil {
		return err
	}
	g.logger.Info("gateway configuration reloaded",
		observability.String("name", cfg.Metadata.Name),
		observability.Int("upstreams", len(cfg.Spec.Upstreams)),
		observability.Int("routes", len(cfg.Spec.Routes)),
	)
	return nil
}

// apply builds admission state for cfg and swaps it in. Callers hold g.mu.
func (g *Gateway) apply(cfg *config.GuardConfig, bundle *Bundle) error {
	defaultUpstream := ""
	if len(cfg.Spec.Upstreams) > 0 {
		defaultUpstream = cfg.Spec.Upstreams[0].Name
	}
	rt := router.New(router.WithRouterLogger(g.logger))
	if err := rt.Load(cfg.Spec.Routes, cfg.Spec.Limits, defaultUpstream); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	limits := cfg.Spec.Limits
	state := &gqlmw.State{
		Depth: gqlmw.NewDepthLimiter(limits.MaxDepth, g.logger,
			gqlmw.WithResultCache(bundle.Results),
			gqlmw.WithLimiterMaxRecursion(limits.MaxRecursion),
		),
		Routes: rt,
		Budget: g.budget,
	}
	budgetChanged := g.config == nil || !sameBudget(g.config.Spec.Budget, cfg.Spec.Budget)
	if budgetChanged {
		state.Budget = gqlmw.CostBudgetFromConfig(cfg.Spec.Budget, g.logger)
	}
	if bundle.Cost != nil {
		var maxCost analysis.Cost
		if limits.MaxCost > 0 {
			maxCost = analysis.Cost(limits.MaxCost)
		}
		state.Cost = gqlmw.NewCostLimiter(bundle.Cost, maxCost, g.logger,
			gqlmw.WithResultCache(bundle.Results),
		)
	}

	g.proxy.UpdateUpstreams(cfg.Spec.Upstreams)
	g.admission.Update(state)
	g.updateChecks(cfg, bundle)

	oldBudget, oldBundle := g.budget, g.bundle
	g.config, g.bundle, g.budget = cfg, bundle, state.Budget

	if budgetChanged && oldBudget != nil {
		oldBudget.Stop()
	}
	if oldBundle != nil && oldBundle != bundle {
		closeBundle(oldBundle, g.logger)
	}
	return nil
}

// sameBudget reports whether two budget settings describe the same bucket,
// in which case the running one keeps its tokens across a reload.
func sameBudget(a, b *config.BudgetConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (g *Gateway) updateChecks(cfg *config.GuardConfig, bundle *Bundle) {
	g.health.RegisterCheck(checkCache, health.CacheCheck(bundle.Backend))

	for _, name := range g.upstreamChecks {
		g.health.UnregisterCheck(name)
	}
	g.upstreamChecks = g.upstreamChecks[:0]
	for _, u := range cfg.Spec.Upstreams {
		addrs := make([]string, 0, len(u.Hosts))
		for _, h := range u.Hosts {
			addrs = append(addrs, net.JoinHostPort(h.Address, strconv.Itoa(h.Port)))
		}
		name := upstreamCheckPrefix + u.Name
		g.health.RegisterCheck(name, health.TCPCheck(addrs, upstreamCheckTimeout))
		g.upstreamChecks = append(g.upstreamChecks, name)
	}
}

// publicHandler is the GraphQL middleware chain in front of the proxy.
func (g *Gateway) publicHandler(listen config.ListenConfig) http.Handler {
	return transport.Chain(g.proxy,
		transport.RequestID(),
		transport.Recovery(g.logger),
		transport.Logging(g.logger),
		observability.TracingMiddleware(g.tracer),
		transport.BodyLimit(listen.MaxBodySize, g.logger),
		g.admission.Middleware,
	)
}

func (g *Gateway) adminHandler(admin config.AdminConfig) http.Handler {
	path := admin.MetricsPath
	if path == "" {
		path = config.DefaultMetricsPath
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))
	g.health.RegisterRoutes(mux)
	return mux
}

// Handler returns the public GraphQL handler for the current configuration.
func (g *Gateway) Handler() http.Handler {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.publicHandler(g.config.Spec.Listen)
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the time since the last successful Start.
func (g *Gateway) Uptime() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}

// Config returns the current configuration.
func (g *Gateway) Config() *config.GuardConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// Health returns the probe checker.
func (g *Gateway) Health() *health.Checker {
	return g.health
}

// PublicAddr returns the bound public address, or "" before Start.
func (g *Gateway) PublicAddr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.public == nil {
		return ""
	}
	return g.public.Addr()
}

// AdminAddr returns the bound admin address, or "" before Start.
func (g *Gateway) AdminAddr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.admin == nil {
		return ""
	}
	return g.admin.Addr()
}
