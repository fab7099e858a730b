// Package proxy forwards admitted GraphQL requests to upstream servers.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/metrics"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/router"
	transport "github.com/vyrodovalexey/gqlguard/internal/middleware"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

const tracerName = "gqlguard/graphql-proxy"

// Forwarding errors.
var (
	// ErrUnknownUpstream is returned when a route names an upstream that is not configured.
	ErrUnknownUpstream = errors.New("unknown upstream")

	// ErrNoHosts is returned when an upstream has no hosts.
	ErrNoHosts = errors.New("upstream has no hosts")
)

// Proxy is a reverse proxy over named upstreams. It is an http.Handler
// that forwards to the upstream of the route admission attached to the
// request context.
type Proxy struct {
	mu        sync.RWMutex
	upstreams map[string]*upstream
	fallback  string

	transport http.RoundTripper
	logger    observability.Logger
	metrics   *metrics.Metrics
}

type upstream struct {
	name      string
	scheme    string
	hosts     []string
	next      atomic.Uint64
	timeout   time.Duration
	breaker   *gobreaker.CircuitBreaker
	breakerCf *config.CircuitBreakerConfig
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the proxy logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Proxy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTransport sets the round tripper used for upstream requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) {
		p.transport = rt
	}
}

// WithMetrics records into m instead of the process-wide metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Proxy) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New creates a Proxy with no upstreams.
func New(opts ...Option) *Proxy {
	p := &Proxy{
		upstreams: make(map[string]*upstream),
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.GetMetrics()
	}
	if p.transport == nil {
		p.transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		}
	}
	return p
}

// UpdateUpstreams replaces the upstream set. A breaker survives the update
// when its upstream keeps the same breaker settings. Requests for a route
// without an upstream go to the first upstream.
func (p *Proxy) UpdateUpstreams(upstreams []config.Upstream) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]*upstream, len(upstreams))
	for i := range upstreams {
		cfg := &upstreams[i]
		u := &upstream{
			name:    cfg.Name,
			scheme:  cfg.Scheme,
			hosts:   make([]string, 0, len(cfg.Hosts)),
			timeout: cfg.Timeout.OrDefault(config.DefaultUpstreamTimeout),
		}
		if u.scheme == "" {
			u.scheme = "http"
		}
		for _, h := range cfg.Hosts {
			u.hosts = append(u.hosts, net.JoinHostPort(h.Address, strconv.Itoa(h.Port)))
		}

		if cb := cfg.CircuitBreaker; cb != nil && cb.Enabled {
			cbCopy := *cb
			u.breakerCf = &cbCopy
			if prev, ok := p.upstreams[cfg.Name]; ok && prev.breaker != nil && breakerConfigEqual(prev.breakerCf, u.breakerCf) {
				u.breaker = prev.breaker
			} else {
				u.breaker = newBreaker(cfg.Name, u.breakerCf, p.metrics, p.logger)
			}
		}
		next[cfg.Name] = u
	}

	p.upstreams = next
	p.fallback = ""
	if len(upstreams) > 0 {
		p.fallback = upstreams[0].Name
	}

	p.logger.Info("GraphQL upstreams updated",
		observability.Int("count", len(upstreams)),
	)
}

// UpstreamCount returns the number of configured upstreams.
func (p *Proxy) UpstreamCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.upstreams)
}

// ServeHTTP forwards r and relays the upstream response.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := ""
	if route := router.RouteFromContext(r.Context()); route != nil {
		name = route.Upstream
	}

	resp, err := p.Forward(r.Context(), name, r)
	if err != nil {
		p.writeError(w, r, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.WithContext(r.Context()).Debug("failed to relay upstream response body",
			observability.Error(err),
		)
	}
}

func (p *Proxy) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		transport.WriteGraphQLError(w, http.StatusServiceUnavailable, "upstream unavailable", transport.CodeServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		transport.WriteGraphQLError(w, http.StatusGatewayTimeout, "upstream timed out", transport.CodeBadGateway)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// client went away
	default:
		transport.WriteGraphQLError(w, http.StatusBadGateway, "upstream request failed", transport.CodeBadGateway)
	}
}

// Forward sends r to the named upstream, or to the first upstream when
// name is empty. The caller closes the response body.
func (p *Proxy) Forward(ctx context.Context, name string, r *http.Request) (*http.Response, error) {
	u, err := p.resolve(name)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "graphql.proxy.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("graphql.upstream", u.name),
			attribute.String("http.request.method", r.Method),
		),
	)
	defer span.End()

	start := time.Now()
	target := u.pick()
	span.SetAttributes(attribute.String("server.address", target))

	var resp *http.Response
	if u.breaker == nil {
		resp, err = p.roundTrip(ctx, u, target, r)
	} else {
		resp, err = p.roundTripWithBreaker(ctx, u, target, r)
	}
	duration := time.Since(start)

	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = http.StatusServiceUnavailable
		}
		p.metrics.RecordUpstreamRequest(u.name, status, duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.WithContext(ctx).Warn("GraphQL upstream request failed",
			observability.String("upstream", u.name),
			observability.String("host", target),
			observability.Error(err),
		)
		return nil, err
	}

	p.metrics.RecordUpstreamRequest(u.name, resp.StatusCode, duration)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	p.logger.WithContext(ctx).Debug("GraphQL request forwarded",
		observability.String("upstream", u.name),
		observability.Int("status", resp.StatusCode),
		observability.Duration("duration", duration),
	)
	return resp, nil
}

func (p *Proxy) roundTripWithBreaker(
	ctx context.Context,
	u *upstream,
	target string,
	r *http.Request,
) (*http.Response, error) {
	res, err := u.breaker.Execute(func() (interface{}, error) {
		resp, err := p.roundTrip(ctx, u, target, r)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, &upstreamStatusError{status: resp.StatusCode}
		}
		return resp, nil
	})

	resp, _ := res.(*http.Response)
	var statusErr *upstreamStatusError
	if errors.As(err, &statusErr) && resp != nil {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Proxy) roundTrip(ctx context.Context, u *upstream, target string, r *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)

	out, err := newUpstreamRequest(ctx, r, &url.URL{Scheme: u.scheme, Host: target})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	observability.InjectTraceContext(ctx, out)

	resp, err := p.transport.RoundTrip(out)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to forward request to %s: %w", u.name, err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (p *Proxy) resolve(name string) (*upstream, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if name == "" {
		name = p.fallback
	}
	u, ok := p.upstreams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUpstream, name)
	}
	if len(u.hosts) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoHosts, name)
	}
	return u, nil
}

// pick returns the next host in round-robin order.
func (u *upstream) pick() string {
	n := u.next.Add(1) - 1
	return u.hosts[n%uint64(len(u.hosts))]
}

// Close releases idle upstream connections.
func (p *Proxy) Close() {
	if t, ok := p.transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	p.logger.Info("GraphQL proxy closed")
}

// cancelOnClose releases the request context once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// newUpstreamRequest copies original onto target, keeping path and query.
func newUpstreamRequest(ctx context.Context, original *http.Request, target *url.URL) (*http.Request, error) {
	reqURL := *target
	reqURL.Path = original.URL.Path
	reqURL.RawPath = original.URL.RawPath
	reqURL.RawQuery = original.URL.RawQuery

	var body io.Reader
	if original.GetBody != nil {
		rc, err := original.GetBody()
		if err != nil {
			return nil, err
		}
		body = rc
	} else if original.Body != nil && original.Body != http.NoBody {
		body = original.Body
	}

	req, err := http.NewRequestWithContext(ctx, original.Method, reqURL.String(), body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = original.ContentLength
	if original.GetBody != nil {
		req.GetBody = original.GetBody
	}

	copyHeaders(req.Header, original.Header)
	setForwardedHeaders(req, original)
	return req, nil
}

func setForwardedHeaders(req, original *http.Request) {
	if host, _, err := net.SplitHostPort(original.RemoteAddr); err == nil {
		if prior := original.Header.Get(transport.HeaderXForwardedFor); prior != "" {
			req.Header.Set(transport.HeaderXForwardedFor, prior+", "+host)
		} else {
			req.Header.Set(transport.HeaderXForwardedFor, host)
		}
	}

	req.Header.Set(transport.HeaderXForwardedHost, original.Host)
	if original.TLS != nil {
		req.Header.Set(transport.HeaderXForwardedProto, "https")
	} else {
		req.Header.Set(transport.HeaderXForwardedProto, "http")
	}
}

// hopByHopHeaders apply to a single connection and are never forwarded.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// copyHeaders copies src into dst without hop-by-hop headers, including
// those named by src's Connection header.
func copyHeaders(dst, src http.Header) {
	connection := make(map[string]bool)
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				connection[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	for key, values := range src {
		if hopByHopHeaders[key] || connection[key] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
