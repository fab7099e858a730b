// Package router selects the route, and with it the admission limits and
// upstream, for a GraphQL request.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/analysis"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/document"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

const routerTracerName = "gqlguard/graphql-router"

// DefaultRouteName names the route synthesized when none are configured.
const DefaultRouteName = "default"

// ErrNoRoute is returned by Match when no route accepts the request.
var ErrNoRoute = errors.New("no route matches the request")

// Operation identifies the selected operation of a request. Type is
// "query", "mutation" or "subscription", or empty when no single operation
// could be selected.
type Operation struct {
	Type string
	Name string
}

// OperationOf returns the operation selected by name from doc. On failure
// the returned Operation carries only the requested name.
func OperationOf(doc *document.Document, name string) (Operation, error) {
	op, err := analysis.ResolveOperation(doc, name)
	if err != nil {
		return Operation{Name: name}, err
	}
	return Operation{Type: string(op.Operation), Name: op.Name}, nil
}

// DetectOperation parses query and returns its selected operation.
func DetectOperation(query, name string) (Operation, error) {
	doc, err := document.Parse(query)
	if err != nil {
		return Operation{Name: name}, fmt.Errorf("%w: %w", analysis.ErrParse, err)
	}
	return OperationOf(doc, name)
}

// Limits are the effective admission limits of a route. Zero MaxDepth and
// MaxCost disable the respective check.
type Limits struct {
	MaxDepth              int
	MaxCost               analysis.Cost
	AllowMissingOperation bool
	AllowIntrospection    bool
}

// LimitsFromConfig converts merged configuration limits. Negative values,
// which routes use to opt out of a global limit, disable the check.
func LimitsFromConfig(l config.Limits) Limits {
	out := Limits{
		MaxDepth:              max(l.MaxDepth, 0),
		AllowMissingOperation: l.MissingOperation == config.MissingOperationAllow,
		AllowIntrospection:    l.IntrospectionAllowed(),
	}
	if l.MaxCost > 0 {
		out.MaxCost = analysis.Cost(l.MaxCost)
	}
	return out
}

// Route is a matched route.
type Route struct {
	Name     string
	Upstream string
	Limits   Limits
}

type routeKey struct{}

// ContextWithRoute attaches the admitted route to ctx.
func ContextWithRoute(ctx context.Context, route *Route) context.Context {
	return context.WithValue(ctx, routeKey{}, route)
}

// RouteFromContext returns the admitted route of ctx, or nil.
func RouteFromContext(ctx context.Context) *Route {
	route, _ := ctx.Value(routeKey{}).(*Route)
	return route
}

// Router matches requests against configured routes in declaration order.
// It is safe for concurrent use; Load swaps the route table atomically.
type Router struct {
	mu     sync.RWMutex
	routes []compiledRoute
	logger observability.Logger
}

type compiledRoute struct {
	route   Route
	matches []compiledMatch
}

type compiledMatch struct {
	cfg         config.RouteMatch
	pathRegex   *regexp.Regexp
	opNameRegex *regexp.Regexp
	headerRegex map[string]*regexp.Regexp
}

// Option configures a Router.
type Option func(*Router)

// WithRouterLogger sets the router's logger.
func WithRouterLogger(logger observability.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Router with no routes.
func New(opts ...Option) *Router {
	r := &Router{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load compiles routes with their limits merged over global. With no
// routes a single catch-all route named DefaultRouteName is installed,
// forwarding to defaultUpstream.
func (r *Router) Load(routes []config.Route, global config.Limits, defaultUpstream string) error {
	if len(routes) == 0 {
		routes = []config.Route{{Name: DefaultRouteName, Upstream: defaultUpstream}}
	}

	compiled := make([]compiledRoute, 0, len(routes))
	for i := range routes {
		cr, err := compileRoute(&routes[i], global)
		if err != nil {
			return fmt.Errorf("failed to compile route %q: %w", routes[i].Name, err)
		}
		compiled = append(compiled, cr)
	}

	r.mu.Lock()
	r.routes = compiled
	r.mu.Unlock()

	r.logger.Info("GraphQL routes loaded",
		observability.Int("count", len(compiled)),
	)
	return nil
}

// RouteCount returns the number of loaded routes.
func (r *Router) RouteCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Match returns the first route accepting req and op, or ErrNoRoute.
func (r *Router) Match(req *http.Request, op Operation) (*Route, error) {
	_, span := otel.Tracer(routerTracerName).Start(req.Context(), "graphql.router.match",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.routes {
		cr := &r.routes[i]
		if !cr.accepts(req, op) {
			continue
		}
		span.SetAttributes(
			attribute.String("graphql.route", cr.route.Name),
			attribute.String("graphql.upstream", cr.route.Upstream),
			attribute.String("graphql.operation.type", op.Type),
			attribute.String("graphql.operation.name", op.Name),
		)
		route := cr.route
		return &route, nil
	}

	span.SetAttributes(attribute.Bool("graphql.route_matched", false))
	return nil, ErrNoRoute
}

// accepts reports whether any match condition is satisfied. A route
// without conditions accepts everything.
func (cr *compiledRoute) accepts(req *http.Request, op Operation) bool {
	if len(cr.matches) == 0 {
		return true
	}
	for i := range cr.matches {
		if cr.matches[i].satisfied(req, op) {
			return true
		}
	}
	return false
}

func (m *compiledMatch) satisfied(req *http.Request, op Operation) bool {
	if m.cfg.Path != nil && !matchString(m.cfg.Path, req.URL.Path, m.pathRegex) {
		return false
	}
	if m.cfg.OperationType != "" && !strings.EqualFold(m.cfg.OperationType, op.Type) {
		return false
	}
	if m.cfg.OperationName != nil && !matchString(m.cfg.OperationName, op.Name, m.opNameRegex) {
		return false
	}
	for i := range m.cfg.Headers {
		hm := &m.cfg.Headers[i]
		sm := config.StringMatch{Exact: hm.Exact, Prefix: hm.Prefix, Regex: hm.Regex}
		if !matchString(&sm, req.Header.Get(hm.Name), m.headerRegex[hm.Name]) {
			return false
		}
	}
	return true
}

func matchString(sm *config.StringMatch, value string, re *regexp.Regexp) bool {
	switch {
	case sm.Exact != "":
		return sm.Exact == value
	case sm.Prefix != "":
		return strings.HasPrefix(value, sm.Prefix)
	case re != nil:
		return re.MatchString(value)
	default:
		return true
	}
}

func compileRoute(route *config.Route, global config.Limits) (compiledRoute, error) {
	cr := compiledRoute{
		route: Route{
			Name:     route.Name,
			Upstream: route.Upstream,
			Limits:   LimitsFromConfig(global.Merge(route.Limits)),
		},
		matches: make([]compiledMatch, 0, len(route.Match)),
	}

	for i := range route.Match {
		m, err := compileMatch(route.Match[i])
		if err != nil {
			return compiledRoute{}, err
		}
		cr.matches = append(cr.matches, m)
	}
	return cr, nil
}

func compileMatch(cfg config.RouteMatch) (compiledMatch, error) {
	m := compiledMatch{cfg: cfg, headerRegex: make(map[string]*regexp.Regexp)}

	if cfg.Path != nil && cfg.Path.Regex != "" {
		re, err := regexp.Compile(cfg.Path.Regex)
		if err != nil {
			return m, fmt.Errorf("invalid path regex: %w", err)
		}
		m.pathRegex = re
	}

	if cfg.OperationName != nil && cfg.OperationName.Regex != "" {
		re, err := regexp.Compile(cfg.OperationName.Regex)
		if err != nil {
			return m, fmt.Errorf("invalid operation name regex: %w", err)
		}
		m.opNameRegex = re
	}

	for _, hm := range cfg.Headers {
		if hm.Regex == "" {
			continue
		}
		re, err := regexp.Compile(hm.Regex)
		if err != nil {
			return m, fmt.Errorf("invalid header regex for %q: %w", hm.Name, err)
		}
		m.headerRegex[hm.Name] = re
	}
	return m, nil
}
