package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/analysis"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/document"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/metrics"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/router"
	transport "github.com/vyrodovalexey/gqlguard/internal/middleware"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// Client-facing messages of failures that do not map to a sentinel.
const (
	msgDepthFailed      = "could not calculate operation depth"
	msgCostFailed       = "could not calculate operation cost"
	msgBodyTooLarge     = "request entity too large"
	msgMissingOperation = "missing operation"
)

// RouteMatcher selects the route of an admitted request.
type RouteMatcher interface {
	Match(r *http.Request, op router.Operation) (*router.Route, error)
}

// State is the reloadable part of admission. Cost and Budget are optional.
type State struct {
	Depth  *DepthLimiter
	Cost   *CostLimiter
	Routes RouteMatcher
	Budget *CostBudget
}

// Admission rejects GraphQL requests that violate their route's limits
// before they reach the upstream.
type Admission struct {
	state         atomic.Pointer[State]
	introspection *IntrospectionGuard
	metrics       *metrics.Metrics
	logger        observability.Logger
	clientKey     func(*http.Request) string
}

// AdmissionOption configures an Admission.
type AdmissionOption func(*Admission)

// WithAdmissionLogger sets the admission logger.
func WithAdmissionLogger(logger observability.Logger) AdmissionOption {
	return func(a *Admission) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAdmissionMetrics records into m instead of the process-wide metrics.
func WithAdmissionMetrics(m *metrics.Metrics) AdmissionOption {
	return func(a *Admission) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithClientKeyFunc sets how requests are attributed to a cost budget
// bucket. The default is the peer address.
func WithClientKeyFunc(fn func(*http.Request) string) AdmissionOption {
	return func(a *Admission) {
		if fn != nil {
			a.clientKey = fn
		}
	}
}

// NewAdmission creates the admission middleware with an initial state.
func NewAdmission(state *State, opts ...AdmissionOption) *Admission {
	a := &Admission{
		logger:    observability.NopLogger(),
		clientKey: transport.NewClientIPExtractor(nil).Extract,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.GetMetrics()
	}
	a.introspection = NewIntrospectionGuard(false, a.logger)
	a.Update(state)
	return a
}

// Update swaps the admission state. Requests already being admitted finish
// with the state they started with.
func (a *Admission) Update(state *State) {
	s := State{}
	if state != nil {
		s = *state
	}
	if s.Depth == nil {
		s.Depth = NewDepthLimiter(0, a.logger)
	}
	if s.Routes == nil {
		rt := router.New(router.WithRouterLogger(a.logger))
		_ = rt.Load(nil, config.Limits{}, "")
		s.Routes = rt
	}
	a.state.Store(&s)
}

// State returns the current admission state.
func (a *Admission) State() *State {
	return a.state.Load()
}

// admissionRun accumulates what is known about one request as it is checked.
type admissionRun struct {
	w       http.ResponseWriter
	metrics *metrics.Metrics
	fields  transport.AdmissionFields
	span    trace.Span
	info    *transport.RequestInfo
}

// reject counts a rejection for reason and writes the error response.
func (run *admissionRun) reject(status int, reason, message, code string) {
	run.metrics.RecordRejection(reason)
	run.fail(status, reason, message, code)
}

// fail writes the error response without counting a rejection.
func (run *admissionRun) fail(status int, label, message, code string) {
	run.fields.Rejected = label
	transport.WriteGraphQLError(run.w, status, message, code)
}

func (run *admissionRun) publish() {
	run.span.SetAttributes(
		attribute.String("graphql.operation.type", run.fields.OperationType),
		attribute.String("graphql.operation.name", run.fields.OperationName),
		attribute.String("graphql.route", run.fields.Route),
		attribute.Int("graphql.depth", run.fields.Depth),
		attribute.Int64("graphql.cost", int64(min(run.fields.Cost, uint64(math.MaxInt64)))),
	)
	if run.fields.Rejected != "" {
		run.span.SetAttributes(attribute.String("graphql.rejected", run.fields.Rejected))
	}
	if run.info != nil {
		run.info.Set(run.fields)
	}
}

// Middleware returns the admission handler wrapping next.
func (a *Admission) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := a.state.Load()
		ctx := r.Context()
		run := &admissionRun{
			w:       w,
			metrics: a.metrics,
			span:    trace.SpanFromContext(ctx),
			info:    transport.RequestInfoFromContext(ctx),
		}
		defer run.publish()

		gqlReq, err := ParseRequest(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				run.fail(http.StatusRequestEntityTooLarge, "body_too_large", msgBodyTooLarge, transport.CodePayloadTooLarge)
				return
			}
			run.reject(http.StatusBadRequest, metrics.ReasonParseError, err.Error(), transport.CodeBadRequest)
			return
		}

		doc, err := document.Parse(gqlReq.Query)
		if err != nil {
			a.logger.WithContext(ctx).Debug("rejecting unparseable GraphQL document", observability.Error(err))
			run.reject(http.StatusBadRequest, metrics.ReasonParseError, analysis.ErrParse.Error(), transport.CodeParseFailed)
			return
		}

		op, opErr := router.OperationOf(doc, gqlReq.OperationName)
		run.fields.OperationType = op.Type
		run.fields.OperationName = op.Name

		route, err := st.Routes.Match(r, op)
		if err != nil {
			run.fail(http.StatusNotFound, "no_route", router.ErrNoRoute.Error(), transport.CodeNoRoute)
			return
		}
		run.fields.Route = route.Name
		run.fields.Upstream = route.Upstream
		ctx = router.ContextWithRoute(ctx, route)

		if opErr != nil {
			if route.Limits.AllowMissingOperation {
				a.logger.WithContext(ctx).Debug("forwarding request without a selectable operation",
					observability.String("route", route.Name),
					observability.Error(opErr),
				)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			run.reject(http.StatusBadRequest, metrics.ReasonMissingOperation, msgMissingOperation, transport.CodeOperationNotFound)
			return
		}

		if !a.checkDepth(ctx, run, st, doc, gqlReq, route) {
			return
		}

		if !route.Limits.AllowIntrospection {
			if err := a.introspection.CheckDocument(ctx, doc, gqlReq.OperationName); err != nil {
				run.reject(http.StatusBadRequest, metrics.ReasonIntrospectionBlocked,
					ErrIntrospectionDisabled.Error(), transport.CodeIntrospection)
				return
			}
		}

		if !a.checkCost(ctx, run, st, doc, gqlReq, route) {
			return
		}

		if st.Budget != nil {
			if ok, wait := st.Budget.Allow(a.clientKey(r), run.fields.Cost); !ok {
				w.Header().Set(transport.HeaderRetryAfter, strconv.Itoa(max(int(wait/time.Second), 1)))
				run.reject(http.StatusTooManyRequests, metrics.ReasonBudgetExhausted,
					ErrBudgetExhausted.Error(), transport.CodeBudgetExhausted)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Admission) checkDepth(
	ctx context.Context,
	run *admissionRun,
	st *State,
	doc *document.Document,
	req *Request,
	route *router.Route,
) bool {
	start := time.Now()
	depth, err := st.Depth.Evaluate(ctx, doc, req.Query, req.OperationName, route.Limits.MaxDepth)
	a.metrics.RecordAnalysisDuration(metrics.AnalyzerDepth, time.Since(start))
	run.fields.Depth = depth

	switch {
	case errors.Is(err, ErrDepthExceeded):
		a.metrics.RecordDepth(run.fields.OperationType, depth)
		run.reject(http.StatusBadRequest, metrics.ReasonDepthExceeded, ErrDepthExceeded.Error(), transport.CodeDepthExceeded)
		return false
	case err != nil:
		a.metrics.RecordAnalysisError(metrics.AnalyzerDepth)
		a.logger.WithContext(ctx).Error(msgDepthFailed,
			observability.String("route", route.Name),
			observability.Error(err),
		)
		run.fail(http.StatusInternalServerError, "depth_error", msgDepthFailed, transport.CodeInternal)
		return false
	}
	a.metrics.RecordDepth(run.fields.OperationType, depth)
	return true
}

func (a *Admission) checkCost(
	ctx context.Context,
	run *admissionRun,
	st *State,
	doc *document.Document,
	req *Request,
	route *router.Route,
) bool {
	if st.Cost == nil {
		return true
	}

	start := time.Now()
	cost, err := st.Cost.Evaluate(ctx, doc, req.Query, req.OperationName, route.Limits.MaxCost)
	a.metrics.RecordAnalysisDuration(metrics.AnalyzerCost, time.Since(start))
	run.fields.Cost = uint64(cost)

	switch {
	case errors.Is(err, ErrCostExceeded):
		a.metrics.RecordCost(uint64(cost))
		run.reject(http.StatusBadRequest, metrics.ReasonCostExceeded, ErrCostExceeded.Error(), transport.CodeCostExceeded)
		return false
	case err != nil:
		a.metrics.RecordAnalysisError(metrics.AnalyzerCost)
		a.logger.WithContext(ctx).Error(msgCostFailed,
			observability.String("route", route.Name),
			observability.Error(err),
		)
		run.fail(http.StatusInternalServerError, "cost_error", msgCostFailed, transport.CodeInternal)
		return false
	}
	a.metrics.RecordCost(uint64(cost))
	return true
}
