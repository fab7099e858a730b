package middleware

import "net/http"

// HTTP header constants.
const (
	HeaderContentType     = "Content-Type"
	HeaderRetryAfter      = "Retry-After"
	HeaderXRequestID      = "X-Request-ID"
	HeaderXForwardedFor   = "X-Forwarded-For"
	HeaderXForwardedProto = "X-Forwarded-Proto"
	HeaderXForwardedHost  = "X-Forwarded-Host"
	HeaderXRealIP         = "X-Real-IP"
)

// Content type constants.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeGraphQL = "application/graphql"
)

// GraphQL error extension codes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeParseFailed        = "GRAPHQL_PARSE_FAILED"
	CodeOperationNotFound  = "OPERATION_NOT_FOUND"
	CodeDepthExceeded      = "DEPTH_LIMIT_EXCEEDED"
	CodeCostExceeded       = "COST_LIMIT_EXCEEDED"
	CodeBudgetExhausted    = "COST_BUDGET_EXHAUSTED"
	CodeIntrospection      = "INTROSPECTION_DISABLED"
	CodeNoRoute            = "NO_ROUTE"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
	CodeBadGateway         = "BAD_GATEWAY"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws to h so that the first middleware is outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
