package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// Recovery returns a middleware that turns handler panics into a 500
// GraphQL error response.
func Recovery(logger observability.Logger) Middleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.WithContext(r.Context()).Error("panic recovered",
					observability.String("path", r.URL.Path),
					observability.String("method", r.Method),
					observability.Any("error", rec),
					observability.String("stack", string(debug.Stack())),
				)
				GetMiddlewareMetrics().panicsRecovered.Inc()

				WriteGraphQLError(w, http.StatusInternalServerError, "internal server error", CodeInternal)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
