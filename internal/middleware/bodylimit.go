package middleware

import (
	"net/http"

	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// BodyLimit returns a middleware that rejects bodies larger than maxSize
// with 413. Declared lengths are rejected up front; streamed bodies fail
// on read once the limit is crossed. A maxSize of 0 or less disables it.
func BodyLimit(maxSize int64, logger observability.Logger) Middleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		if maxSize <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				logger.WithContext(r.Context()).Warn("request body too large",
					observability.Int64("content_length", r.ContentLength),
					observability.Int64("max_size", maxSize),
					observability.String("path", r.URL.Path),
				)
				GetMiddlewareMetrics().bodyLimitRejected.Inc()
				WriteGraphQLError(w, http.StatusRequestEntityTooLarge, "request entity too large", CodePayloadTooLarge)
				return
			}

			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}
