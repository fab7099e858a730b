package middleware

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

// responseWriter captures the status code and size of a response.
type responseWriter struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush implements http.Flusher for streamed upstream responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logging returns a middleware that writes one access log entry per request,
// including the GraphQL admission result recorded by inner handlers.
func Logging(logger observability.Logger) Middleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, info := ContextWithRequestInfo(r.Context())
			r = r.WithContext(ctx)
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			GetMiddlewareMetrics().observe(r.Method, rw.status, duration)

			admission := info.Snapshot()
			fields := []observability.Field{
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.Int("status", rw.status),
				observability.Int("size", rw.size),
				observability.Duration("duration", duration),
				observability.String("remote_addr", r.RemoteAddr),
				observability.String("user_agent", r.UserAgent()),
			}
			if admission.Route != "" {
				fields = append(fields, observability.String("route", admission.Route))
			}
			if admission.Upstream != "" {
				fields = append(fields, observability.String("upstream", admission.Upstream))
			}
			if admission.OperationType != "" {
				fields = append(fields,
					observability.String("operation_type", admission.OperationType),
					observability.String("operation_name", admission.OperationName),
					observability.Int("depth", admission.Depth),
					observability.Uint64("cost", admission.Cost),
				)
			}
			if admission.Rejected != "" {
				fields = append(fields, observability.String("rejected", admission.Rejected))
			}

			//nolint:contextcheck // request context carries the request ID
			logger.WithContext(r.Context()).Info("http request", fields...)
		})
	}
}
