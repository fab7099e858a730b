package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

func observedLogger() (observability.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return observability.NewLoggerFromZap(zap.New(core)), logs
}

func TestChain_Order(t *testing.T) {
	t.Parallel()

	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("outer"), mark("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestWriteGraphQLError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteGraphQLError(rec, http.StatusBadRequest, "operation depth exceeded limit", CodeDepthExceeded)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ContentTypeJSON, rec.Header().Get(HeaderContentType))
	assert.JSONEq(t,
		`{"errors":[{"message":"operation depth exceeded limit","extensions":{"code":"DEPTH_LIMIT_EXCEEDED"}}]}`,
		rec.Body.String())
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		incoming string
		want     string
	}{
		{name: "generated when absent", incoming: "", want: "generated"},
		{name: "propagated when present", incoming: "abc-123", want: "abc-123"},
		{name: "replaced when oversized", incoming: strings.Repeat("x", maxRequestIDLength+1), want: "generated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen string
			h := RequestIDWithGenerator(func() string { return "generated" })(
				http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
					seen = observability.RequestIDFromContext(r.Context())
				}))

			req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
			if tt.incoming != "" {
				req.Header.Set(HeaderXRequestID, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, seen)
			assert.Equal(t, tt.want, rec.Header().Get(HeaderXRequestID))
		})
	}
}

func TestRequestID_DefaultGeneratesUUID(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	RequestID()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Len(t, rec.Header().Get(HeaderXRequestID), 36)
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/graphql", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, CodeInternal, resp.Errors[0].Extensions["code"])
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRecovery_RepanicsAbortHandler(t *testing.T) {
	t.Parallel()

	h := Recovery(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.Panics(t, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLogging_IncludesAdmissionFields(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := RequestInfoFromContext(r.Context())
		require.NotNil(t, info)
		info.Set(AdmissionFields{
			Route:         "default",
			Upstream:      "api",
			OperationType: "query",
			OperationName: "GetUser",
			Depth:         3,
			Cost:          13,
		})
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "ok")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/graphql", nil))

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(http.StatusAccepted), fields["status"])
	assert.Equal(t, int64(2), fields["size"])
	assert.Equal(t, "default", fields["route"])
	assert.Equal(t, "api", fields["upstream"])
	assert.Equal(t, "GetUser", fields["operation_name"])
	assert.Equal(t, int64(3), fields["depth"])
	assert.Equal(t, uint64(13), fields["cost"])
}

func TestLogging_WithoutAdmission(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	h := Logging(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	_, hasRoute := entries[0].ContextMap()["route"]
	assert.False(t, hasRoute)
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		maxSize    int64
		body       string
		wantStatus int
	}{
		{name: "within limit", maxSize: 64, body: `{"query":"{a}"}`, wantStatus: http.StatusOK},
		{name: "declared length over limit", maxSize: 4, body: `{"query":"{a}"}`, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "disabled", maxSize: 0, body: strings.Repeat("a", 1024), wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := BodyLimit(tt.maxSize, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, err := io.ReadAll(r.Body)
				if err != nil {
					w.WriteHeader(http.StatusRequestEntityTooLarge)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestBodyLimit_StreamedBody(t *testing.T) {
	t.Parallel()

	var readErr error
	h := BodyLimit(8, nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(strings.Repeat("a", 32)))
	req.ContentLength = -1
	h.ServeHTTP(httptest.NewRecorder(), req)

	var maxErr *http.MaxBytesError
	require.ErrorAs(t, readErr, &maxErr)
	assert.Equal(t, int64(8), maxErr.Limit)
}

func TestClientIPExtractor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		xff        string
		want       string
	}{
		{name: "no trusted proxies ignores header", remoteAddr: "10.0.0.1:1234", xff: "1.2.3.4", want: "10.0.0.1"},
		{name: "untrusted peer ignores header", trusted: []string{"192.168.0.0/16"}, remoteAddr: "10.0.0.1:1234", xff: "1.2.3.4", want: "10.0.0.1"},
		{name: "trusted peer uses header", trusted: []string{"10.0.0.0/8"}, remoteAddr: "10.0.0.1:1234", xff: "1.2.3.4", want: "1.2.3.4"},
		{name: "skips trusted hops right to left", trusted: []string{"10.0.0.0/8"}, remoteAddr: "10.0.0.1:1234", xff: "1.2.3.4, 5.6.7.8, 10.0.0.2", want: "5.6.7.8"},
		{name: "all trusted falls back", trusted: []string{"10.0.0.0/8"}, remoteAddr: "10.0.0.1:1234", xff: "10.0.0.3", want: "10.0.0.1"},
		{name: "single address entry", trusted: []string{"10.0.0.1", "not-an-ip"}, remoteAddr: "10.0.0.1:1234", xff: "9.9.9.9", want: "9.9.9.9"},
		{name: "ipv6 peer", remoteAddr: "[::1]:8080", want: "::1"},
		{name: "no port", remoteAddr: "10.0.0.1", want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set(HeaderXForwardedFor, tt.xff)
			}
			assert.Equal(t, tt.want, NewClientIPExtractor(tt.trusted).Extract(req))
		})
	}
}

func TestMiddlewareMetrics_Observe(t *testing.T) {
	t.Parallel()

	m := newMiddlewareMetrics(promauto.With(prometheus.NewRegistry()))
	m.observe(http.MethodPost, http.StatusOK, 0)
	m.observe(http.MethodPost, http.StatusOK, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodPost, "200")))
}
