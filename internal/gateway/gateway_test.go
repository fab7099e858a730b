package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/metrics"
	transport "github.com/vyrodovalexey/gqlguard/internal/middleware"
	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

const testSchema = `
type Query {
	user(id: ID!): User
	users: [User!]!
	hello: String
}

type User {
	id: ID!
	name: String
	friends: [User!]!
}
`

type upstreamStub struct {
	server *httptest.Server
	hits   atomic.Int64
}

func newUpstreamStub(t *testing.T) *upstreamStub {
	t.Helper()
	u := &upstreamStub{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"hello":"world"}}`)
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstreamStub) host(t *testing.T) config.UpstreamHost {
	t.Helper()
	parsed, err := url.Parse(u.server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)
	return config.UpstreamHost{Address: parsed.Hostname(), Port: port}
}

func newTestConfig(t *testing.T, up *upstreamStub) *config.GuardConfig {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Metadata.Name = "test"
	cfg.Spec.Listen.Address = "127.0.0.1:0"
	cfg.Spec.Admin.Address = "127.0.0.1:0"
	cfg.Spec.Schema.Inline = testSchema
	cfg.Spec.CostMap.Inline = map[string]int64{"Query.users": 100}
	cfg.Spec.Limits.MaxDepth = 3
	cfg.Spec.Limits.MaxCost = 50
	cfg.Spec.Upstreams = []config.Upstream{{Name: "api", Hosts: []config.UpstreamHost{up.host(t)}}}
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.GuardConfig) (*Gateway, *prometheus.Registry) {
	t.Helper()
	bundle, err := BuildBundle(cfg, nil)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	gw, err := New(cfg, bundle,
		WithLogger(observability.NopLogger()),
		WithMetrics(metrics.NewMetrics(reg)),
		WithGatherer(reg),
		WithVersion("test"),
	)
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	return gw, reg
}

func post(h http.Handler, query string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(map[string]string{"query": query})
	r := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(string(body)))
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp transport.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	require.Len(t, resp.Errors, 1)
	code, _ := resp.Errors[0].Extensions["code"].(string)
	return code
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "stopped"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	badVersion := config.DefaultConfig()
	badVersion.APIVersion = "v1"

	tests := []struct {
		name    string
		cfg     *config.GuardConfig
		wantErr error
		wantMsg string
	}{
		{name: "nil config", wantErr: ErrNilConfig, wantMsg: "guard configuration is required"},
		{name: "failed validation", cfg: badVersion, wantErr: ErrInvalidConfig, wantMsg: "invalid guard configuration: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gw, err := New(tt.cfg, nil)
			assert.Nil(t, gw)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, strings.HasPrefix(err.Error(), tt.wantMsg), err.Error())
		})
	}
}

func TestNew_WithoutBundle(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	gw, err := New(cfg, nil, WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())))
	require.NoError(t, err)
	defer gw.Close()

	assert.Equal(t, StateStopped, gw.State())
	assert.Nil(t, gw.admission.State().Cost)
	assert.Equal(t, "", gw.PublicAddr())
	assert.Equal(t, time.Duration(0), gw.Uptime())
}

func TestGateway_Admission(t *testing.T) {
	t.Parallel()

	up := newUpstreamStub(t)
	gw, _ := newTestGateway(t, newTestConfig(t, up))
	h := gw.Handler()

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCode   string
	}{
		{name: "admitted", query: "{ hello }", wantStatus: http.StatusOK},
		{name: "nested within limits", query: "{ user(id: 1) { friends { id } } }", wantStatus: http.StatusOK},
		{
			name:       "too deep",
			query:      "{ user(id: 1) { friends { friends { id } } } }",
			wantStatus: http.StatusBadRequest,
			wantCode:   transport.CodeDepthExceeded,
		},
		{
			name:       "too expensive",
			query:      "{ users { id } }",
			wantStatus: http.StatusBadRequest,
			wantCode:   transport.CodeCostExceeded,
		},
		{
			name:       "unparsable",
			query:      "{ hello",
			wantStatus: http.StatusBadRequest,
			wantCode:   transport.CodeParseFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := up.hits.Load()
			rec := post(h, tt.query)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get(transport.HeaderXRequestID))
			if tt.wantCode == "" {
				assert.JSONEq(t, `{"data":{"hello":"world"}}`, rec.Body.String())
				assert.Equal(t, before+1, up.hits.Load())
				return
			}
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
			assert.Equal(t, before, up.hits.Load(), "rejected operations never reach the upstream")
		})
	}
}

func TestGateway_BodyLimit(t *testing.T) {
	t.Parallel()

	up := newUpstreamStub(t)
	cfg := newTestConfig(t, up)
	cfg.Spec.Listen.MaxBodySize = 16
	gw, _ := newTestGateway(t, cfg)

	rec := post(gw.Handler(), "{ user(id: 1) { id name } }")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, int64(0), up.hits.Load())
}

func TestGateway_Reload(t *testing.T) {
	t.Parallel()

	up := newUpstreamStub(t)
	cfg := newTestConfig(t, up)
	gw, _ := newTestGateway(t, cfg)
	h := gw.Handler()

	const query = "{ user(id: 1) { id } }"
	require.Equal(t, http.StatusOK, post(h, query).Code)

	stricter := newTestConfig(t, up)
	stricter.Spec.Limits.MaxDepth = 1
	require.NoError(t, gw.Reload(stricter, nil))
	assert.Same(t, stricter, gw.Config())

	rec := post(h, query)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, transport.CodeDepthExceeded, errorCode(t, rec))

	invalid := newTestConfig(t, up)
	invalid.Spec.Limits.MaxDepth = -1
	err := gw.Reload(invalid, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Same(t, stricter, gw.Config(), "a rejected reload keeps the running configuration")

	assert.ErrorIs(t, gw.Reload(nil, nil), ErrNilConfig)
}

func TestGateway_ReloadSwapsBundle(t *testing.T) {
	t.Parallel()

	up := newUpstreamStub(t)
	cfg := newTestConfig(t, up)
	gw, _ := newTestGateway(t, cfg)
	h := gw.Handler()

	require.Equal(t, http.StatusBadRequest, post(h, "{ users { id } }").Code)

	cheaper := newTestConfig(t, up)
	cheaper.Spec.CostMap.Inline = map[string]int64{"Query.users": 1}
	bundle, err := BuildBundle(cheaper, nil)
	require.NoError(t, err)
	require.NoError(t, gw.Reload(cheaper, bundle))

	assert.Equal(t, http.StatusOK, post(h, "{ users { id } }").Code)
	assert.Same(t, bundle.Cost, gw.admission.State().Cost.Analyzer())
}

func TestGateway_ReloadKeepsUnchangedBudget(t *testing.T) {
	t.Parallel()

	up := newUpstreamStub(t)
	withBudget := func(burst int) *config.GuardConfig {
		cfg := newTestConfig(t, up)
		cfg.Spec.Budget = &config.BudgetConfig{Enabled: true, CostPerSecond: 0.001, Burst: burst}
		return cfg
	}

	gw, _ := newTestGateway(t, withBudget(1))
	h := gw.Handler()
	budget := gw.admission.State().Budget
	require.NotNil(t, budget)

	require.Equal(t, http.StatusOK, post(h, "{ hello }").Code)
	rec := post(h, "{ hello }")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, transport.CodeBudgetExhausted, errorCode(t, rec))

	tests := []struct {
		name       string
		cfg        *config.GuardConfig
		wantSame   bool
		wantStatus int
	}{
		{
			name: "limits change keeps the drained bucket",
			cfg: func() *config.GuardConfig {
				c := withBudget(1)
				c.Spec.Limits.MaxDepth = 4
				return c
			}(),
			wantSame:   true,
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "budget change starts a fresh bucket",
			cfg:        withBudget(5),
			wantSame:   false,
			wantStatus: http.StatusOK,
		},
	}

	// Subtests share the gateway and run in order.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, gw.Reload(tt.cfg, nil))
			got := gw.admission.State().Budget
			if tt.wantSame {
				assert.Same(t, budget, got)
			} else {
				assert.NotSame(t, budget, got)
			}
			assert.Equal(t, tt.wantStatus, post(h, "{ hello }").Code)
			budget = got
		})
	}
}

func TestSameBudget(t *testing.T) {
	t.Parallel()

	base := config.BudgetConfig{Enabled: true, CostPerSecond: 10, Burst: 20}
	changed := base
	changed.PerClient = true

	tests := []struct {
		name string
		a, b *config.BudgetConfig
		want bool
	}{
		{name: "both nil", want: true},
		{name: "one nil", a: &base, want: false},
		{name: "equal values", a: &base, b: &config.BudgetConfig{Enabled: true, CostPerSecond: 10, Burst: 20}, want: true},
		{name: "different values", a: &base, b: &changed, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, sameBudget(tt.a, tt.b))
		})
	}
}

func TestGateway_Lifecycle(t *testing.T) {
	t.Parallel()

	up := newUpstreamStub(t)
	gw, _ := newTestGateway(t, newTestConfig(t, up))
	ctx := context.Background()

	assert.ErrorIs(t, gw.Stop(ctx), ErrGatewayNotRunning)

	require.NoError(t, gw.Start(ctx))
	assert.True(t, gw.IsRunning())
	assert.ErrorIs(t, gw.Start(ctx), ErrGatewayNotStopped)
	assert.NotEqual(t, "127.0.0.1:0", gw.PublicAddr())
	assert.Greater(t, gw.Uptime(), time.Duration(-1))

	client := &http.Client{Timeout: 5 * time.Second}

	body, _ := json.Marshal(map[string]string{"query": "{ hello }"})
	resp, err := client.Post("http://"+gw.PublicAddr()+"/graphql", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"data":{"hello":"world"}}`, string(data))

	resp, err = client.Get("http://" + gw.AdminAddr() + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get("http://" + gw.AdminAddr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get("http://" + gw.AdminAddr() + config.DefaultMetricsPath)
	require.NoError(t, err)
	data, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "gqlguard_graphql_operation_depth")
	assert.Contains(t, string(data), `gqlguard_graphql_upstream_requests_total{status_code="200",upstream="api"} 1`)

	require.NoError(t, gw.Stop(ctx))
	assert.Equal(t, StateStopped, gw.State())
	assert.False(t, gw.Health().IsReady())

	_, err = client.Get("http://" + gw.AdminAddr() + "/healthz")
	assert.Error(t, err)
}

func TestGateway_StartFailsOnBusyAddress(t *testing.T) {
	t.Parallel()

	up := newUpstreamStub(t)
	cfg := newTestConfig(t, up)
	parsed, err := url.Parse(up.server.URL)
	require.NoError(t, err)
	cfg.Spec.Admin.Address = parsed.Host

	gw, _ := newTestGateway(t, cfg)
	err = gw.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin")
	assert.Equal(t, StateStopped, gw.State())
	assert.False(t, gw.Health().IsReady())
}

func TestGateway_HealthChecksFollowUpstreams(t *testing.T) {
	t.Parallel()

	up := newUpstreamStub(t)
	cfg := newTestConfig(t, up)
	gw, _ := newTestGateway(t, cfg)
	assert.Equal(t, []string{"cache", "upstream:api"}, gw.Health().CheckNames())

	renamed := newTestConfig(t, up)
	renamed.Spec.Upstreams[0].Name = "primary"
	require.NoError(t, gw.Reload(renamed, nil))
	assert.Equal(t, []string{"cache", "upstream:primary"}, gw.Health().CheckNames())
}
