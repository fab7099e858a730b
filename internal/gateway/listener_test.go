package gateway

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

func TestListener_StartStop(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	l := NewListener("test", "127.0.0.1:0", handler,
		WithListenerLogger(observability.NopLogger()),
		WithTimeouts(time.Second, 2*time.Second, 0),
	)

	assert.Equal(t, "test", l.Name())
	assert.Equal(t, "127.0.0.1:0", l.Addr())
	assert.Equal(t, time.Second, l.server.ReadTimeout)
	assert.Equal(t, 2*time.Second, l.server.WriteTimeout)
	assert.Zero(t, l.server.IdleTimeout)
	assert.False(t, l.IsRunning())
	require.NoError(t, l.Stop(context.Background()), "stopping an idle listener is a no-op")

	require.NoError(t, l.Start(context.Background()))
	assert.True(t, l.IsRunning())
	assert.NotEqual(t, "127.0.0.1:0", l.Addr())
	assert.Error(t, l.Start(context.Background()))

	resp, err := http.Get("http://" + l.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, l.Stop(context.Background()))
	assert.False(t, l.IsRunning())
}

func TestListener_StartInvalidAddress(t *testing.T) {
	t.Parallel()

	l := NewListener("bad", "not-an-address", http.NotFoundHandler())
	err := l.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
	assert.False(t, l.IsRunning())
}
