package config

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/gqlguard/internal/observability"
)

const watchedConfigYAML = `
apiVersion: gqlguard.io/v1
kind: Guard
metadata:
  name: watched
spec:
  schema:
    path: schema.graphql
  costMap:
    path: costs.yaml
  limits:
    maxDepth: %d
    maxCost: 100
`

func watchedConfig(depth int) string {
	return fmt.Sprintf(watchedConfigYAML, depth)
}

type configRecorder struct {
	mu      sync.Mutex
	configs []*GuardConfig
	errs    []error
}

func (r *configRecorder) onConfig(cfg *GuardConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
}

func (r *configRecorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *configRecorder) last() *GuardConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.configs) == 0 {
		return nil
	}
	return r.configs[len(r.configs)-1]
}

func (r *configRecorder) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func setupWatchedDir(t *testing.T, depth int) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	writeFile(t, dir, "schema.graphql", "type Query { a: Int }")
	writeFile(t, dir, "costs.yaml", "Query.a: 2\n")
	path = writeFile(t, dir, "gqlguard.yaml", watchedConfig(depth))
	return dir, path
}

func TestNewWatcher(t *testing.T) {
	t.Parallel()

	_, path := setupWatchedDir(t, 5)

	w, err := NewWatcher(path, nil,
		WithDebounceDelay(10*time.Millisecond),
		WithLogger(observability.NopLogger()),
	)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Equal(t, 10*time.Millisecond, w.debounceDelay)
	assert.Nil(t, w.GetLastConfig())
}

func TestWatcher_StartLoadsInitialConfig(t *testing.T) {
	t.Parallel()

	_, path := setupWatchedDir(t, 5)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	cfg := w.GetLastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, 5, cfg.Spec.Limits.MaxDepth)

	// starting twice is a no-op
	require.NoError(t, w.Start(context.Background()))
}

func TestWatcher_StartInvalidConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "gqlguard.yaml", "apiVersion: other/v1\nkind: Guard\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_ReloadsOnConfigChange(t *testing.T) {
	t.Parallel()

	dir, path := setupWatchedDir(t, 5)
	rec := &configRecorder{}

	w, err := NewWatcher(path, rec.onConfig,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(rec.onError),
	)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	writeFile(t, dir, "gqlguard.yaml", watchedConfig(9))

	assert.Eventually(t, func() bool {
		cfg := rec.last()
		return cfg != nil && cfg.Spec.Limits.MaxDepth == 9
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 9, w.GetLastConfig().Spec.Limits.MaxDepth)
}

func TestWatcher_ReloadsOnCostMapChange(t *testing.T) {
	t.Parallel()

	dir, path := setupWatchedDir(t, 5)
	rec := &configRecorder{}

	w, err := NewWatcher(path, rec.onConfig, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	writeFile(t, dir, "costs.yaml", "Query.a: 7\n")

	assert.Eventually(t, func() bool {
		return rec.last() != nil
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_KeepsPreviousConfigOnBadReload(t *testing.T) {
	t.Parallel()

	dir, path := setupWatchedDir(t, 5)
	rec := &configRecorder{}

	w, err := NewWatcher(path, rec.onConfig,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(rec.onError),
	)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	writeFile(t, dir, "costs.yaml", "Query.a: -3\n")

	assert.Eventually(t, func() bool {
		return rec.errCount() > 0
	}, 3*time.Second, 20*time.Millisecond)
	assert.Nil(t, rec.last())
	assert.Equal(t, 5, w.GetLastConfig().Spec.Limits.MaxDepth)
}

func TestWatcher_ForceReload(t *testing.T) {
	t.Parallel()

	dir, path := setupWatchedDir(t, 5)
	rec := &configRecorder{}

	w, err := NewWatcher(path, rec.onConfig)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	writeFile(t, dir, "gqlguard.yaml", watchedConfig(4))
	require.NoError(t, w.ForceReload())
	require.NotNil(t, rec.last())
	assert.Equal(t, 4, rec.last().Spec.Limits.MaxDepth)

	writeFile(t, dir, "gqlguard.yaml", "kind: Nope\n")
	assert.Error(t, w.ForceReload())
	assert.Equal(t, 4, w.GetLastConfig().Spec.Limits.MaxDepth)
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	_, path := setupWatchedDir(t, 5)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()
	cancel()

	select {
	case <-w.stoppedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}
