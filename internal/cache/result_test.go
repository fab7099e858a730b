package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingCache returns err from every operation.
type failingCache struct {
	err  error
	sets int
}

func (f *failingCache) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f *failingCache) Set(context.Context, string, []byte, time.Duration) error {
	f.sets++
	return f.err
}
func (f *failingCache) Delete(context.Context, string) error         { return f.err }
func (f *failingCache) Exists(context.Context, string) (bool, error) { return false, f.err }
func (f *failingCache) Close() error                                 { return nil }

func TestResultKey(t *testing.T) {
	t.Parallel()

	base := ResultKey(KindCost, "fp", "Op", "{ a }")

	assert.Equal(t, base, ResultKey(KindCost, "fp", "Op", "{ a }"))
	assert.NotEqual(t, base, ResultKey(KindDepth, "fp", "Op", "{ a }"))
	assert.NotEqual(t, base, ResultKey(KindCost, "fp2", "Op", "{ a }"))
	assert.NotEqual(t, base, ResultKey(KindCost, "fp", "Other", "{ a }"))
	assert.NotEqual(t, base, ResultKey(KindCost, "fp", "Op", "{ b }"))
	assert.NotEqual(t, ResultKey(KindCost, "fp", "", "Op|{ a }"), ResultKey(KindCost, "fp", "Op", "{ a }"))
	assert.Contains(t, base, "cost:")
}

func TestResultCache_NilComputesEveryTime(t *testing.T) {
	t.Parallel()

	var c *ResultCache
	calls := 0
	for i := 0; i < 3; i++ {
		d, err := c.Depth(context.Background(), "", "", "{ a }", func() (int, error) {
			calls++
			return 1, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, d)
	}
	assert.Equal(t, 3, calls)
	assert.NoError(t, c.Close())
	assert.Nil(t, NewResultCache(nil, time.Minute, nil))
}

func TestResultCache_MemoizesSuccess(t *testing.T) {
	t.Parallel()

	backend, err := NewMemoryCache(10, time.Minute, nil)
	require.NoError(t, err)
	c := NewResultCache(backend, time.Minute, nil)
	ctx := context.Background()

	depthCalls, costCalls := 0, 0
	for i := 0; i < 3; i++ {
		d, err := c.Depth(ctx, "r1", "Q", "query Q { a { b } }", func() (int, error) {
			depthCalls++
			return 2, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, d)

		cost, err := c.Cost(ctx, "fp", "Q", "query Q { a { b } }", func() (uint64, error) {
			costCalls++
			return 13, nil
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(13), cost)
	}
	assert.Equal(t, 1, depthCalls)
	assert.Equal(t, 1, costCalls)

	raw, err := backend.Get(ctx, ResultKey(KindCost, "fp", "Q", "query Q { a { b } }"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"cost":13}`, string(raw))

	raw, err = backend.Get(ctx, ResultKey(KindDepth, "r1", "Q", "query Q { a { b } }"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"depth":2}`, string(raw))

	// a new fingerprint is a different entry
	cost, err := c.Cost(ctx, "fp2", "Q", "query Q { a { b } }", func() (uint64, error) {
		costCalls++
		return 20, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(20), cost)
	assert.Equal(t, 2, costCalls)

	// so is a depth computed under another recursion ceiling
	d, err := c.Depth(ctx, "r2", "Q", "query Q { a { b } }", func() (int, error) {
		depthCalls++
		return 0, errors.New("selection nesting exceeds recursion limit")
	})
	require.Error(t, err)
	assert.Zero(t, d)
	assert.Equal(t, 2, depthCalls)
}

func TestResultCache_DoesNotStoreFailures(t *testing.T) {
	t.Parallel()

	backend, err := NewMemoryCache(10, time.Minute, nil)
	require.NoError(t, err)
	c := NewResultCache(backend, time.Minute, nil)

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_, err := c.Cost(context.Background(), "fp", "", "{ a }", func() (uint64, error) {
			return 0, boom
		})
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 0, backend.Len())
}

func TestResultCache_BackendErrorsAreMisses(t *testing.T) {
	t.Parallel()

	backend := &failingCache{err: errors.New("connection refused")}
	c := NewResultCache(backend, time.Minute, nil)

	d, err := c.Depth(context.Background(), "", "", "{ a }", func() (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, d)
	assert.Equal(t, 1, backend.sets)
}

func TestResultCache_DiscardsMalformedEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend, err := NewMemoryCache(10, time.Minute, nil)
	require.NoError(t, err)
	key := ResultKey(KindDepth, "", "", "{ a }")
	require.NoError(t, backend.Set(ctx, key, []byte("not json"), 0))

	c := NewResultCache(backend, time.Minute, nil)
	d, err := c.Depth(ctx, "", "", "{ a }", func() (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, d)

	raw, err := backend.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"depth":1}`, string(raw))
}

func TestResultCache_Redis(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	backend, err := NewRedisCache(redisConfig(mr), nil)
	require.NoError(t, err)
	c := NewResultCache(backend, 30*time.Second, nil)
	defer func() { _ = c.Close() }()

	calls := 0
	compute := func() (uint64, error) {
		calls++
		return 42, nil
	}
	for i := 0; i < 2; i++ {
		cost, err := c.Cost(context.Background(), "fp", "", "{ a }", compute)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), cost)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, 30*time.Second, mr.TTL("test:"+ResultKey(KindCost, "fp", "", "{ a }")))
}
