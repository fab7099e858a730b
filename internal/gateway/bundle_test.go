package gateway

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/gqlguard/internal/config"
	"github.com/vyrodovalexey/gqlguard/internal/graphql/analysis"
)

func TestBuildBundle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.graphql")
	require.NoError(t, os.WriteFile(schemaPath, []byte(testSchema), 0o600))
	costsPath := filepath.Join(dir, "costs.yaml")
	require.NoError(t, os.WriteFile(costsPath, []byte("Query.users: 7\n"), 0o600))

	mr := miniredis.RunT(t)

	tests := []struct {
		name      string
		mutate    func(cfg *config.GuardConfig)
		wantCost  bool
		wantCache bool
		wantErr   bool
	}{
		{name: "depth only", mutate: func(*config.GuardConfig) {}},
		{
			name: "inline schema",
			mutate: func(cfg *config.GuardConfig) {
				cfg.Spec.Schema.Inline = testSchema
			},
			wantCost: true,
		},
		{
			name: "schema and cost map files",
			mutate: func(cfg *config.GuardConfig) {
				cfg.Spec.Schema.Path = schemaPath
				cfg.Spec.CostMap.Path = costsPath
			},
			wantCost: true,
		},
		{
			name: "memory cache",
			mutate: func(cfg *config.GuardConfig) {
				cfg.Spec.Cache = &config.CacheConfig{Enabled: true, Type: config.CacheTypeMemory, MaxEntries: 10}
			},
			wantCache: true,
		},
		{
			name: "redis cache",
			mutate: func(cfg *config.GuardConfig) {
				cfg.Spec.Cache = &config.CacheConfig{
					Enabled: true,
					Type:    config.CacheTypeRedis,
					Redis:   &config.RedisCacheConfig{URL: "redis://" + mr.Addr()},
				}
			},
			wantCache: true,
		},
		{
			name: "invalid schema",
			mutate: func(cfg *config.GuardConfig) {
				cfg.Spec.Schema.Inline = "type Query {"
			},
			wantErr: true,
		},
		{
			name: "missing schema file",
			mutate: func(cfg *config.GuardConfig) {
				cfg.Spec.Schema.Path = filepath.Join(dir, "missing.graphql")
			},
			wantErr: true,
		},
		{
			name: "invalid cost map",
			mutate: func(cfg *config.GuardConfig) {
				cfg.Spec.Schema.Inline = testSchema
				cfg.Spec.CostMap.Inline = map[string]int64{"users": 1}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.mutate(cfg)

			b, err := BuildBundle(cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer func() { assert.NoError(t, b.Close()) }()

			assert.Equal(t, tt.wantCost, b.Cost != nil)
			assert.Equal(t, tt.wantCache, b.Backend != nil)
			assert.Equal(t, tt.wantCache, b.Results != nil)
		})
	}
}

func TestBuildBundle_CostMapWeights(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Spec.Schema.Inline = testSchema
	cfg.Spec.CostMap.Inline = map[string]int64{"Query.users": 9}

	b, err := BuildBundle(cfg, nil)
	require.NoError(t, err)

	cost, err := b.Cost.Cost("{ users { id name } }", "")
	require.NoError(t, err)
	assert.Equal(t, analysis.Cost(11), cost)

	_, err = BuildBundle(nil, nil)
	assert.ErrorIs(t, err, ErrNilConfig)
	assert.NoError(t, (*Bundle)(nil).Close())
}
