package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/FairForge/loadlab/internal/cache"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10*time.Second, cfg.Harness.RequestTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Harness.ThinkTime)
	assert.Equal(t, []int{1, 5, 10, 20, 50, 100, 200}, cfg.Harness.Levels)
	assert.Equal(t, 1.2, cfg.Capacity.PeakAdjustment)
	assert.Len(t, cfg.Cache.Regions, 2)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  addr: ":9000"
pool:
  size: 4
  prewarm: 2
  acquire_timeout: 250ms
cache:
  regions:
    - name: search
      capacity: 50
      ttl: 30s
store:
  driver: postgres
  postgres:
    host: db.internal
harness:
  think_time: 0s
  levels: [1, 2, 4]
  duration: 5s
capacity:
  db_service_ratio: 0.5
`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Server.LogLevel, "absent keys keep defaults")

	p := cfg.Pool.ToPool()
	assert.Equal(t, 4, p.Size)
	assert.Equal(t, 2, p.Prewarm)
	assert.Equal(t, 250*time.Millisecond, p.AcquireTimeout)

	require.Len(t, cfg.Cache.Regions, 1)
	assert.Equal(t, cache.RegionConfig{Name: "search", Capacity: 50, TTL: 30 * time.Second}, cfg.Cache.Regions[0])

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "db.internal", cfg.Store.Postgres.Host)
	assert.Equal(t, 5432, cfg.Store.Postgres.Port)

	assert.Equal(t, time.Duration(0), cfg.Harness.ThinkTime)
	assert.Equal(t, 10*time.Second, cfg.Harness.RequestTimeout)
	sweep := cfg.Harness.SweepConfig()
	assert.Equal(t, []int{1, 2, 4}, sweep.Levels)
	assert.Equal(t, 5*time.Second, sweep.Duration)

	assert.Equal(t, 0.5, cfg.Capacity.DBServiceRatio)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad log level", func(c *Config) { c.Server.LogLevel = "loud" }, "level"},
		{"zero pool", func(c *Config) { c.Pool.Size = 0; c.Pool.Prewarm = 0 }, "pool.size"},
		{"prewarm above size", func(c *Config) { c.Pool.Prewarm = 11 }, "pool.prewarm"},
		{"duplicate region", func(c *Config) {
			c.Cache.Regions = append(c.Cache.Regions, c.Cache.Regions[0])
		}, "duplicate cache region"},
		{"empty region capacity", func(c *Config) { c.Cache.Regions[0].Capacity = 0 }, "capacity must be at least 1"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"unsorted levels", func(c *Config) { c.Harness.Levels = []int{5, 1} }, "increasing"},
		{"bad success rate", func(c *Config) { c.Harness.MinSuccessRate = 120 }, "min_success_rate"},
		{"bad capacity", func(c *Config) { c.Capacity.PeakAdjustment = 0 }, "peak adjustment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOADLAB_ADDR", ":7000")
	t.Setenv("LOADLAB_POOL_SIZE", "3")
	t.Setenv("LOADLAB_ACQUIRE_TIMEOUT", "2s")
	t.Setenv("LOADLAB_CACHE_ENABLED", "false")
	t.Setenv("LOADLAB_STORE_DRIVER", "postgres")
	t.Setenv("LOADLAB_DB_PORT", "6543")
	t.Setenv("LOADLAB_DB_PASSWORD", "secret")
	t.Setenv("LOADLAB_TARGET_URL", "http://localhost:8001")
	t.Setenv("LOADLAB_METRICS_ADDR", ":9101")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Pool.Size)
	assert.Equal(t, 3, cfg.Pool.Prewarm, "prewarm is clamped to the new size")
	assert.Equal(t, 2*time.Second, cfg.Pool.AcquireTimeout)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 6543, cfg.Store.Postgres.Port)
	assert.Equal(t, "secret", cfg.Store.Postgres.Password)
	assert.Equal(t, "http://localhost:8001", cfg.Harness.TargetURL)
	assert.Equal(t, ":9101", cfg.Harness.MetricsAddr)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_IgnoresMalformed(t *testing.T) {
	t.Setenv("LOADLAB_POOL_SIZE", "many")
	t.Setenv("LOADLAB_DB_PORT", "")

	cfg := Default()
	LoadFromEnv(cfg)
	assert.Equal(t, 10, cfg.Pool.Size)
	assert.Equal(t, 5432, cfg.Store.Postgres.Port)
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("LOADLAB_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnvOrDefault("LOADLAB_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnvOrDefault("LOADLAB_TEST_UNSET", "fallback"))
}

func TestCacheConfig_Apply(t *testing.T) {
	c, err := cache.New(cache.DefaultRegions())
	require.NoError(t, err)

	cc := CacheConfig{Regions: []cache.RegionConfig{
		{Name: cache.RegionSearch, Capacity: 2, TTL: time.Minute},
		{Name: "reviews", Capacity: 5, TTL: time.Minute},
	}}
	require.NoError(t, cc.Apply(c))

	for _, s := range c.Stats() {
		if s.Region == cache.RegionSearch {
			assert.Equal(t, 2, s.Capacity)
		}
	}
	assert.Contains(t, c.Regions(), "reviews")
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loadlab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  size: 4\n  prewarm: 0\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var latest atomic.Pointer[Config]
	require.NoError(t, Watch(ctx, path, zaptest.NewLogger(t), func(c *Config) {
		latest.Store(c)
	}))

	// Invalid content is rejected and never delivered.
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  size: 0\n"), 0o600))
	time.Sleep(3 * reloadDelay)
	assert.Nil(t, latest.Load())

	require.NoError(t, os.WriteFile(path, []byte("pool:\n  size: 6\n  prewarm: 1\n"), 0o600))
	require.Eventually(t, func() bool {
		c := latest.Load()
		return c != nil && c.Pool.Size == 6
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "missing", "loadlab.yaml"), nil, func(*Config) {})
	assert.Error(t, err)
}
