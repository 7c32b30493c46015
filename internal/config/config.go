package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FairForge/loadlab/internal/cache"
	"github.com/FairForge/loadlab/internal/capacity"
	"github.com/FairForge/loadlab/internal/catalog"
	"github.com/FairForge/loadlab/internal/loadtest"
	"github.com/FairForge/loadlab/internal/logging"
	"github.com/FairForge/loadlab/internal/pool"
)

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Pool     PoolConfig      `yaml:"pool"`
	Cache    CacheConfig     `yaml:"cache"`
	Store    StoreConfig     `yaml:"store"`
	Harness  HarnessConfig   `yaml:"harness"`
	Capacity capacity.Config `yaml:"capacity"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"` // "json" or "console"
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Logging converts to the logging package's configuration.
func (c ServerConfig) Logging() *logging.LoggerConfig {
	return &logging.LoggerConfig{Level: c.LogLevel, Format: c.LogFormat}
}

type PoolConfig struct {
	Size           int           `yaml:"size"`
	Prewarm        int           `yaml:"prewarm"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	HealthCheck    bool          `yaml:"health_check"`
}

// ToPool converts to the pool package's configuration.
func (c PoolConfig) ToPool() *pool.Config {
	return &pool.Config{
		Size:           c.Size,
		Prewarm:        c.Prewarm,
		AcquireTimeout: c.AcquireTimeout,
		DrainTimeout:   c.DrainTimeout,
		HealthCheck:    c.HealthCheck,
	}
}

type CacheConfig struct {
	Enabled         bool                 `yaml:"enabled"`
	JanitorInterval time.Duration        `yaml:"janitor_interval"` // 0 disables the janitor
	Regions         []cache.RegionConfig `yaml:"regions"`
}

// Apply pushes region settings into a live cache.
func (c CacheConfig) Apply(target *cache.Cache) error {
	var errs []error
	for _, rc := range c.Regions {
		if err := target.Configure(rc); err != nil {
			errs = append(errs, fmt.Errorf("region %q: %w", rc.Name, err))
		}
	}
	return errors.Join(errs...)
}

// StoreConfig selects the title store behind the connection pool.
type StoreConfig struct {
	Driver      string                 `yaml:"driver"` // "memory" or "postgres"
	DataDir     string                 `yaml:"data_dir"`
	ServiceTime time.Duration          `yaml:"service_time"` // Simulated per-query cost of the memory store
	Postgres    catalog.PostgresConfig `yaml:"postgres"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type HarnessConfig struct {
	loadtest.Config `yaml:",inline"`

	TargetURL      string        `yaml:"target_url"` // Empty runs against the service in-process
	Levels         []int         `yaml:"levels"`
	Duration       time.Duration `yaml:"duration"`
	Cooldown       time.Duration `yaml:"cooldown"`
	Queries        int           `yaml:"queries"`      // Most popular titles to draw from, 0 = all
	QueriesFile    string        `yaml:"queries_file"` // Fixed query set, overrides Queries
	MinSuccessRate float64       `yaml:"min_success_rate"`
	ReportDir      string        `yaml:"report_dir"`
	MetricsAddr    string        `yaml:"metrics_addr"` // Serve harness metrics during bench, empty disables
}

// SweepConfig converts to the loadtest package's sweep configuration.
func (c HarnessConfig) SweepConfig() *loadtest.SweepConfig {
	return &loadtest.SweepConfig{
		Levels:   append([]int(nil), c.Levels...),
		Duration: c.Duration,
		Cooldown: c.Cooldown,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	sweep := loadtest.DefaultSweepConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8001",
			LogLevel:        logging.LevelInfo,
			LogFormat:       logging.FormatJSON,
			ShutdownTimeout: 10 * time.Second,
		},
		Pool: PoolConfig{
			Size:           10,
			Prewarm:        10,
			AcquireTimeout: 5 * time.Second,
			DrainTimeout:   10 * time.Second,
			HealthCheck:    true,
		},
		Cache: CacheConfig{
			Enabled:         true,
			JanitorInterval: time.Minute,
			Regions:         cache.DefaultRegions(),
		},
		Store: StoreConfig{
			Driver:      DriverMemory,
			ServiceTime: 20 * time.Millisecond,
			Postgres: catalog.PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "movies",
				User:     "loadlab",
				SSLMode:  "disable",
			},
		},
		Harness: HarnessConfig{
			Config:         *loadtest.DefaultConfig("search"),
			Levels:         sweep.Levels,
			Duration:       sweep.Duration,
			Cooldown:       sweep.Cooldown,
			Queries:        1000,
			MinSuccessRate: 95,
			ReportDir:      ".",
		},
		Capacity: *capacity.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration
func (c *Config) Validate() error {
	var errs []error

	if err := c.Server.Logging().Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Pool.Size < 1 {
		errs = append(errs, errors.New("pool.size must be at least 1"))
	}
	if c.Pool.Prewarm < 0 || c.Pool.Prewarm > c.Pool.Size {
		errs = append(errs, fmt.Errorf("pool.prewarm must be between 0 and pool.size, got %d", c.Pool.Prewarm))
	}
	if c.Pool.AcquireTimeout <= 0 {
		errs = append(errs, errors.New("pool.acquire_timeout must be positive"))
	}

	seen := make(map[string]bool)
	for _, rc := range c.Cache.Regions {
		if rc.Name == "" {
			errs = append(errs, errors.New("cache region needs a name"))
		}
		if seen[rc.Name] {
			errs = append(errs, fmt.Errorf("duplicate cache region %q", rc.Name))
		}
		seen[rc.Name] = true
		if rc.Capacity < 1 {
			errs = append(errs, fmt.Errorf("cache region %q: capacity must be at least 1", rc.Name))
		}
		if rc.TTL < 0 {
			errs = append(errs, fmt.Errorf("cache region %q: ttl must not be negative", rc.Name))
		}
	}

	switch c.Store.Driver {
	case DriverMemory, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be %q or %q, got %q", DriverMemory, DriverPostgres, c.Store.Driver))
	}

	if err := c.Harness.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Harness.SweepConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Harness.MinSuccessRate < 0 || c.Harness.MinSuccessRate > 100 {
		errs = append(errs, errors.New("harness.min_success_rate must be a percentage"))
	}

	if err := c.Capacity.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
