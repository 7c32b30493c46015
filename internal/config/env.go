package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv applies LOADLAB_* environment overrides.
func LoadFromEnv(cfg *Config) {
	if addr := os.Getenv("LOADLAB_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}

	if logLevel := os.Getenv("LOADLAB_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	cfg.Server.LogFormat = GetEnvOrDefault("LOADLAB_LOG_FORMAT", cfg.Server.LogFormat)

	// Pool settings
	if size := os.Getenv("LOADLAB_POOL_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			cfg.Pool.Size = n
			if cfg.Pool.Prewarm > n {
				cfg.Pool.Prewarm = n
			}
		}
	}
	if timeout := os.Getenv("LOADLAB_ACQUIRE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Pool.AcquireTimeout = d
		}
	}

	if enabled := os.Getenv("LOADLAB_CACHE_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			cfg.Cache.Enabled = b
		}
	}

	// Store settings
	cfg.Store.Driver = GetEnvOrDefault("LOADLAB_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DataDir = GetEnvOrDefault("LOADLAB_DATA_DIR", cfg.Store.DataDir)
	cfg.Store.Postgres.Host = GetEnvOrDefault("LOADLAB_DB_HOST", cfg.Store.Postgres.Host)
	cfg.Store.Postgres.Database = GetEnvOrDefault("LOADLAB_DB_NAME", cfg.Store.Postgres.Database)
	cfg.Store.Postgres.User = GetEnvOrDefault("LOADLAB_DB_USER", cfg.Store.Postgres.User)
	cfg.Store.Postgres.Password = GetEnvOrDefault("LOADLAB_DB_PASSWORD", cfg.Store.Postgres.Password)
	if port := os.Getenv("LOADLAB_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Store.Postgres.Port = p
		}
	}

	cfg.Harness.TargetURL = GetEnvOrDefault("LOADLAB_TARGET_URL", cfg.Harness.TargetURL)
	cfg.Harness.MetricsAddr = GetEnvOrDefault("LOADLAB_METRICS_ADDR", cfg.Harness.MetricsAddr)
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
