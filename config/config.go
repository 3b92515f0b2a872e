// Package config loads the engine's runtime configuration via Viper:
// a config file plus SYNCSTORAGE_-prefixed environment overrides, the
// same precedence order the pack's Cobra+Viper service entrypoints
// use.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mozilla-services/syncstorage-engine/storage"
)

// Backend selects which backend.Adapter the engine opens.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendSpanner  Backend = "spanner"
)

// Config is the engine process's full configuration: which backend to
// open, how to reach it, and the storage.Config knobs that govern
// quota/TTL/batch/pagination behavior.
type Config struct {
	Backend Backend `mapstructure:"backend"`

	// PostgresDSN is used when Backend == BackendPostgres.
	PostgresDSN string `mapstructure:"postgres_dsn"`

	// SpannerDatabase is "projects/P/instances/I/databases/D", used
	// when Backend == BackendSpanner.
	SpannerDatabase string `mapstructure:"spanner_database"`

	// MetricsAddr is where Prometheus metrics are exposed, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics_addr"`

	Storage StorageConfig `mapstructure:"storage"`
}

// StorageConfig mirrors storage.Config in a Viper-friendly shape
// (storage.Config itself carries no mapstructure tags since it's the
// engine's internal API, not a config-file schema).
type StorageConfig struct {
	QuotaEnabled     bool  `mapstructure:"quota_enabled"`
	QuotaLimitBytes  int64 `mapstructure:"quota_limit_bytes"`
	QuotaEnforced    bool  `mapstructure:"quota_enforced"`
	DefaultBSOTTL    int64 `mapstructure:"default_bso_ttl_seconds"`
	MaxTotalRecords  int   `mapstructure:"max_total_records"`
	BatchTTLSeconds  int64 `mapstructure:"batch_ttl_seconds"`
	MaxBatchBytes    int64 `mapstructure:"max_batch_bytes"`
}

// ToStorageConfig converts the Viper-loaded shape into storage.Config.
func (c StorageConfig) ToStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()
	cfg.Quota.Enabled = c.QuotaEnabled
	cfg.Quota.Enforced = c.QuotaEnforced
	if c.QuotaLimitBytes > 0 {
		cfg.Quota.LimitBytes = c.QuotaLimitBytes
	}
	if c.DefaultBSOTTL > 0 {
		cfg.DefaultBSOTTL = c.DefaultBSOTTL
	}
	if c.MaxTotalRecords > 0 {
		cfg.MaxTotalRecords = c.MaxTotalRecords
	}
	if c.BatchTTLSeconds > 0 {
		cfg.BatchTTL = time.Duration(c.BatchTTLSeconds) * time.Second
	}
	if c.MaxBatchBytes > 0 {
		cfg.MaxBatchBytes = c.MaxBatchBytes
	}
	return cfg
}

// Default returns the engine's out-of-the-box configuration: the
// in-memory backend, so a fresh checkout runs without any external
// dependency.
func Default() Config {
	def := storage.DefaultConfig()
	return Config{
		Backend:     BackendMemory,
		MetricsAddr: ":9090",
		Storage: StorageConfig{
			QuotaEnabled:    def.Quota.Enabled,
			QuotaLimitBytes: def.Quota.LimitBytes,
			QuotaEnforced:   def.Quota.Enforced,
			DefaultBSOTTL:   def.DefaultBSOTTL,
			MaxTotalRecords: def.MaxTotalRecords,
			BatchTTLSeconds: int64(def.BatchTTL.Seconds()),
			MaxBatchBytes:   def.MaxBatchBytes,
		},
	}
}

// Load reads configPath (if non-empty) and overlays SYNCSTORAGE_-
// prefixed environment variables (SYNCSTORAGE_BACKEND,
// SYNCSTORAGE_POSTGRES_DSN, SYNCSTORAGE_STORAGE_QUOTA_ENFORCED, ...)
// on top of Default().
func Load(configPath string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("backend", string(def.Backend))
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("postgres_dsn", def.PostgresDSN)
	v.SetDefault("spanner_database", def.SpannerDatabase)
	v.SetDefault("storage.quota_enabled", def.Storage.QuotaEnabled)
	v.SetDefault("storage.quota_limit_bytes", def.Storage.QuotaLimitBytes)
	v.SetDefault("storage.quota_enforced", def.Storage.QuotaEnforced)
	v.SetDefault("storage.default_bso_ttl_seconds", def.Storage.DefaultBSOTTL)
	v.SetDefault("storage.max_total_records", def.Storage.MaxTotalRecords)
	v.SetDefault("storage.batch_ttl_seconds", def.Storage.BatchTTLSeconds)
	v.SetDefault("storage.max_batch_bytes", def.Storage.MaxBatchBytes)

	v.SetEnvPrefix("syncstorage")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
