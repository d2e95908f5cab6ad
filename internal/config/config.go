// Package config provides configuration management for shelfarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort           = 8484
	defaultServerTimeout        = 30 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultMaxOpenConns         = 25
	defaultMaxIdleConns         = 10
	defaultConnMaxIdleTime      = 30 * time.Minute
	defaultMaxAssetSizeBytes    = 25 * 1024 * 1024 // 25MB
	defaultGCGracePeriod        = 24 * time.Hour
	defaultProviderTimeout      = 15 * time.Second
	defaultProviderRetries      = 2
	defaultProviderRatePerSec   = 4.0
	defaultProviderBurst        = 8
	defaultBreakerThreshold     = 5
	defaultBreakerTimeout       = 60 * time.Second
	defaultWorkerCount          = 2
	defaultPollInterval         = 5 * time.Second
	defaultLockTimeout          = 30 * time.Minute
	defaultJobTimeout           = time.Hour
	defaultCleanupAge           = 7 * 24 * time.Hour
	defaultDownloadConcurrency  = 4
	defaultSimilarityThreshold  = 0.92
	defaultEventBufferSize      = 100
	defaultHeartbeatInterval    = 30 * time.Second
	defaultSchedulerSyncMinutes = 1
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Events     EventsConfig     `mapstructure:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds asset cache storage configuration.
type StorageConfig struct {
	// BaseDir is the root of the content-addressed asset cache.
	BaseDir string `mapstructure:"base_dir"`
	// TempDir is the staging directory for in-flight downloads, relative to BaseDir.
	TempDir string `mapstructure:"temp_dir"`
	// MaxAssetSize is the maximum allowed size for a single cached asset.
	// Supports human-readable values like "25MB", "1GB", or raw byte counts.
	MaxAssetSize ByteSize `mapstructure:"max_asset_size"`
	// GCGracePeriod is how long an orphaned cache entry must remain unreferenced
	// before the sweep phase deletes it.
	GCGracePeriod time.Duration `mapstructure:"gc_grace_period"`
	// GCCron is the recurring schedule for cache garbage collection (5-field cron).
	GCCron string `mapstructure:"gc_cron"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ProviderConfig holds configuration for a single metadata provider.
type ProviderConfig struct {
	// Name identifies the provider (also used for priority ordering).
	Name string `mapstructure:"name"`
	// BaseURL is the provider API endpoint.
	BaseURL string `mapstructure:"base_url"`
	// APIKey authenticates requests to the provider.
	APIKey string `mapstructure:"api_key"`
	// RatePerSec limits outbound requests to the provider.
	RatePerSec float64 `mapstructure:"rate_per_sec"`
	// Burst is the rate limiter burst allowance.
	Burst int `mapstructure:"burst"`
}

// ProvidersConfig holds the provider gateway configuration.
type ProvidersConfig struct {
	// Order lists provider names in priority order (first wins ties).
	Order []ProviderConfig `mapstructure:"order"`
	// Timeout is the per-call timeout for provider requests.
	Timeout time.Duration `mapstructure:"timeout"`
	// RetryAttempts is the number of retries for transient provider failures.
	RetryAttempts int `mapstructure:"retry_attempts"`
	// BreakerThreshold is the consecutive failure count that opens a provider circuit.
	BreakerThreshold int `mapstructure:"breaker_threshold"`
	// BreakerTimeout is how long an open circuit waits before probing again.
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
}

// EnrichmentConfig holds asset enrichment configuration.
type EnrichmentConfig struct {
	// DownloadConcurrency is the number of parallel asset downloads per job.
	DownloadConcurrency int `mapstructure:"download_concurrency"`
	// SimilarityThreshold is the perceptual-hash similarity above which two
	// candidates are considered near-duplicates (0.0 to 1.0).
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// SchedulerConfig holds job scheduler configuration.
type SchedulerConfig struct {
	WorkerCount  int           `mapstructure:"worker_count"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	CleanupAge   time.Duration `mapstructure:"cleanup_age"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	// ScanCron is the recurring schedule for library scans (5-field cron).
	ScanCron string `mapstructure:"scan_cron"`
}

// EventsConfig holds the event bus configuration.
type EventsConfig struct {
	// BufferSize is the per-subscriber channel capacity.
	BufferSize int `mapstructure:"buffer_size"`
	// HeartbeatInterval is the SSE keep-alive interval.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with SHELFARR_ and use underscores for nesting.
// Example: SHELFARR_SERVER_PORT=8484.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/shelfarr")
		v.AddConfigPath("$HOME/.shelfarr")
	}

	v.SetEnvPrefix("SHELFARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "shelfarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.max_asset_size", defaultMaxAssetSizeBytes)
	v.SetDefault("storage.gc_grace_period", defaultGCGracePeriod)
	v.SetDefault("storage.gc_cron", "0 */6 * * *")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Provider defaults
	v.SetDefault("providers.timeout", defaultProviderTimeout)
	v.SetDefault("providers.retry_attempts", defaultProviderRetries)
	v.SetDefault("providers.breaker_threshold", defaultBreakerThreshold)
	v.SetDefault("providers.breaker_timeout", defaultBreakerTimeout)

	// Enrichment defaults
	v.SetDefault("enrichment.download_concurrency", defaultDownloadConcurrency)
	v.SetDefault("enrichment.similarity_threshold", defaultSimilarityThreshold)

	// Scheduler defaults
	v.SetDefault("scheduler.worker_count", defaultWorkerCount)
	v.SetDefault("scheduler.poll_interval", defaultPollInterval)
	v.SetDefault("scheduler.lock_timeout", defaultLockTimeout)
	v.SetDefault("scheduler.job_timeout", defaultJobTimeout)
	v.SetDefault("scheduler.cleanup_age", defaultCleanupAge)
	v.SetDefault("scheduler.sync_interval", defaultSchedulerSyncMinutes*time.Minute)
	v.SetDefault("scheduler.scan_cron", "0 * * * *")

	// Events defaults
	v.SetDefault("events.buffer_size", defaultEventBufferSize)
	v.SetDefault("events.heartbeat_interval", defaultHeartbeatInterval)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.GCGracePeriod < 0 {
		return fmt.Errorf("storage.gc_grace_period must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	seen := make(map[string]bool, len(c.Providers.Order))
	for _, p := range c.Providers.Order {
		if p.Name == "" {
			return fmt.Errorf("providers.order entries require a name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true
	}

	if c.Enrichment.SimilarityThreshold < 0 || c.Enrichment.SimilarityThreshold > 1 {
		return fmt.Errorf("enrichment.similarity_threshold must be between 0.0 and 1.0")
	}
	if c.Enrichment.DownloadConcurrency < 1 {
		return fmt.Errorf("enrichment.download_concurrency must be at least 1")
	}

	if c.Scheduler.WorkerCount < 1 {
		return fmt.Errorf("scheduler.worker_count must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ProviderNames returns the configured provider names in priority order.
func (c *ProvidersConfig) ProviderNames() []string {
	names := make([]string, 0, len(c.Order))
	for _, p := range c.Order {
		names = append(names, p.Name)
	}
	return names
}
