// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig                     `mapstructure:"server"`
	Auth       AuthConfig                       `mapstructure:"auth"`
	Worker     WorkerConfig                     `mapstructure:"worker"`
	HTTP       HTTPConfig                       `mapstructure:"http"`
	Headless   HeadlessConfig                   `mapstructure:"headless"`
	ScraperAPI ScraperAPIConfig                 `mapstructure:"scraperapi"`
	Storage    StorageConfig                    `mapstructure:"storage"`
	PubSub     PubSubConfig                     `mapstructure:"pubsub"`
	Logging    LoggingConfig                    `mapstructure:"logging"`
	Websites   map[string]scraper.WebsiteConfig `mapstructure:"websites"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// WorkerConfig governs orchestrator behavior.
type WorkerConfig struct {
	MaxConcurrentWorkers    int `mapstructure:"max_concurrent_workers"`
	QueueDepth              int `mapstructure:"queue_depth"`
	DefaultBudgetSeconds    int `mapstructure:"default_budget_seconds"`
	DefaultPhaseConcurrency int `mapstructure:"default_phase_concurrency"`
}

// HTTPConfig configures fetch client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

// HeadlessConfig configures the headless rendering fetch strategy.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// ScraperAPIConfig configures the rendering-proxy fetch strategy.
type ScraperAPIConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
}

// StorageConfig sets paths and connections for the storage backends.
type StorageConfig struct {
	JSONLDir  string `mapstructure:"jsonl_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	MaxConns  int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion-event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the log file that
// backs the logs endpoint.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyWebsiteDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("worker.max_concurrent_workers", 5)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.default_budget_seconds", 1800)
	v.SetDefault("worker.default_phase_concurrency", 5)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.user_agent", "qsrscan-location-scraper/1.0")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("scraperapi.endpoint", "https://api.scraperapi.com")
	v.SetDefault("storage.jsonl_dir", "data/locations")
	v.SetDefault("storage.table", "locations")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file", "logs/scraper.log")
}

// applyWebsiteDefaults stamps names and fills per-site fallbacks so the
// core only ever sees a fully resolved WebsiteConfig.
func (c *Config) applyWebsiteDefaults() {
	for name, site := range c.Websites {
		site.Name = name
		if site.MaxConcurrentRequests == 0 {
			site.MaxConcurrentRequests = c.Worker.DefaultPhaseConcurrency
		}
		if site.BudgetSeconds == 0 {
			site.BudgetSeconds = c.Worker.DefaultBudgetSeconds
		}
		if site.FetchOptions.TimeoutSec == 0 {
			site.FetchOptions.TimeoutSec = c.HTTP.TimeoutSeconds
		}
		if site.FetchOptions.MaxRetries == 0 {
			site.FetchOptions.MaxRetries = c.HTTP.MaxRetries
		}
		c.Websites[name] = site
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Worker.MaxConcurrentWorkers <= 0 {
		return fmt.Errorf("worker.max_concurrent_workers must be positive")
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be positive")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must not be negative")
	}
	for name, site := range c.Websites {
		if !site.Enabled {
			continue
		}
		if site.Fetcher == "" {
			return fmt.Errorf("website %q: fetcher is required", name)
		}
		if site.Parser == "" {
			return fmt.Errorf("website %q: parser is required", name)
		}
		if site.Transformer == "" {
			return fmt.Errorf("website %q: transformer is required", name)
		}
		if len(site.StorageBackends) == 0 {
			return fmt.Errorf("website %q: at least one storage backend is required", name)
		}
		if len(site.StartURLs) == 0 {
			return fmt.Errorf("website %q: start_urls is required", name)
		}
		if site.StoragePolicy != "" && site.StoragePolicy != scraper.StoragePolicyAllRequired {
			return fmt.Errorf("website %q: unknown storage_policy %q", name, site.StoragePolicy)
		}
	}
	return nil
}
