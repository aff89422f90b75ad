// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Tracing     bool   `mapstructure:"tracing"`
	ServiceName string `mapstructure:"service_name"`
}

// CrawlerConfig governs politeness, extraction and job cadence.
type CrawlerConfig struct {
	UserAgent             string        `mapstructure:"user_agent"`
	BaseURL               string        `mapstructure:"base_url"`
	Categories            []string      `mapstructure:"categories"`
	RequestDelay          time.Duration `mapstructure:"request_delay"`
	MaxRetries            int           `mapstructure:"max_retries"`
	MaxCategoryPages      int           `mapstructure:"max_category_pages"`
	SelectorTimeout       time.Duration `mapstructure:"selector_timeout"`
	ProductPathSegments   []string      `mapstructure:"product_path_segments"`
	DefaultCurrency       string        `mapstructure:"default_currency"`
	Vendor                string        `mapstructure:"vendor"`
	PolicyTTL             time.Duration `mapstructure:"policy_ttl"`
	PolicyTimeout         time.Duration `mapstructure:"policy_timeout"`
	FullProgressEvery     int           `mapstructure:"full_progress_every"`
	CategoryProgressEvery int           `mapstructure:"category_progress_every"`
	StaticFallback        bool          `mapstructure:"static_fallback"`
	StaticTimeout         time.Duration `mapstructure:"static_timeout"`
}

// HeadlessConfig configures the Chrome renderer.
type HeadlessConfig struct {
	ExecPath      string        `mapstructure:"exec_path"`
	Headless      bool          `mapstructure:"headless"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	RenderTimeout time.Duration `mapstructure:"render_timeout"`
	DomainQPS     float64       `mapstructure:"domain_qps"`
}

// StorageConfig selects the product and job store backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// ArchiveConfig selects where rendered product pages are kept.
type ArchiveConfig struct {
	Driver  string `mapstructure:"driver"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds the price event destination.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ScheduleConfig holds cron specs for recurring crawls. Empty disables.
type ScheduleConfig struct {
	FullCrawl string `mapstructure:"full_crawl"`
}

// Storage and archive drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverNone     = "none"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
)

// Load builds a Config from disk and CATALOG_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.service_name", "catalog-crawler")
	v.SetDefault("crawler.user_agent", "catalog-crawler/1.0")
	v.SetDefault("crawler.categories", []string{})
	v.SetDefault("crawler.request_delay", "2s")
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.max_category_pages", 10)
	v.SetDefault("crawler.selector_timeout", "10s")
	v.SetDefault("crawler.default_currency", "USD")
	v.SetDefault("crawler.policy_ttl", "24h")
	v.SetDefault("crawler.policy_timeout", "10s")
	v.SetDefault("crawler.full_progress_every", 10)
	v.SetDefault("crawler.category_progress_every", 5)
	v.SetDefault("crawler.static_fallback", true)
	v.SetDefault("crawler.static_timeout", "15s")
	v.SetDefault("headless.headless", true)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.render_timeout", "30s")
	v.SetDefault("headless.domain_qps", 0.5)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.migrate", true)
	v.SetDefault("archive.driver", DriverNone)
	v.SetDefault("archive.prefix", "pages")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Crawler.UserAgent) == "" {
		return fmt.Errorf("crawler.user_agent is required")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0")
	}
	if c.Crawler.RequestDelay < 0 {
		return fmt.Errorf("crawler.request_delay must be >= 0")
	}
	if c.Crawler.BaseURL != "" {
		if _, err := parseBase(c.Crawler.BaseURL); err != nil {
			return fmt.Errorf("crawler.base_url: %w", err)
		}
	}
	if _, err := c.Crawler.ResolvedCategories(); err != nil {
		return fmt.Errorf("crawler.categories: %w", err)
	}
	if c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver %q must be memory or postgres", c.Storage.Driver)
	}
	switch c.Archive.Driver {
	case DriverNone, DriverMemory, "":
	case DriverLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.driver is local")
		}
	case DriverGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when archive.driver is gcs")
		}
	default:
		return fmt.Errorf("archive.driver %q must be none, memory, local or gcs", c.Archive.Driver)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// ResolvedCategories returns the configured category URLs made absolute
// against BaseURL, in configured order.
func (c CrawlerConfig) ResolvedCategories() ([]string, error) {
	var base *url.URL
	if c.BaseURL != "" {
		b, err := parseBase(c.BaseURL)
		if err != nil {
			return nil, err
		}
		base = b
	}
	out := make([]string, 0, len(c.Categories))
	for _, raw := range c.Categories {
		resolved, err := crawler.ResolveURL(base, raw)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", raw, err)
		}
		out = append(out, resolved)
	}
	return out, nil
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute url", raw)
	}
	return u, nil
}
