// Package config loads and validates postsync configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/postsync/internal/crawl"
	"github.com/JakeFAU/postsync/internal/orchestrator"
)

// EnvPrefix prefixes every environment override, e.g. POSTSYNC_STORE_DSN.
const EnvPrefix = "POSTSYNC"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"store"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Enrich   EnrichConfig   `mapstructure:"enrich"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
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

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ScrapeConfig governs static fetching and politeness.
type ScrapeConfig struct {
	UserAgent      string     `mapstructure:"user_agent"`
	TimeoutSeconds int        `mapstructure:"timeout_seconds"`
	RespectRobots  bool       `mapstructure:"respect_robots"`
	RatePerHost    float64    `mapstructure:"rate_per_host"`
	Burst          int        `mapstructure:"burst"`
	HostRates      []HostRate `mapstructure:"host_rates"`
}

// HostRate overrides the request rate for one host. A list keeps dotted
// host names out of Viper's key paths.
type HostRate struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// HeadlessConfig configures the rendered-page fetcher.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	SettleMillis  int  `mapstructure:"settle_ms"`
}

// EnrichConfig bounds post enrichment.
type EnrichConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	OnError     string `mapstructure:"on_error"`
}

// SourcesConfig is the crawler roster. Enabled is ordered.
type SourcesConfig struct {
	Enabled  []string                    `mapstructure:"enabled"`
	Crawlers map[string]crawl.Definition `mapstructure:"crawlers"`
}

// ArchiveConfig selects where run reports are written.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ScheduleConfig drives serve mode's periodic runs. Zero disables them.
type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load builds a Config from .env, disk and environment, in increasing
// precedence of the latter two.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.path", "postsync.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime", "30m")
	v.SetDefault("scrape.user_agent", "postsync/0.1")
	v.SetDefault("scrape.timeout_seconds", 15)
	v.SetDefault("scrape.respect_robots", true)
	v.SetDefault("scrape.rate_per_host", 1.0)
	v.SetDefault("scrape.burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("enrich.on_error", string(orchestrator.OnErrorAbort))
	v.SetDefault("sources.enabled", []string{})
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.base_dir", "runs")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "runs")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("schedule.interval", "0s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres driver")
		}
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, postgres, sqlite", c.Store.Driver)
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	if c.Scrape.RatePerHost <= 0 || c.Scrape.Burst <= 0 {
		return fmt.Errorf("scrape.rate_per_host and scrape.burst must be > 0")
	}
	for _, hr := range c.Scrape.HostRates {
		if hr.Host == "" || hr.RPS <= 0 {
			return fmt.Errorf("scrape.host_rates entries need a host and rps > 0")
		}
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Enrich.Concurrency <= 0 {
		return fmt.Errorf("enrich.concurrency must be > 0")
	}
	if _, err := orchestrator.ParseOnError(c.Enrich.OnError); err != nil {
		return fmt.Errorf("enrich.on_error: %w", err)
	}
	for _, name := range c.Sources.Enabled {
		def, ok := c.Sources.Crawlers[name]
		if !ok {
			return fmt.Errorf("sources.enabled names %q but sources.crawlers has no such entry", name)
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("sources.crawlers.%s: %w", name, err)
		}
	}
	switch c.Archive.Backend {
	case "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", c.Archive.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Schedule.Interval < 0 {
		return fmt.Errorf("schedule.interval must not be negative")
	}
	return nil
}

// ScrapeTimeout converts the static fetch timeout to a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout to a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// SettleDelay is how long the headless fetcher waits after the page loads.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Headless.SettleMillis) * time.Millisecond
}
