// Package config loads and validates catalogd configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/discovery"
	"github.com/JakeFAU/catalog-crawler/internal/enrichment"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/policy/retry"
	"github.com/JakeFAU/catalog-crawler/internal/telemetry"
	"github.com/JakeFAU/catalog-crawler/internal/thumbnail"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures every knob loaded via Viper.
type Config struct {
	Logging    logging.Config    `mapstructure:"logging"`
	DB         DBConfig          `mapstructure:"db"`
	Upstream   UpstreamConfig    `mapstructure:"upstream"`
	RateLimit  RateLimitConfig   `mapstructure:"ratelimit"`
	Retry      retry.Config      `mapstructure:"retry"`
	Discovery  discovery.Config  `mapstructure:"discovery"`
	Enrichment enrichment.Config `mapstructure:"enrichment"`
	Thumbnails thumbnail.Config  `mapstructure:"thumbnails"`
	Archive    ArchiveConfig     `mapstructure:"archive"`
	Events     EventsConfig      `mapstructure:"events"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Telemetry  telemetry.Config  `mapstructure:"telemetry"`
	DryRun     bool              `mapstructure:"dry_run"`
}

// DBConfig selects and tunes the catalog store.
type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// UpstreamConfig points at the three marketplace endpoints.
type UpstreamConfig struct {
	SearchBaseURL    string        `mapstructure:"search_base_url"`
	DetailBaseURL    string        `mapstructure:"detail_base_url"`
	ThumbnailBaseURL string        `mapstructure:"thumbnail_base_url"`
	UserAgent        string        `mapstructure:"user_agent"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig holds one controller config per host class.
type RateLimitConfig struct {
	Search    ratelimit.Config `mapstructure:"search"`
	Detail    ratelimit.Config `mapstructure:"detail"`
	Thumbnail ratelimit.Config `mapstructure:"thumbnail"`
}

// ArchiveConfig controls where raw search pages are kept.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig holds the Pub/Sub destination for change events. An empty topic disables publishing.
type EventsConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig controls the status server. An empty address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk and environment. With an empty path the usual locations are searched and a
// missing file is not an error.
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
	} else {
		v.SetConfigName("catalogd")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/catalogd/")
		v.AddConfigPath("$HOME/.catalogd")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")

	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.dsn", "file:catalog.db")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")

	v.SetDefault("upstream.search_base_url", "https://catalog.example.com")
	v.SetDefault("upstream.detail_base_url", "https://economy.example.com")
	v.SetDefault("upstream.thumbnail_base_url", "https://thumbnails.example.com")
	v.SetDefault("upstream.user_agent", "catalogd/1.0")
	v.SetDefault("upstream.timeout", "15s")

	search := ratelimit.DefaultConfig()
	search.MinInterval = time.Second
	setRateLimitDefaults(v, "ratelimit.search", search)
	setRateLimitDefaults(v, "ratelimit.detail", ratelimit.DefaultConfig())
	setRateLimitDefaults(v, "ratelimit.thumbnail", ratelimit.DefaultConfig())

	rc := retry.DefaultConfig()
	v.SetDefault("retry.max_retries", rc.MaxRetries)
	v.SetDefault("retry.base_delay", rc.BaseDelay)
	v.SetDefault("retry.max_delay", rc.MaxDelay)
	v.SetDefault("retry.jitter_max", rc.JitterMax)

	v.SetDefault("discovery.strategy", "category_sweep")
	v.SetDefault("discovery.target_category", "")
	v.SetDefault("discovery.page_size", 30)
	v.SetDefault("discovery.max_items", 0)
	v.SetDefault("discovery.max_pages", 0)
	v.SetDefault("discovery.rate_limit_retries", 3)
	v.SetDefault("discovery.rate_limit_cooldown", "30s")
	v.SetDefault("discovery.sort_types", []string{"Relevance"})
	v.SetDefault("discovery.keywords", []string{})

	ec := enrichment.DefaultConfig()
	v.SetDefault("enrichment.batch_limit", ec.BatchLimit)
	v.SetDefault("enrichment.concurrency", ec.Concurrency)
	v.SetDefault("enrichment.batch_delay", ec.BatchDelay)
	v.SetDefault("enrichment.max_items", ec.MaxItems)
	v.SetDefault("enrichment.refresh_interval", ec.RefreshInterval)
	v.SetDefault("enrichment.delete_retry_interval", ec.DeleteRetryInterval)
	v.SetDefault("enrichment.rate_limit_requeue", ec.RateLimitRequeue)
	v.SetDefault("enrichment.base_retry", ec.BaseRetry)
	v.SetDefault("enrichment.max_retry_ceiling", ec.MaxRetryCeiling)
	v.SetDefault("enrichment.safe_mode_concurrency", ec.SafeModeConcurrency)
	v.SetDefault("enrichment.safe_mode_batch_limit", ec.SafeModeBatchLimit)
	v.SetDefault("enrichment.upsert_chunk_size", ec.UpsertChunkSize)
	v.SetDefault("enrichment.claim_lease", ec.ClaimLease)
	v.SetDefault("enrichment.error_samples", ec.ErrorSamples)
	v.SetDefault("enrichment.follow", false)
	v.SetDefault("enrichment.idle_poll", ec.IdlePoll)

	tc := thumbnail.DefaultConfig()
	v.SetDefault("thumbnails.enabled", tc.Enabled)
	v.SetDefault("thumbnails.batch_size", tc.BatchSize)
	v.SetDefault("thumbnails.size", tc.Size)
	v.SetDefault("thumbnails.format", tc.Format)

	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.base_dir", "data/archive")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "raw")

	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("telemetry.service_name", "catalogd")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("dry_run", false)
}

func setRateLimitDefaults(v *viper.Viper, prefix string, c ratelimit.Config) {
	v.SetDefault(prefix+".min_interval", c.MinInterval)
	v.SetDefault(prefix+".max_interval", c.MaxInterval)
	v.SetDefault(prefix+".widen_factor", c.WidenFactor)
	v.SetDefault(prefix+".relax_factor", c.RelaxFactor)
	v.SetDefault(prefix+".cooldown_base", c.CooldownBase)
	v.SetDefault(prefix+".cooldown_max", c.CooldownMax)
	v.SetDefault(prefix+".max_strikes", c.MaxStrikes)
	v.SetDefault(prefix+".safe_mode_strikes", c.SafeModeStrikes)
	v.SetDefault(prefix+".safe_mode_min_interval", c.SafeModeMinInterval)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite:
		if c.DB.DSN == "" && !c.DryRun {
			return fmt.Errorf("db.dsn must be set for driver %q", c.DB.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("db.driver must be one of postgres, sqlite, memory; got %q", c.DB.Driver)
	}
	if c.Upstream.SearchBaseURL == "" || c.Upstream.DetailBaseURL == "" {
		return fmt.Errorf("upstream.search_base_url and upstream.detail_base_url must be set")
	}
	if c.Thumbnails.Enabled && c.Upstream.ThumbnailBaseURL == "" {
		return fmt.Errorf("upstream.thumbnail_base_url must be set when thumbnails are enabled")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be > 0")
	}
	if c.Discovery.PageSize <= 0 {
		return fmt.Errorf("discovery.page_size must be > 0")
	}
	if c.Discovery.MaxItems < 0 || c.Discovery.MaxPages < 0 {
		return fmt.Errorf("discovery.max_items and discovery.max_pages must be >= 0")
	}
	if c.Enrichment.Concurrency <= 0 {
		return fmt.Errorf("enrichment.concurrency must be > 0")
	}
	if c.Enrichment.BatchLimit <= 0 {
		return fmt.Errorf("enrichment.batch_limit must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend must be one of none, memory, local, gcs; got %q", c.Archive.Backend)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Events.Topic != "" && c.Events.ProjectID == "" {
		return fmt.Errorf("events.project_id must be set when events.topic is set")
	}
	return nil
}

// StoreDriver returns the driver to open, forcing memory for dry runs.
func (c Config) StoreDriver() string {
	if c.DryRun {
		return DriverMemory
	}
	return c.DB.Driver
}
