// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig              `mapstructure:"server"`
	Auth       AuthConfig                `mapstructure:"auth"`
	Logging    LoggingConfig             `mapstructure:"logging"`
	Fetcher    FetcherConfig             `mapstructure:"fetcher"`
	Crawl      CrawlConfig               `mapstructure:"crawl"`
	Headless   HeadlessConfig            `mapstructure:"headless"`
	DB         DBConfig                  `mapstructure:"db"`
	Enrichment EnrichmentConfig          `mapstructure:"enrichment"`
	Archive    ArchiveConfig             `mapstructure:"archive"`
	Publisher  PublisherConfig           `mapstructure:"publisher"`
	Telemetry  TelemetryConfig           `mapstructure:"telemetry"`
	Sources    []ingest.SourceDefinition `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port       int `mapstructure:"port"`
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
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

// FetcherConfig configures the resilient HTTP fetcher.
type FetcherConfig struct {
	UserAgent          string  `mapstructure:"user_agent"`
	MaxAttempts        int     `mapstructure:"max_attempts"`
	BackoffBaseMs      int     `mapstructure:"backoff_base_ms"`
	BackoffCapMs       int     `mapstructure:"backoff_cap_ms"`
	ConnectTimeoutSecs int     `mapstructure:"connect_timeout_seconds"`
	WriteTimeoutSecs   int     `mapstructure:"write_timeout_seconds"`
	ReadTimeoutSecs    int     `mapstructure:"read_timeout_seconds"`
	PerHostRPS         float64 `mapstructure:"per_host_rps"`
	PerHostBurst       int     `mapstructure:"per_host_burst"`
	IgnoreRobots       bool    `mapstructure:"ignore_robots"`
}

// CrawlConfig governs pagination and extraction fan-out.
type CrawlConfig struct {
	PageDelayMs        int `mapstructure:"page_delay_ms"`
	BackfillMaxPages   int `mapstructure:"backfill_max_pages"`
	CronMaxPages       int `mapstructure:"cron_max_pages"`
	SafetyMaxPages     int `mapstructure:"safety_max_pages"`
	DefaultMaxItems    int `mapstructure:"default_max_items"`
	ExtractWorkers     int `mapstructure:"extract_workers"`
	RunDeadlineSeconds int `mapstructure:"run_deadline_seconds"`
	SourceParallelism  int `mapstructure:"source_parallelism"`
	SummaryMaxChars    int `mapstructure:"summary_max_chars"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DBConfig controls access to the relational store. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSec int    `mapstructure:"max_conn_lifetime_seconds"`
	ApplySchema        bool   `mapstructure:"apply_schema"`
}

// EnrichmentConfig configures the optional summarization collaborator.
type EnrichmentConfig struct {
	Provider       string `mapstructure:"provider"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	DailyBudget    int    `mapstructure:"daily_budget"`
}

// ArchiveConfig selects where raw documents are kept.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PublisherConfig holds metadata for commit event notifications.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	ServiceName    string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POLICYWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Deployment-level names kept for compatibility with existing environments.
	_ = v.BindEnv("db.dsn", "POLICYWATCH_DB_DSN", "DATABASE_URL")
	_ = v.BindEnv("enrichment.api_key", "POLICYWATCH_ENRICHMENT_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("enrichment.daily_budget", "POLICYWATCH_ENRICHMENT_DAILY_BUDGET", "AI_DAILY_CALL_BUDGET")
	_ = v.BindEnv("server.port", "POLICYWATCH_SERVER_PORT", "PORT")

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
	v.SetDefault("server.workers", 2)
	v.SetDefault("server.queue_depth", 32)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("fetcher.user_agent", "policywatch-ingest/0.1 (+https://github.com/SaptorsheeNag/us-policywatch-sub001)")
	v.SetDefault("fetcher.max_attempts", 3)
	v.SetDefault("fetcher.backoff_base_ms", 1500)
	v.SetDefault("fetcher.backoff_cap_ms", 6000)
	v.SetDefault("fetcher.connect_timeout_seconds", 15)
	v.SetDefault("fetcher.write_timeout_seconds", 15)
	v.SetDefault("fetcher.read_timeout_seconds", 45)
	v.SetDefault("fetcher.per_host_rps", 4.0)
	v.SetDefault("fetcher.per_host_burst", 2)
	v.SetDefault("fetcher.ignore_robots", true)
	v.SetDefault("crawl.page_delay_ms", 200)
	v.SetDefault("crawl.backfill_max_pages", 50)
	v.SetDefault("crawl.cron_max_pages", 3)
	v.SetDefault("crawl.safety_max_pages", 500)
	v.SetDefault("crawl.default_max_items", 500)
	v.SetDefault("crawl.extract_workers", 6)
	v.SetDefault("crawl.run_deadline_seconds", 900)
	v.SetDefault("crawl.source_parallelism", 4)
	v.SetDefault("crawl.summary_max_chars", 700)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.apply_schema", false)
	v.SetDefault("enrichment.provider", "none")
	v.SetDefault("enrichment.model", "gemini-1.5-flash")
	v.SetDefault("enrichment.timeout_seconds", 12)
	v.SetDefault("enrichment.daily_budget", 200)
	v.SetDefault("archive.provider", "memory")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("publisher.provider", "none")
	v.SetDefault("publisher.topic", "items.committed")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "policywatch-ingest")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be > 0")
	}
	if c.Fetcher.MaxAttempts <= 0 {
		return fmt.Errorf("fetcher.max_attempts must be > 0")
	}
	if c.Fetcher.ReadTimeoutSecs <= 0 {
		return fmt.Errorf("fetcher.read_timeout_seconds must be > 0")
	}
	if c.Fetcher.BackoffCapMs < c.Fetcher.BackoffBaseMs {
		return fmt.Errorf("fetcher.backoff_cap_ms must be >= fetcher.backoff_base_ms")
	}
	if c.Crawl.SafetyMaxPages <= 0 {
		return fmt.Errorf("crawl.safety_max_pages must be > 0")
	}
	if c.Crawl.ExtractWorkers <= 0 {
		return fmt.Errorf("crawl.extract_workers must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Enrichment.Provider {
	case "", "none":
	case "gemini":
		if c.Enrichment.APIKey == "" {
			return fmt.Errorf("enrichment.api_key must be set when provider is gemini")
		}
	default:
		return fmt.Errorf("enrichment.provider %q is not supported", c.Enrichment.Provider)
	}
	switch c.Archive.Provider {
	case "", "memory", "none":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when provider is local")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when provider is gcs")
		}
	default:
		return fmt.Errorf("archive.provider %q is not supported", c.Archive.Provider)
	}
	switch c.Publisher.Provider {
	case "", "none", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set when provider is pubsub")
		}
	default:
		return fmt.Errorf("publisher.provider %q is not supported", c.Publisher.Provider)
	}
	return validateSources(c.Sources)
}

func validateSources(sources []ingest.SourceDefinition) error {
	validate := validator.New()
	seen := make(map[string]struct{}, len(sources))
	for i, src := range sources {
		if err := validate.Struct(src); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return fmt.Errorf("sources[%d] (%s): %s failed %q", i, src.Name, verrs[0].Namespace(), verrs[0].Tag())
			}
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, src.Name)
		}
		seen[src.Name] = struct{}{}
	}
	return nil
}

// PageDelay returns the politeness delay between listing pages.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Crawl.PageDelayMs) * time.Millisecond
}

// RunDeadline returns the wall-clock budget per source run.
func (c Config) RunDeadline() time.Duration {
	return time.Duration(c.Crawl.RunDeadlineSeconds) * time.Second
}

// Source returns the named source definition.
func (c Config) Source(name string) (ingest.SourceDefinition, bool) {
	for _, src := range c.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return ingest.SourceDefinition{}, false
}
