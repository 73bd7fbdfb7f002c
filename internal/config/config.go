// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Queue backends.
const (
	QueueMemory   = "memory"
	QueuePostgres = "postgres"
)

// Archive backends.
const (
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Wiki    WikiConfig    `mapstructure:"wiki"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Queue   QueueConfig   `mapstructure:"queue"`
	DB      DBConfig      `mapstructure:"db"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// WikiConfig points the gateway at one encyclopedia.
type WikiConfig struct {
	APIEndpoint    string `mapstructure:"api_endpoint"`
	RESTEndpoint   string `mapstructure:"rest_endpoint"`
	PageBaseURL    string `mapstructure:"page_base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	CacheSize      int    `mapstructure:"cache_size"`
}

// CrawlConfig governs traversal seeds, batch size, throttling and workers.
type CrawlConfig struct {
	RootCategory         string `mapstructure:"root_category"`
	ThrottleMilliseconds int    `mapstructure:"throttle_milliseconds"`
	Limit                int    `mapstructure:"limit"`
	Concurrency          int    `mapstructure:"concurrency"`
	// SkipTitles lists member titles the frontier never submits; a trailing
	// "*" matches a prefix.
	SkipTitles []string `mapstructure:"skip_titles"`
}

// RetryConfig sets the per-task attempt budget.
type RetryConfig struct {
	MaxAttempts             int `mapstructure:"max_attempts"`
	TraversalBackoffSeconds int `mapstructure:"traversal_backoff_seconds"`
	PageBackoffSeconds      int `mapstructure:"page_backoff_seconds"`
}

// QueueConfig selects the task queue backend.
type QueueConfig struct {
	Connection               string `mapstructure:"connection"`
	Name                     string `mapstructure:"name"`
	Capacity                 int    `mapstructure:"capacity"`
	VisibilityTimeoutSeconds int    `mapstructure:"visibility_timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// ArchiveConfig controls the optional rendered-HTML archive.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	// CacheControl is applied to GCS objects; empty keeps the immutable default.
	CacheControl string `mapstructure:"cache_control"`
}

// PubSubConfig holds the dead-letter channel.
type PubSubConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	DeadLetterTopic string `mapstructure:"dead_letter_topic"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WIKIGAMES")
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
	v.SetDefault("wiki.api_endpoint", "https://en.wikipedia.org/w/api.php")
	v.SetDefault("wiki.rest_endpoint", "https://en.wikipedia.org/api/rest_v1")
	v.SetDefault("wiki.page_base_url", "https://en.wikipedia.org/wiki/")
	v.SetDefault("wiki.user_agent", "WikiGamesCrawler/1.0 (https://github.com/JakeFAU/wikigames-crawler)")
	v.SetDefault("wiki.timeout_seconds", 30)
	v.SetDefault("wiki.cache_size", 512)
	v.SetDefault("crawl.root_category", "Category:Video games")
	v.SetDefault("crawl.throttle_milliseconds", 1000)
	v.SetDefault("crawl.limit", 100)
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.skip_titles", []string{})
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.traversal_backoff_seconds", 60)
	v.SetDefault("retry.page_backoff_seconds", 120)
	v.SetDefault("queue.connection", QueueMemory)
	v.SetDefault("queue.name", "default")
	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.visibility_timeout_seconds", 300)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", ArchiveLocal)
	v.SetDefault("archive.base_dir", "data/pages")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.cache_control", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.dead_letter_topic", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	endpoints := []struct{ key, raw string }{
		{"wiki.api_endpoint", c.Wiki.APIEndpoint},
		{"wiki.rest_endpoint", c.Wiki.RESTEndpoint},
		{"wiki.page_base_url", c.Wiki.PageBaseURL},
	}
	for _, e := range endpoints {
		if _, err := url.ParseRequestURI(e.raw); err != nil {
			return fmt.Errorf("%s must be an absolute url", e.key)
		}
	}
	if c.Wiki.TimeoutSeconds <= 0 {
		return fmt.Errorf("wiki.timeout_seconds must be > 0")
	}
	if c.Crawl.ThrottleMilliseconds < 0 {
		return fmt.Errorf("crawl.throttle_milliseconds must be >= 0")
	}
	if c.Crawl.Limit <= 0 {
		return fmt.Errorf("crawl.limit must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	switch c.Queue.Connection {
	case QueueMemory:
	case QueuePostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when queue.connection is postgres")
		}
	default:
		return fmt.Errorf("queue.connection must be %q or %q", QueueMemory, QueuePostgres)
	}
	if c.Queue.Capacity < 0 {
		return fmt.Errorf("queue.capacity must be >= 0")
	}
	if c.Queue.VisibilityTimeoutSeconds <= 0 {
		return fmt.Errorf("queue.visibility_timeout_seconds must be > 0")
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case ArchiveLocal:
			if c.Archive.BaseDir == "" {
				return fmt.Errorf("archive.base_dir must be set for the local archive")
			}
		case ArchiveGCS:
			if c.Archive.GCSBucket == "" {
				return fmt.Errorf("archive.gcs_bucket must be set for the gcs archive")
			}
		default:
			return fmt.Errorf("archive.backend must be %q or %q", ArchiveLocal, ArchiveGCS)
		}
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// ThrottleInterval is the minimum spacing between permit grants.
func (c Config) ThrottleInterval() time.Duration {
	return time.Duration(c.Crawl.ThrottleMilliseconds) * time.Millisecond
}

// WikiTimeout bounds a single wiki API request.
func (c Config) WikiTimeout() time.Duration {
	return time.Duration(c.Wiki.TimeoutSeconds) * time.Second
}

// TraversalBackoff is the retry delay for traversal tasks.
func (c Config) TraversalBackoff() time.Duration {
	return time.Duration(c.Retry.TraversalBackoffSeconds) * time.Second
}

// PageBackoff is the retry delay for page tasks.
func (c Config) PageBackoff() time.Duration {
	return time.Duration(c.Retry.PageBackoffSeconds) * time.Second
}

// VisibilityTimeout is how long a claimed durable task stays leased.
func (c Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.Queue.VisibilityTimeoutSeconds) * time.Second
}

// UsesPostgres reports whether any component needs the database.
func (c Config) UsesPostgres() bool {
	return c.Queue.Connection == QueuePostgres || c.DB.DSN != ""
}
