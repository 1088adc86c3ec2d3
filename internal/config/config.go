// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/policy-search-crawler/internal/detector"
	collyfetcher "github.com/JakeFAU/policy-search-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/policy-search-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/policy-search-crawler/internal/logging"
	"github.com/JakeFAU/policy-search-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/policy-search-crawler/internal/storage/gcs"
	"github.com/JakeFAU/policy-search-crawler/internal/storage/local"
	"github.com/JakeFAU/policy-search-crawler/internal/storage/postgres"
)

// EnvPrefix prefixes every environment override, e.g.
// POLICYCRAWL_STORAGE_BACKEND=gcs.
const EnvPrefix = "POLICYCRAWL"

// Storage backends.
const (
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
)

// Search backends.
const (
	SearchHeadless = "headless"
	SearchHTTP     = "http"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Input    InputConfig         `mapstructure:"input"`
	Storage  StorageConfig       `mapstructure:"storage"`
	Search   SearchConfig        `mapstructure:"search"`
	Headless headless.Config     `mapstructure:"headless"`
	HTTP     collyfetcher.Config `mapstructure:"http"`
	Detector detector.Config     `mapstructure:"detector"`
	Pacing   ratelimit.Config    `mapstructure:"pacing"`
	Metrics  MetricsConfig       `mapstructure:"metrics"`
	PubSub   PubSubConfig        `mapstructure:"pubsub"`
	Logging  logging.Config      `mapstructure:"logging"`
	Lock     LockConfig          `mapstructure:"lock"`
}

// InputConfig points at the organization list.
type InputConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig selects and configures the state store.
type StorageConfig struct {
	Backend  string          `mapstructure:"backend"`
	Local    local.Config    `mapstructure:"local"`
	GCS      gcs.Config      `mapstructure:"gcs"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// SearchConfig controls how queries are built and which fetcher runs them.
type SearchConfig struct {
	Backend        string `mapstructure:"backend"`
	BaseURL        string `mapstructure:"base_url"`
	Phrase         string `mapstructure:"phrase"`
	AcceptLanguage string `mapstructure:"accept_language"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	// TextfilePath, when set, receives the metrics after every command.
	TextfilePath string `mapstructure:"textfile_path"`
}

// PubSubConfig holds metadata for pass event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LockConfig guards against two processes crawling the same state.
type LockConfig struct {
	// Path overrides the lock file location. Defaults to a file inside the
	// local state directory, or the OS temp directory for remote stores.
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load builds a Config from disk/environment. With an empty path it looks
// for policycrawl.{yaml,json,toml} in the working directory and in
// $HOME/.policycrawl; a missing file is not an error.
func Load(path string) (Config, error) {
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
	} else {
		v.SetConfigName("policycrawl")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.policycrawl")
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

// setDefaults registers every key, which also lets AutomaticEnv override
// keys that no config file mentions.
func setDefaults(v *viper.Viper) {
	v.SetDefault("input.path", "data/companies.tsv")

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.local.base_dir", "assets")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "assets")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table", "policy_buckets")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.postgres.min_conns", 0)
	v.SetDefault("storage.postgres.max_conn_lifetime", "30m")
	v.SetDefault("storage.postgres.page_size", 100)

	v.SetDefault("search.backend", SearchHeadless)
	v.SetDefault("search.base_url", "https://www.google.com/search")
	v.SetDefault("search.phrase", "family maternity leave paternity HR policy")
	v.SetDefault("search.accept_language", "en-US,en;q=0.9")

	v.SetDefault("headless.visible", false)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.user_agent", "")
	v.SetDefault("headless.navigation_timeout", "45s")
	v.SetDefault("headless.settle_delay", "15s")

	v.SetDefault("http.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("http.timeout", "15s")

	v.SetDefault("pacing.interval", "5s")
	v.SetDefault("pacing.jitter", "2s")

	v.SetDefault("metrics.textfile_path", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("lock.path", "")
	v.SetDefault("lock.timeout", "0s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, gcs, postgres (got %q)", c.Storage.Backend)
	}
	switch c.Search.Backend {
	case SearchHeadless, SearchHTTP:
	default:
		return fmt.Errorf("search.backend must be headless or http (got %q)", c.Search.Backend)
	}
	if c.Pacing.Interval < 0 || c.Pacing.Jitter < 0 {
		return fmt.Errorf("pacing.interval and pacing.jitter must be >= 0")
	}
	if c.Headless.NavigationTimeout < 0 || c.Headless.SettleDelay < 0 {
		return fmt.Errorf("headless timeouts must be >= 0")
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http.timeout must be >= 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// LockPath returns where the run lock lives.
func (c Config) LockPath(tempDir string) string {
	if c.Lock.Path != "" {
		return c.Lock.Path
	}
	if c.Storage.Backend == BackendLocal {
		return filepath.Join(c.Storage.Local.BaseDir, ".policycrawl.lock")
	}
	return filepath.Join(tempDir, "policycrawl-"+c.Storage.Backend+".lock")
}
