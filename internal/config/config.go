// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HARVESTER_HTTP_TIMEOUT.
const EnvPrefix = "HARVESTER"

// DefaultUserAgent is a desktop Chrome user agent; the catalog serves a
// reduced page to unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Storage backends.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Output    OutputConfig    `mapstructure:"output"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sink      SinkConfig      `mapstructure:"sink"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CatalogConfig locates the catalog site.
type CatalogConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	CatalogPath string `mapstructure:"catalog_path"`
	UserAgent   string `mapstructure:"user_agent"`
}

// DiscoveryConfig bounds category pagination.
type DiscoveryConfig struct {
	PageSize               int    `mapstructure:"page_size"`
	MaxPages               int    `mapstructure:"max_pages"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures"`
	CategorySelector       string `mapstructure:"category_selector"`
}

// BrowserConfig controls the headless browser session.
type BrowserConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	WaitTimeout       time.Duration `mapstructure:"wait_timeout"`
	ExecPath          string        `mapstructure:"exec_path"`
}

// HTTPConfig configures the retrying client.
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	PDFTimeout        time.Duration `mapstructure:"pdf_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// OutputConfig sets where local artifacts go.
type OutputConfig struct {
	Root string `mapstructure:"root"`
}

// StorageConfig selects the blob backend for assets and records.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// SinkConfig enables the optional Postgres sink.
type SinkConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// PubSubConfig holds the optional completion event destination.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig enables the /metrics listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// PipelineConfig limits a run.
type PipelineConfig struct {
	MaxProducts int `mapstructure:"max_products"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
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
	v.SetDefault("catalog.base_url", "https://www.baldor.com")
	v.SetDefault("catalog.catalog_path", "/catalog")
	v.SetDefault("catalog.user_agent", DefaultUserAgent)
	v.SetDefault("discovery.page_size", 1000)
	v.SetDefault("discovery.max_pages", 10000)
	v.SetDefault("discovery.max_consecutive_failures", 3)
	v.SetDefault("discovery.category_selector", "li.subcategory")
	v.SetDefault("browser.navigation_timeout", 30*time.Second)
	v.SetDefault("browser.wait_timeout", 10*time.Second)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("http.pdf_timeout", 60*time.Second)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_initial", 300*time.Millisecond)
	v.SetDefault("http.backoff_max", 10*time.Second)
	v.SetDefault("http.requests_per_second", 4.0)
	v.SetDefault("output.root", "output")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "")
	v.SetDefault("sink.postgres_dsn", "")
	v.SetDefault("sink.postgres_table", "products")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("pipeline.max_products", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Catalog.BaseURL)
	if c.Catalog.BaseURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("catalog.base_url must be an absolute http(s) URL")
	}
	if c.Discovery.PageSize <= 0 {
		return fmt.Errorf("discovery.page_size must be > 0")
	}
	if c.Discovery.MaxPages <= 0 {
		return fmt.Errorf("discovery.max_pages must be > 0")
	}
	if c.Discovery.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("discovery.max_consecutive_failures must be > 0")
	}
	if c.Browser.NavigationTimeout <= 0 || c.Browser.WaitTimeout <= 0 {
		return fmt.Errorf("browser timeouts must be > 0")
	}
	if c.HTTP.Timeout <= 0 || c.HTTP.PDFTimeout <= 0 {
		return fmt.Errorf("http timeouts must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.Pipeline.MaxProducts < 0 {
		return fmt.Errorf("pipeline.max_products must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Output.Root == "" {
			return fmt.Errorf("output.root must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of %q, %q", c.Storage.Backend, BackendLocal, BackendGCS)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}
