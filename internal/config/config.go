// Package config loads and validates optimizer proxy configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ReadHeaderTimeoutSec   int `mapstructure:"read_header_timeout_seconds"`
	ShutdownGracePeriodSec int `mapstructure:"shutdown_grace_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// UpstreamConfig describes the remote application driven through the browser.
// Email and Password are expected from the environment
// (OPTIMIZER_UPSTREAM_EMAIL / OPTIMIZER_UPSTREAM_PASSWORD).
type UpstreamConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	SignInPath    string `mapstructure:"signin_path"`
	WorkspacePath string `mapstructure:"workspace_path"`
	DashboardPath string `mapstructure:"dashboard_path"`
	APIPrefix     string `mapstructure:"api_prefix"`
	Email         string `mapstructure:"email"`
	Password      string `mapstructure:"password"`
}

// BrowserConfig selects and tunes the page driver.
type BrowserConfig struct {
	Engine               string `mapstructure:"engine"`
	Headless             bool   `mapstructure:"headless"`
	UserDataDir          string `mapstructure:"user_data_dir"`
	NavigationTimeoutSec int    `mapstructure:"navigation_timeout_seconds"`
	ViewportWidth        int    `mapstructure:"viewport_width"`
	ViewportHeight       int    `mapstructure:"viewport_height"`
	UserAgent            string `mapstructure:"user_agent"`
	InstallDriver        bool   `mapstructure:"install_driver"`
}

// CacheConfig governs the in-process job cache.
type CacheConfig struct {
	TTLSeconds           int `mapstructure:"ttl_seconds"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}

// JobsConfig governs orchestration timeouts.
type JobsConfig struct {
	RequestTimeoutSec int `mapstructure:"request_timeout_seconds"`
}

// RateLimitConfig throttles calls made through the browser session.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// ProgressConfig controls the progress event hub.
type ProgressConfig struct {
	Enabled           bool                `mapstructure:"enabled"`
	BufferSize        int                 `mapstructure:"buffer_size"`
	Batch             ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs     int                 `mapstructure:"sink_timeout_ms"`
	LogEnabled        bool                `mapstructure:"log_enabled"`
	PrometheusEnabled bool                `mapstructure:"prometheus_enabled"`
}

// ProgressBatchConfig bounds hub batching.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// DatabaseConfig configures the optional job run audit store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArtifactsConfig selects where completed results are archived.
type ArtifactsConfig struct {
	Backend     string           `mapstructure:"backend"`
	Bucket      string           `mapstructure:"bucket"`
	Prefix      string           `mapstructure:"prefix"`
	ContentType string           `mapstructure:"content_type"`
	Local       LocalStoreConfig `mapstructure:"local"`
}

// LocalStoreConfig configures the filesystem archive.
type LocalStoreConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// NotifyConfig selects the completion notification transport.
type NotifyConfig struct {
	Backend string       `mapstructure:"backend"`
	Subject string       `mapstructure:"subject"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
	NATS    NATSConfig   `mapstructure:"nats"`
}

// PubSubConfig configures Google Cloud Pub/Sub.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL        string `mapstructure:"url"`
	ClientName string `mapstructure:"client_name"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Exporter    string `mapstructure:"exporter"`
	ProjectID   string `mapstructure:"project_id"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OPTIMIZER")
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
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_header_timeout_seconds", 5)
	v.SetDefault("server.shutdown_grace_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("upstream.base_url", "https://app.taja.ai")
	v.SetDefault("upstream.signin_path", "/signin")
	v.SetDefault("upstream.workspace_path", "/optimize")
	v.SetDefault("upstream.dashboard_path", "/dashboard")
	v.SetDefault("upstream.api_prefix", "/api/proxy/videos")
	v.SetDefault("upstream.email", "")
	v.SetDefault("upstream.password", "")
	v.SetDefault("browser.engine", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_data_dir", "./user_data")
	v.SetDefault("browser.navigation_timeout_seconds", 180)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.install_driver", false)
	v.SetDefault("cache.ttl_seconds", 86400)
	v.SetDefault("cache.sweep_interval_seconds", 600)
	v.SetDefault("jobs.request_timeout_seconds", 600)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.default_rps", 1.0)
	v.SetDefault("rate_limit.default_burst", 1)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.prometheus_enabled", true)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "job_runs")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("artifacts.backend", "none")
	v.SetDefault("artifacts.bucket", "")
	v.SetDefault("artifacts.prefix", "results")
	v.SetDefault("artifacts.content_type", "application/json")
	v.SetDefault("artifacts.local.base_dir", "./data/results")
	v.SetDefault("notify.backend", "none")
	v.SetDefault("notify.subject", "optimizer.jobs.completed")
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic_name", "")
	v.SetDefault("notify.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("notify.nats.client_name", "optimizer-proxy")
	v.SetDefault("telemetry.service_name", "optimizer-proxy")
	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.validateUpstream(); err != nil {
		return err
	}
	switch c.Browser.Engine {
	case "chromedp", "playwright":
	default:
		return fmt.Errorf("browser.engine must be chromedp or playwright, got %q", c.Browser.Engine)
	}
	if c.Browser.NavigationTimeoutSec <= 0 {
		return fmt.Errorf("browser.navigation_timeout_seconds must be > 0")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser.viewport_width and browser.viewport_height must be > 0")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0")
	}
	if c.Jobs.RequestTimeoutSec <= 0 {
		return fmt.Errorf("jobs.request_timeout_seconds must be > 0")
	}
	if c.RateLimit.Enabled && c.RateLimit.DefaultRPS <= 0 {
		return fmt.Errorf("rate_limit.default_rps must be > 0 when rate limiting is enabled")
	}
	switch c.Artifacts.Backend {
	case "none", "memory", "local":
	case "gcs":
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("artifacts.backend must be none, memory, local or gcs, got %q", c.Artifacts.Backend)
	}
	switch c.Notify.Backend {
	case "memory", "none":
	case "pubsub":
		if c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicName == "" {
			return fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic_name must be set for pubsub")
		}
	case "nats":
		if c.Notify.NATS.URL == "" {
			return fmt.Errorf("notify.nats.url must be set for nats")
		}
	default:
		return fmt.Errorf("notify.backend must be memory, none, pubsub or nats, got %q", c.Notify.Backend)
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout":
	case "gcp":
		if c.Telemetry.ProjectID == "" {
			return fmt.Errorf("telemetry.project_id must be set for the gcp exporter")
		}
	default:
		return fmt.Errorf("telemetry.exporter must be none, stdout or gcp, got %q", c.Telemetry.Exporter)
	}
	return nil
}

func (c Config) validateUpstream() error {
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.base_url must be an absolute URL")
	}
	if c.Upstream.SignInPath == "" || c.Upstream.WorkspacePath == "" || c.Upstream.DashboardPath == "" {
		return fmt.Errorf("upstream.signin_path, upstream.workspace_path and upstream.dashboard_path must be set")
	}
	return nil
}

// NavigationTimeout returns the bound applied to page navigation.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Browser.NavigationTimeoutSec) * time.Second
}

// RequestTimeout returns the bound applied to one in-page upstream call.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Jobs.RequestTimeoutSec) * time.Second
}

// CacheTTL returns the lifetime of cached progress and result records.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// SweepInterval returns how often expired cache entries are purged.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Cache.SweepIntervalSeconds) * time.Second
}
