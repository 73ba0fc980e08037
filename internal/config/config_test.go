package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
upstream:
  base_url: https://upstream.example.com
  email: ops@example.com
  password: hunter2
browser:
  engine: playwright
  headless: false
  navigation_timeout_seconds: 30
cache:
  ttl_seconds: 60
  sweep_interval_seconds: 5
jobs:
  request_timeout_seconds: 120
artifacts:
  backend: local
  local:
    base_dir: /tmp/results
notify:
  backend: nats
  nats:
    url: nats://nats:4222
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Upstream.Email != "ops@example.com" || cfg.Upstream.Password != "hunter2" {
		t.Fatalf("expected upstream credentials to load: %+v", cfg.Upstream)
	}
	if cfg.Upstream.SignInPath != "/signin" || cfg.Upstream.WorkspacePath != "/optimize" {
		t.Fatalf("expected upstream path defaults to survive: %+v", cfg.Upstream)
	}
	if cfg.Browser.Engine != "playwright" || cfg.Browser.Headless {
		t.Fatalf("expected browser overrides to apply: %+v", cfg.Browser)
	}
	if cfg.Browser.ViewportWidth != 1280 || cfg.Browser.ViewportHeight != 720 {
		t.Fatalf("expected default viewport, got %dx%d", cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight)
	}
	if got := cfg.NavigationTimeout(); got != 30*time.Second {
		t.Fatalf("expected navigation timeout 30s, got %v", got)
	}
	if got := cfg.RequestTimeout(); got != 2*time.Minute {
		t.Fatalf("expected request timeout 2m, got %v", got)
	}
	if got := cfg.CacheTTL(); got != time.Minute {
		t.Fatalf("expected cache ttl 1m, got %v", got)
	}
	if got := cfg.SweepInterval(); got != 5*time.Second {
		t.Fatalf("expected sweep interval 5s, got %v", got)
	}
	if cfg.Artifacts.Local.BaseDir != "/tmp/results" {
		t.Fatalf("expected local base dir override, got %q", cfg.Artifacts.Local.BaseDir)
	}
	if cfg.Notify.NATS.URL != "nats://nats:4222" {
		t.Fatalf("expected nats url override, got %q", cfg.Notify.NATS.URL)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL() != 24*time.Hour {
		t.Fatalf("expected 24h cache ttl, got %v", cfg.CacheTTL())
	}
	if cfg.NavigationTimeout() != 180*time.Second {
		t.Fatalf("expected 180s navigation timeout, got %v", cfg.NavigationTimeout())
	}
	if cfg.RequestTimeout() != 600*time.Second {
		t.Fatalf("expected 600s request timeout, got %v", cfg.RequestTimeout())
	}
	if cfg.Browser.Engine != "chromedp" {
		t.Fatalf("expected chromedp engine by default, got %q", cfg.Browser.Engine)
	}
	// Nothing outside the TTL cache accumulates unless a backend is chosen.
	if cfg.Artifacts.Backend != "none" || cfg.Notify.Backend != "none" {
		t.Fatalf("expected archive and notify disabled by default, got %q and %q",
			cfg.Artifacts.Backend, cfg.Notify.Backend)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Upstream: UpstreamConfig{
			BaseURL:       "https://app.example.com",
			SignInPath:    "/signin",
			WorkspacePath: "/optimize",
			DashboardPath: "/dashboard",
		},
		Browser: BrowserConfig{
			Engine:               "chromedp",
			NavigationTimeoutSec: 10,
			ViewportWidth:        1280,
			ViewportHeight:       720,
		},
		Cache:     CacheConfig{TTLSeconds: 60},
		Jobs:      JobsConfig{RequestTimeoutSec: 60},
		Artifacts: ArtifactsConfig{Backend: "memory"},
		Notify:    NotifyConfig{Backend: "memory"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "relative base url", mutate: func(c *Config) { c.Upstream.BaseURL = "/relative" }, want: "upstream.base_url"},
		{name: "missing signin path", mutate: func(c *Config) { c.Upstream.SignInPath = "" }, want: "upstream.signin_path"},
		{name: "unknown engine", mutate: func(c *Config) { c.Browser.Engine = "firefox" }, want: "browser.engine"},
		{
			name:   "zero navigation timeout",
			mutate: func(c *Config) { c.Browser.NavigationTimeoutSec = 0 },
			want:   "browser.navigation_timeout_seconds",
		},
		{name: "zero viewport", mutate: func(c *Config) { c.Browser.ViewportWidth = 0 }, want: "browser.viewport_width"},
		{name: "zero ttl", mutate: func(c *Config) { c.Cache.TTLSeconds = 0 }, want: "cache.ttl_seconds"},
		{
			name:   "zero request timeout",
			mutate: func(c *Config) { c.Jobs.RequestTimeoutSec = 0 },
			want:   "jobs.request_timeout_seconds",
		},
		{
			name: "rate limit without rps",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.DefaultRPS = 0
			},
			want: "rate_limit.default_rps",
		},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Artifacts.Backend = "gcs" }, want: "artifacts.bucket"},
		{name: "unknown artifacts backend", mutate: func(c *Config) { c.Artifacts.Backend = "s3" }, want: "artifacts.backend"},
		{name: "pubsub without topic", mutate: func(c *Config) { c.Notify.Backend = "pubsub" }, want: "notify.pubsub"},
		{name: "nats without url", mutate: func(c *Config) { c.Notify.Backend = "nats" }, want: "notify.nats.url"},
		{name: "unknown notify backend", mutate: func(c *Config) { c.Notify.Backend = "kafka" }, want: "notify.backend"},
		{name: "gcp without project", mutate: func(c *Config) { c.Telemetry.Exporter = "gcp" }, want: "telemetry.project_id"},
		{name: "unknown exporter", mutate: func(c *Config) { c.Telemetry.Exporter = "jaeger" }, want: "telemetry.exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
