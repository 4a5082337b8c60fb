package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crisiswatch/crisis-collector/internal/crisis"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Interval() != 60*time.Second || cfg.FallbackInterval() != 60*time.Second {
		t.Fatalf("unexpected loop intervals: %v / %v", cfg.Interval(), cfg.FallbackInterval())
	}
	if len(cfg.Sources) != len(DefaultSources) {
		t.Fatalf("expected default catalog, got %d sources", len(cfg.Sources))
	}
	if cfg.HTTP.UserAgent != DefaultUserAgent {
		t.Fatalf("expected browser user agent, got %q", cfg.HTTP.UserAgent)
	}
	if len(cfg.Keywords) == 0 || len(cfg.Hashtags) == 0 {
		t.Fatal("expected default keyword corpus")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
collector:
  interval_seconds: 300
  fallback_seconds: 30
  autostart: false
http:
  timeout_seconds: 10
  user_agent: test-agent
headless:
  enabled: false
db:
  dsn: postgres://localhost/crisis
  table: events
logging:
  development: false
sources:
  - name: Example
    url: https://example.com/news
    article_selector: li.story
    title_selector: h2
    link_selector: a
  - name: Rendered
    url: https://example.org/feed
    article_selector: div.card
    title_selector: h3
    link_selector: a
    render: rendered
keywords:
  weather:
    - hail
hashtags:
  - "#mayday"
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
	if cfg.Interval() != 5*time.Minute || cfg.FallbackInterval() != 30*time.Second {
		t.Fatalf("unexpected intervals: %v / %v", cfg.Interval(), cfg.FallbackInterval())
	}
	if cfg.Collector.Autostart {
		t.Fatal("expected autostart override")
	}
	if cfg.FetchTimeout() != 10*time.Second || cfg.HTTP.UserAgent != "test-agent" {
		t.Fatalf("unexpected http config: %+v", cfg.HTTP)
	}
	if cfg.DB.DSN != "postgres://localhost/crisis" || cfg.DB.Table != "events" {
		t.Fatalf("unexpected db config: %+v", cfg.DB)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %+v", cfg.Sources)
	}
	if cfg.Sources[0].Render != crisis.RenderStatic || cfg.Sources[1].Render != crisis.RenderScripted {
		t.Fatalf("unexpected render modes: %+v", cfg.Sources)
	}
	if got := cfg.Keywords["weather"]; len(got) != 1 || got[0] != "hail" {
		t.Fatalf("expected keyword override, got %+v", cfg.Keywords)
	}
	if len(cfg.Hashtags) != 1 || cfg.Hashtags[0] != "#mayday" {
		t.Fatalf("expected hashtag override, got %+v", cfg.Hashtags)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Collector: CollectorConfig{IntervalSeconds: 60, FallbackSeconds: 60},
		HTTP:      HTTPConfig{TimeoutSeconds: 10, UserAgent: "agent"},
		Sources:   []crisis.SourceConfig{DefaultSources[0]},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid interval", mutate: func(c *Config) { c.Collector.IntervalSeconds = 0 }, want: "collector.interval_seconds"},
		{name: "invalid fallback", mutate: func(c *Config) { c.Collector.FallbackSeconds = -1 }, want: "collector.fallback_seconds"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "missing user agent", mutate: func(c *Config) { c.HTTP.UserAgent = " " }, want: "http.user_agent"},
		{name: "negative rate limit", mutate: func(c *Config) { c.HTTP.RateLimitRPS = -1 }, want: "http.rate_limit_rps"},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{
			name: "relative source url",
			mutate: func(c *Config) {
				c.Sources = []crisis.SourceConfig{{Name: "x", URL: "/news", ArticleSelector: "a", TitleSelector: "a", LinkSelector: "a", Render: crisis.RenderStatic}}
			},
			want: "absolute",
		},
		{
			name: "missing selector",
			mutate: func(c *Config) {
				src := DefaultSources[0]
				src.TitleSelector = ""
				c.Sources = []crisis.SourceConfig{src}
			},
			want: "selectors",
		},
		{
			name: "unknown render mode",
			mutate: func(c *Config) {
				src := DefaultSources[0]
				src.Render = "flash"
				c.Sources = []crisis.SourceConfig{src}
			},
			want: "render mode",
		},
		{
			name:   "duplicate source",
			mutate: func(c *Config) { c.Sources = []crisis.SourceConfig{DefaultSources[0], DefaultSources[0]} },
			want:   "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Sources = append([]crisis.SourceConfig(nil), base.Sources...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
