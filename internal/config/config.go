// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/crisiswatch/crisis-collector/internal/crisis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig          `mapstructure:"server"`
	Collector CollectorConfig       `mapstructure:"collector"`
	HTTP      HTTPConfig            `mapstructure:"http"`
	Headless  HeadlessConfig        `mapstructure:"headless"`
	DB        DBConfig              `mapstructure:"db"`
	Logging   LoggingConfig         `mapstructure:"logging"`
	Sources   []crisis.SourceConfig `mapstructure:"sources"`
	Keywords  map[string][]string   `mapstructure:"keywords"`
	Hashtags  []string              `mapstructure:"hashtags"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey, when set, is required on the /v1 routes via X-API-Key.
	APIKey string `mapstructure:"api_key"`
}

// CollectorConfig governs the scheduling loop.
type CollectorConfig struct {
	IntervalSeconds int  `mapstructure:"interval_seconds"`
	FallbackSeconds int  `mapstructure:"fallback_seconds"`
	Autostart       bool `mapstructure:"autostart"`
}

// HTTPConfig configures the static fetch path.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	// RateLimitRPS caps fetches per host per second; zero disables the limit.
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
}

// HeadlessConfig configures the script-rendering fetch path.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	// Promote re-fetches static sources through the browser when their markup is a script shell.
	Promote bool `mapstructure:"promote"`
}

// DBConfig controls access to the event database. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DefaultUserAgent mimics a desktop browser; several news sites reject bot agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// DefaultSources is the catalog monitored when none is configured.
var DefaultSources = []crisis.SourceConfig{
	{
		Name:            "Reuters World",
		URL:             "https://www.reuters.com/world",
		ArticleSelector: "article",
		TitleSelector:   "h3",
		LinkSelector:    "a",
		SnippetSelector: "p",
		Render:          crisis.RenderStatic,
	},
	{
		Name:            "Relief Web",
		URL:             "https://reliefweb.int/updates",
		ArticleSelector: ".article-list article",
		TitleSelector:   "h3",
		LinkSelector:    "a",
		SnippetSelector: "p",
		Render:          crisis.RenderStatic,
	},
	{
		Name:            "AP News World",
		URL:             "https://apnews.com/hub/world-news",
		ArticleSelector: ".FeedCard",
		TitleSelector:   "h3",
		LinkSelector:    "a",
		SnippetSelector: "p",
		Render:          crisis.RenderScripted,
	},
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRISIS")
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
	if len(cfg.Sources) == 0 {
		cfg.Sources = append([]crisis.SourceConfig(nil), DefaultSources...)
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].Render == "" {
			cfg.Sources[i].Render = crisis.RenderStatic
		}
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = crisis.DefaultKeywords
	}
	if len(cfg.Hashtags) == 0 {
		cfg.Hashtags = crisis.DefaultHashtags
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("collector.interval_seconds", 60)
	v.SetDefault("collector.fallback_seconds", 60)
	v.SetDefault("collector.autostart", true)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", DefaultUserAgent)
	v.SetDefault("http.rate_limit_rps", 1.0)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promote", true)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "crisis_events")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Collector.IntervalSeconds <= 0 {
		return fmt.Errorf("collector.interval_seconds must be > 0")
	}
	if c.Collector.FallbackSeconds <= 0 {
		return fmt.Errorf("collector.fallback_seconds must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must be >= 0")
	}
	if strings.TrimSpace(c.HTTP.UserAgent) == "" {
		return fmt.Errorf("http.user_agent must be set")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if err := validateSource(src); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, src.Name)
		}
		seen[src.Name] = struct{}{}
	}
	return nil
}

func validateSource(src crisis.SourceConfig) error {
	if strings.TrimSpace(src.Name) == "" {
		return fmt.Errorf("name must be set")
	}
	u, err := url.Parse(src.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("url %q must be an absolute http(s) URL", src.URL)
	}
	if src.ArticleSelector == "" || src.TitleSelector == "" || src.LinkSelector == "" {
		return fmt.Errorf("article, title and link selectors must be set")
	}
	switch src.Render {
	case crisis.RenderStatic, crisis.RenderScripted:
	default:
		return fmt.Errorf("unknown render mode %q", src.Render)
	}
	return nil
}

// Interval is the wait between collection cycles.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Collector.IntervalSeconds) * time.Second
}

// FallbackInterval is the wait after a failed cycle.
func (c Config) FallbackInterval() time.Duration {
	return time.Duration(c.Collector.FallbackSeconds) * time.Second
}

// FetchTimeout bounds a single static fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout bounds a single rendered fetch.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
