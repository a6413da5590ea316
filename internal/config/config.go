// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// EnvPrefix prefixes every environment override, e.g. CATALOG_CRAWLER_CONCURRENCY.
const EnvPrefix = "CATALOG"

// Output backends.
const (
	BackendFile   = "file"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Transport TransportConfig `mapstructure:"transport"`
	Site      SiteConfig      `mapstructure:"site"`
	Output    OutputConfig    `mapstructure:"output"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the crawl engine.
type CrawlerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryJitter     time.Duration `mapstructure:"retry_jitter"`
	ProbeCeiling    int           `mapstructure:"probe_ceiling"`
	ProbeMisses     int           `mapstructure:"probe_misses"`
	ShutdownGrace   time.Duration `mapstructure:"shutdown_grace"`
	LimitCategories int           `mapstructure:"limit_categories"`
	LimitLeaves     int           `mapstructure:"limit_leaves"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	// AsOf pins the clock used for relative upload dates (RFC 3339).
	AsOf string `mapstructure:"as_of"`
}

// TransportConfig selects and tunes the fetch transport.
type TransportConfig struct {
	// Mode is http, headless or auto; empty uses the site preset's mode.
	Mode          string         `mapstructure:"mode"`
	UserAgent     string         `mapstructure:"user_agent"`
	RespectRobots bool           `mapstructure:"respect_robots"`
	Headless      HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the rendered transport.
type HeadlessConfig struct {
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	Settle             time.Duration `mapstructure:"settle"`
	ViewportWidth      int           `mapstructure:"viewport_width"`
	ViewportHeight     int           `mapstructure:"viewport_height"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
	AllowedHosts       []string      `mapstructure:"allowed_hosts"`
	// Disabled keeps auto mode on the plain transport only.
	Disabled bool `mapstructure:"disabled"`
}

// SiteConfig picks the catalog preset.
type SiteConfig struct {
	Preset     string   `mapstructure:"preset"`
	Categories []string `mapstructure:"categories"`
}

// OutputConfig sets where the result document lands.
type OutputConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	// Object overrides the preset's document name.
	Object string `mapstructure:"object"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"site":             "site.preset",
	"categories":       "site.categories",
	"transport":        "transport.mode",
	"user-agent":       "transport.user_agent",
	"concurrency":      "crawler.concurrency",
	"limit-categories": "crawler.limit_categories",
	"limit-leaves":     "crawler.limit_leaves",
	"rate-limit":       "crawler.rate_limit_rps",
	"as-of":            "crawler.as_of",
	"output-backend":   "output.backend",
	"output-dir":       "output.dir",
	"output-object":    "output.object",
	"metrics-addr":     "metrics.addr",
	"log-level":        "logging.level",
	"dev":              "logging.development",
}

// Load builds a Config from defaults, an optional file, the environment and
// the given flags, in increasing precedence. With an empty path the working
// directory and $HOME/.catalog-crawler are searched for config.yaml; a
// missing file is not an error.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
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
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.catalog-crawler")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
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
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.concurrency", crawler.DefaultConcurrency)
	v.SetDefault("crawler.fetch_timeout", crawler.DefaultFetchTimeout)
	v.SetDefault("crawler.retry_attempts", crawler.DefaultRetryAttempts)
	v.SetDefault("crawler.retry_backoff", crawler.DefaultRetryBackoff)
	v.SetDefault("crawler.retry_jitter", crawler.DefaultRetryJitter)
	v.SetDefault("crawler.probe_ceiling", crawler.DefaultProbeCeiling)
	v.SetDefault("crawler.probe_misses", crawler.DefaultProbeMisses)
	v.SetDefault("crawler.shutdown_grace", crawler.DefaultShutdownGrace)
	v.SetDefault("crawler.limit_categories", 0)
	v.SetDefault("crawler.limit_leaves", 0)
	v.SetDefault("crawler.rate_limit_rps", 0.0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.as_of", "")
	v.SetDefault("transport.mode", "")
	v.SetDefault("transport.user_agent", "")
	v.SetDefault("transport.respect_robots", false)
	v.SetDefault("transport.headless.max_parallel", 8)
	v.SetDefault("transport.headless.navigation_timeout", 45*time.Second)
	v.SetDefault("transport.headless.settle", 500*time.Millisecond)
	v.SetDefault("transport.headless.viewport_width", 1366)
	v.SetDefault("transport.headless.viewport_height", 900)
	v.SetDefault("transport.headless.promotion_threshold", 2048)
	v.SetDefault("transport.headless.allowed_hosts", []string{})
	v.SetDefault("transport.headless.disabled", false)
	v.SetDefault("site.preset", "repack-games")
	v.SetDefault("site.categories", []string{})
	v.SetDefault("output.backend", BackendFile)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.bucket", "")
	v.SetDefault("output.prefix", "")
	v.SetDefault("output.object", "")
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.Engine().Validate(); err != nil {
		return fmt.Errorf("invalid crawler config: %w", err)
	}
	if c.Crawler.RateLimitRPS < 0 {
		return fmt.Errorf("crawler.rate_limit_rps must be >= 0")
	}
	if _, _, err := c.AsOf(); err != nil {
		return err
	}
	switch c.Transport.Mode {
	case "", "http", "headless", "auto":
	default:
		return fmt.Errorf("transport.mode must be http, headless or auto, got %q", c.Transport.Mode)
	}
	if c.Transport.Headless.MaxParallel < 0 {
		return fmt.Errorf("transport.headless.max_parallel must be >= 0")
	}
	if c.Transport.Headless.Disabled && c.Transport.Mode == "headless" {
		return fmt.Errorf("transport.mode headless conflicts with transport.headless.disabled")
	}
	if strings.TrimSpace(c.Site.Preset) == "" {
		return fmt.Errorf("site.preset is required")
	}
	switch c.Output.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Output.Dir) == "" {
			return fmt.Errorf("output.dir is required for the file backend")
		}
	case BackendGCS:
		if c.Output.Bucket == "" {
			return fmt.Errorf("output.bucket is required for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("output.backend must be file, gcs or memory, got %q", c.Output.Backend)
	}
	return nil
}

// Engine converts the crawler section into the engine's run configuration.
func (c Config) Engine() crawler.Config {
	return crawler.Config{
		Concurrency:   c.Crawler.Concurrency,
		FetchTimeout:  c.Crawler.FetchTimeout,
		RetryAttempts: c.Crawler.RetryAttempts,
		RetryBackoff:  c.Crawler.RetryBackoff,
		RetryJitter:   c.Crawler.RetryJitter,
		ProbeCeiling:  c.Crawler.ProbeCeiling,
		ProbeMisses:   c.Crawler.ProbeMisses,
		ShutdownGrace: c.Crawler.ShutdownGrace,
		MaxCategories: c.Crawler.LimitCategories,
		MaxLeaves:     c.Crawler.LimitLeaves,
	}
}

// AsOf parses crawler.as_of. ok is false when no instant is pinned.
func (c Config) AsOf() (t time.Time, ok bool, err error) {
	raw := strings.TrimSpace(c.Crawler.AsOf)
	if raw == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err = time.Parse(layout, raw); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("crawler.as_of must be RFC 3339 or YYYY-MM-DD, got %q", raw)
}
