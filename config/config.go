package config

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. PRICECOMPARE_MAX_PAGES.
const EnvPrefix = "PRICECOMPARE"

// DelayWindow is a closed interval a random pause is drawn from.
type DelayWindow struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// Window is shorthand for a DelayWindow literal.
func Window(min, max time.Duration) DelayWindow {
	return DelayWindow{Min: min, Max: max}
}

// Pick returns a uniformly random duration within the window.
func (w DelayWindow) Pick() time.Duration {
	if w.Max <= w.Min {
		return max(w.Min, 0)
	}
	return w.Min + rand.N(w.Max-w.Min+1)
}

func (w DelayWindow) validate(name string) error {
	if w.Min < 0 || w.Max < 0 {
		return fmt.Errorf("%s cannot be negative", name)
	}
	if w.Max < w.Min {
		return fmt.Errorf("%s max (%s) cannot be below min (%s)", name, w.Max, w.Min)
	}
	return nil
}

// BrowserConfig controls the headless browser used for fallback rendering.
type BrowserConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Headless    bool          `mapstructure:"headless"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	PageTimeout time.Duration `mapstructure:"page_timeout"`
	ExecPath    string        `mapstructure:"exec_path"`
}

// CacheConfig selects the search result cache backend.
type CacheConfig struct {
	Type     string        `mapstructure:"type"` // none, memory or redis
	TTL      time.Duration `mapstructure:"ttl"`
	Size     int           `mapstructure:"size"`
	RedisURL string        `mapstructure:"redis_url"`
}

// Config holds price comparison configuration.
type Config struct {
	MaxPages            int     `mapstructure:"max_pages"`
	MaxWorkers          int     `mapstructure:"max_workers"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`

	TaskTimeout      time.Duration `mapstructure:"task_timeout"`
	StatusTimeout    time.Duration `mapstructure:"status_timeout"`
	StartJitter      DelayWindow   `mapstructure:"start_jitter"`
	InterSourceDelay DelayWindow   `mapstructure:"inter_source_delay"`
	CategoryDelay    DelayWindow   `mapstructure:"category_delay"`

	MaxRetries      int           `mapstructure:"max_retries"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	HumanDelay      DelayWindow   `mapstructure:"human_delay"`
	BlockedDelay    DelayWindow   `mapstructure:"blocked_delay"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`
	RequestRPS      float64       `mapstructure:"request_rps"`
	UserAgents      []string      `mapstructure:"user_agents"`
	Proxies         []string      `mapstructure:"proxies"`

	Browser BrowserConfig `mapstructure:"browser"`
	Cache   CacheConfig   `mapstructure:"cache"`

	OutputFile         string `mapstructure:"output_file"`
	OutputFormat       string `mapstructure:"output_format"` // csv, json, dual or split
	ComparisonFile     string `mapstructure:"comparison_file"`
	PipelineBufferSize int    `mapstructure:"pipeline_buffer_size"`
	BatchSize          int    `mapstructure:"batch_size"`
	DedupeMaxSize      int    `mapstructure:"dedupe_max_size"`
	MetricsAddr        string `mapstructure:"metrics_addr"`
	Verbose            bool   `mapstructure:"verbose"`

	Sources []SourceConfig `mapstructure:"sources"`
}

// DefaultConfig returns the production defaults for the built-in sources.
func DefaultConfig() *Config {
	return &Config{
		MaxPages:            2,
		MaxWorkers:          3,
		SimilarityThreshold: 0.7,

		TaskTimeout:      60 * time.Second,
		StatusTimeout:    10 * time.Second,
		StartJitter:      Window(0, 3*time.Second),
		InterSourceDelay: Window(2*time.Second, 5*time.Second),
		CategoryDelay:    Window(3*time.Second, 6*time.Second),

		MaxRetries:      3,
		RequestTimeout:  15 * time.Second,
		HumanDelay:      Window(2*time.Second, 5*time.Second),
		BlockedDelay:    Window(10*time.Second, 20*time.Second),
		RetryBackoff:    5 * time.Second,
		RetryBackoffMax: 10 * time.Second,

		Browser: BrowserConfig{
			Enabled:     true,
			Headless:    true,
			WaitTimeout: 10 * time.Second,
			PageTimeout: 45 * time.Second,
		},
		Cache: CacheConfig{
			Type: "memory",
			TTL:  15 * time.Minute,
			Size: 256,
		},

		OutputFile:         "output/products.csv",
		OutputFormat:       "csv",
		ComparisonFile:     "output/comparison.json",
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      100000,

		Sources: DefaultSources(),
	}
}

// Load reads an optional YAML file, applies PRICECOMPARE_* environment overrides and validates.
// An empty path searches ./pricecompare.yaml and ./config/pricecompare.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pricecompare")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	cfg.Sources = nil
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources()
	}
	for i := range cfg.Sources {
		cfg.Sources[i].applyDefaults()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("max_pages", d.MaxPages)
	v.SetDefault("max_workers", d.MaxWorkers)
	v.SetDefault("similarity_threshold", d.SimilarityThreshold)

	v.SetDefault("task_timeout", d.TaskTimeout)
	v.SetDefault("status_timeout", d.StatusTimeout)
	setWindow(v, "start_jitter", d.StartJitter)
	setWindow(v, "inter_source_delay", d.InterSourceDelay)
	setWindow(v, "category_delay", d.CategoryDelay)

	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("request_timeout", d.RequestTimeout)
	setWindow(v, "human_delay", d.HumanDelay)
	setWindow(v, "blocked_delay", d.BlockedDelay)
	v.SetDefault("retry_backoff", d.RetryBackoff)
	v.SetDefault("retry_backoff_max", d.RetryBackoffMax)
	v.SetDefault("request_rps", d.RequestRPS)
	v.SetDefault("user_agents", d.UserAgents)
	v.SetDefault("proxies", d.Proxies)

	v.SetDefault("browser.enabled", d.Browser.Enabled)
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.wait_timeout", d.Browser.WaitTimeout)
	v.SetDefault("browser.page_timeout", d.Browser.PageTimeout)
	v.SetDefault("browser.exec_path", d.Browser.ExecPath)

	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.size", d.Cache.Size)
	v.SetDefault("cache.redis_url", d.Cache.RedisURL)

	v.SetDefault("output_file", d.OutputFile)
	v.SetDefault("output_format", d.OutputFormat)
	v.SetDefault("comparison_file", d.ComparisonFile)
	v.SetDefault("pipeline_buffer_size", d.PipelineBufferSize)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("dedupe_max_size", d.DedupeMaxSize)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("verbose", d.Verbose)
}

func setWindow(v *viper.Viper, key string, w DelayWindow) {
	v.SetDefault(key+".min", w.Min)
	v.SetDefault(key+".max", w.Max)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be within (0,1], got %v", c.SimilarityThreshold)
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task timeout must be positive")
	}
	if c.StatusTimeout <= 0 {
		return fmt.Errorf("status timeout must be positive")
	}
	for name, w := range map[string]DelayWindow{
		"start jitter":       c.StartJitter,
		"inter-source delay": c.InterSourceDelay,
		"category delay":     c.CategoryDelay,
		"human delay":        c.HumanDelay,
		"blocked delay":      c.BlockedDelay,
	} {
		if err := w.validate(name); err != nil {
			return err
		}
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RequestRPS < 0 {
		return fmt.Errorf("request rps cannot be negative")
	}
	for _, p := range c.Proxies {
		u, err := url.Parse(p)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid proxy %q", p)
		}
	}
	if c.Browser.Enabled && c.Browser.PageTimeout <= 0 {
		return fmt.Errorf("browser page timeout must be positive")
	}
	switch c.Cache.Type {
	case "", "none":
	case "memory":
		if c.Cache.Size <= 0 {
			return fmt.Errorf("cache size must be positive for the memory cache")
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis url is required when cache type is redis")
		}
	default:
		return fmt.Errorf("cache type must be none, memory, or redis, got %q", c.Cache.Type)
	}
	if c.Cache.Type != "" && c.Cache.Type != "none" && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual", "split":
	default:
		return fmt.Errorf("output format must be csv, json, dual or split, got %q", c.OutputFormat)
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		if err := c.Sources[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[c.Sources[i].ID]; dup {
			return fmt.Errorf("duplicate source id %q", c.Sources[i].ID)
		}
		seen[c.Sources[i].ID] = struct{}{}
	}
	return nil
}

// SelectSources keeps only the sources whose ids are listed, preserving order.
func (c *Config) SelectSources(ids []string) ([]SourceConfig, error) {
	if len(ids) == 0 {
		return c.Sources, nil
	}
	byID := make(map[string]SourceConfig, len(c.Sources))
	for _, s := range c.Sources {
		byID[s.ID] = s
	}
	out := make([]SourceConfig, 0, len(ids))
	for _, id := range ids {
		s, ok := byID[strings.TrimSpace(id)]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", id)
		}
		out = append(out, s)
	}
	return out, nil
}
