package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ScraperConfig holds settings of the direct scraping provider.
type ScraperConfig struct {
	Workers            string `yaml:"workers"`
	Headless           bool   `yaml:"headless"`
	ProductURLTemplate string `yaml:"product_url_template"`
	UserAgent          string `yaml:"user_agent"`
	HTTPTimeoutSeconds int    `yaml:"http_timeout_seconds"`
	ViewportWidth      int    `yaml:"viewport_width"`
	ViewportHeight     int    `yaml:"viewport_height"`
	ActionDelayMS      int    `yaml:"action_delay_ms"`
	BrowserBin         string `yaml:"browser_bin"`
}

// RemoteConfig holds settings of the external parsing service.
type RemoteConfig struct {
	BaseURL             string   `yaml:"base_url"`
	APIKey              string   `yaml:"api_key"`
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
	TimeoutSeconds      int      `yaml:"timeout_seconds"`
	RequestsPerSecond   float64  `yaml:"requests_per_second"`
	Methods             []string `yaml:"methods"` // identifier-method ordering
}

// RateLimitConfig holds the sliding-window admission settings.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	JitterMinMS       int `yaml:"jitter_min_ms"`
	JitterMaxMS       int `yaml:"jitter_max_ms"`
}

// RetryConfig holds the backoff settings for transient failures.
type RetryConfig struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
}

// AuditConfig selects where request log entries go: sqlite, postgres or log.
// Echo also writes every entry to the log.
type AuditConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Echo   bool   `yaml:"echo"`
}

// Config is the complete structure for the config.yml file.
type Config struct {
	Scraper   ScraperConfig   `yaml:"scraper"`
	Remote    RemoteConfig    `yaml:"remote"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Cache     struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"cache"`
	Acquisition struct {
		DefaultProvider string `yaml:"default_provider"`
	} `yaml:"acquisition"`
	Batch struct {
		ItemDelaySeconds int `yaml:"item_delay_seconds"`
	} `yaml:"batch"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Audit AuditConfig `yaml:"audit"`
}

// Load reads config.yml, applies .env overrides and fills defaults.
func Load(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config yaml: %w", err)
	}

	// A missing .env is fine; secrets may come from the real environment.
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load that exits the process on error.
func LoadConfig(filepath string) *Config {
	cfg, err := Load(filepath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REMOTE_API_KEY"); v != "" {
		c.Remote.APIKey = v
	}
	if v := os.Getenv("REMOTE_BASE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("AUDIT_DSN"); v != "" {
		c.Audit.DSN = v
	}
	if v := os.Getenv("PRICEWATCH_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Scraper.Headless = b
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Scraper.ProductURLTemplate == "" {
		c.Scraper.ProductURLTemplate = "https://www.wildberries.ru/catalog/%s/detail.aspx"
	}
	if c.Scraper.UserAgent == "" {
		c.Scraper.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}
	if c.Scraper.HTTPTimeoutSeconds <= 0 {
		c.Scraper.HTTPTimeoutSeconds = 15
	}
	if c.Scraper.ViewportWidth <= 0 || c.Scraper.ViewportHeight <= 0 {
		c.Scraper.ViewportWidth, c.Scraper.ViewportHeight = 1366, 768
	}
	if c.Scraper.ActionDelayMS <= 0 {
		c.Scraper.ActionDelayMS = 500
	}
	if c.Scraper.Workers == "" {
		c.Scraper.Workers = "1"
	}
	if c.Remote.PollIntervalSeconds <= 0 {
		c.Remote.PollIntervalSeconds = 10
	}
	if c.Remote.TimeoutSeconds <= 0 {
		c.Remote.TimeoutSeconds = 600
	}
	if c.Remote.RequestsPerSecond <= 0 {
		c.Remote.RequestsPerSecond = 2
	}
	if len(c.Remote.Methods) == 0 {
		c.Remote.Methods = []string{"seller_id", "marketplace_id"}
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 20
	}
	if c.RateLimit.JitterMinMS <= 0 && c.RateLimit.JitterMaxMS <= 0 {
		c.RateLimit.JitterMinMS, c.RateLimit.JitterMaxMS = 1000, 3000
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelayMS <= 0 {
		c.Retry.BaseDelayMS = 1000
	}
	if c.Retry.MaxDelayMS <= 0 {
		c.Retry.MaxDelayMS = 30000
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 3600
	}
	if c.Acquisition.DefaultProvider == "" {
		c.Acquisition.DefaultProvider = "direct"
	}
	if c.Batch.ItemDelaySeconds < 0 {
		c.Batch.ItemDelaySeconds = 0
	}
	if c.Database.Path == "" {
		c.Database.Path = "products.db"
	}
	if c.Audit.Driver == "" {
		c.Audit.Driver = "sqlite"
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	for _, m := range c.Remote.Methods {
		if m != "seller_id" && m != "marketplace_id" {
			return fmt.Errorf("remote.methods: unknown identifier method %q", m)
		}
	}
	switch c.Acquisition.DefaultProvider {
	case "direct", "direct_tier2", "remote":
	default:
		return fmt.Errorf("acquisition.default_provider: unknown provider %q", c.Acquisition.DefaultProvider)
	}
	switch c.Audit.Driver {
	case "sqlite", "log":
	case "postgres":
		if c.Audit.DSN == "" {
			return fmt.Errorf("audit.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("audit.driver: unknown driver %q", c.Audit.Driver)
	}
	if c.RateLimit.JitterMaxMS < c.RateLimit.JitterMinMS {
		return fmt.Errorf("rate_limit: jitter_max_ms must be >= jitter_min_ms")
	}
	return nil
}

// CacheTTL returns the cache time-to-live.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// HTTPTimeout returns the per-request timeout of Tier 1 and the remote API.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Scraper.HTTPTimeoutSeconds) * time.Second
}

// PollInterval returns the remote task poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Remote.PollIntervalSeconds) * time.Second
}

// RemoteTimeout returns the overall remote task timeout.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// ItemDelay returns the fixed pause batch jobs take between items.
func (c *Config) ItemDelay() time.Duration {
	return time.Duration(c.Batch.ItemDelaySeconds) * time.Second
}
