package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the portfolio pipeline engine.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Retry    RetryConfig    `mapstructure:"retry"`
	AI       AIConfig       `mapstructure:"ai"`
	Logo     LogoConfig     `mapstructure:"logo"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	Env                string        `mapstructure:"env"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// QueueConfig selects and tunes the job queue backend.
type QueueConfig struct {
	Backend         string        `mapstructure:"backend"`
	Prefix          string        `mapstructure:"prefix"`
	LeaseTTL        time.Duration `mapstructure:"lease_ttl"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PromoteInterval time.Duration `mapstructure:"promote_interval"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// Embedded runs the worker pool inside the serve process.
	Embedded          bool          `mapstructure:"embedded"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type AIConfig struct {
	Provider         string          `mapstructure:"provider"`
	InferenceTimeout time.Duration   `mapstructure:"inference_timeout"`
	Anthropic        AnthropicConfig `mapstructure:"anthropic"`
	Gemini           GeminiConfig    `mapstructure:"gemini"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	ImageModel string `mapstructure:"image_model"`
}

// LogoConfig configures the logo provider chain.
type LogoConfig struct {
	BrandfetchAPIKey  string        `mapstructure:"brandfetch_api_key"`
	BrandfetchBaseURL string        `mapstructure:"brandfetch_base_url"`
	ClearbitBaseURL   string        `mapstructure:"clearbit_base_url"`
	FaviconBaseURL    string        `mapstructure:"favicon_base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RatePerSecond     float64       `mapstructure:"rate_per_second"`
	Burst             int           `mapstructure:"burst"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var validProviders = map[string]bool{
	"anthropic": true,
	"gemini":    true,
	"mock":      true,
}

var validBackends = map[string]bool{
	"redis":  true,
	"memory": true,
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"server.port":                  "PORTFOLIO_PORT",
	"server.env":                   "PORTFOLIO_ENV",
	"server.rate_limit_per_minute": "RATE_LIMIT_PER_MINUTE",
	"server.shutdown_timeout":      "SHUTDOWN_TIMEOUT",
	"database.url":                 "DATABASE_URL",
	"database.max_open_conns":      "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":      "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime":   "DATABASE_CONN_MAX_LIFETIME",
	"database.migrations_dir":      "DATABASE_MIGRATIONS_DIR",
	"redis.url":                    "REDIS_URL",
	"queue.backend":                "QUEUE_BACKEND",
	"queue.prefix":                 "QUEUE_PREFIX",
	"queue.lease_ttl":              "QUEUE_LEASE_TTL",
	"queue.poll_interval":          "QUEUE_POLL_INTERVAL",
	"queue.promote_interval":       "QUEUE_PROMOTE_INTERVAL",
	"worker.concurrency":           "WORKER_CONCURRENCY",
	"worker.embedded":              "WORKER_EMBEDDED",
	"worker.heartbeat_interval":    "WORKER_HEARTBEAT_INTERVAL",
	"retry.max_attempts":           "RETRY_MAX_ATTEMPTS",
	"retry.base_delay":             "RETRY_BASE_DELAY",
	"retry.max_delay":              "RETRY_MAX_DELAY",
	"ai.provider":                  "AI_PROVIDER",
	"ai.inference_timeout":         "AI_INFERENCE_TIMEOUT",
	"ai.anthropic.api_key":         "ANTHROPIC_API_KEY",
	"ai.anthropic.model":           "ANTHROPIC_MODEL",
	"ai.gemini.api_key":            "GEMINI_API_KEY",
	"ai.gemini.model":              "GEMINI_MODEL",
	"ai.gemini.image_model":        "GEMINI_IMAGE_MODEL",
	"logo.brandfetch_api_key":      "BRANDFETCH_API_KEY",
	"logo.brandfetch_base_url":     "BRANDFETCH_BASE_URL",
	"logo.clearbit_base_url":       "CLEARBIT_BASE_URL",
	"logo.favicon_base_url":        "FAVICON_BASE_URL",
	"logo.timeout":                 "LOGO_PROVIDER_TIMEOUT",
	"logo.rate_per_second":         "LOGO_RATE_PER_SECOND",
	"logo.burst":                   "LOGO_BURST",
	"logo.cache_ttl":               "LOGO_CACHE_TTL",
	"log.level":                    "LOG_LEVEL",
	"log.format":                   "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.rate_limit_per_minute", 120)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_dir", "migrations")
	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.prefix", "pq")
	v.SetDefault("queue.lease_ttl", 2*time.Minute)
	v.SetDefault("queue.poll_interval", 500*time.Millisecond)
	v.SetDefault("queue.promote_interval", time.Second)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.embedded", false)
	v.SetDefault("worker.heartbeat_interval", 30*time.Second)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 2*time.Second)
	v.SetDefault("retry.max_delay", time.Minute)
	v.SetDefault("ai.inference_timeout", 60*time.Second)
	v.SetDefault("ai.anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.gemini.image_model", "imagen-4.0-generate-001")
	v.SetDefault("logo.brandfetch_base_url", "https://api.brandfetch.io/v2/brands")
	v.SetDefault("logo.clearbit_base_url", "https://logo.clearbit.com")
	v.SetDefault("logo.favicon_base_url", "https://www.google.com/s2/favicons")
	v.SetDefault("logo.timeout", 5*time.Second)
	v.SetDefault("logo.rate_per_second", 5.0)
	v.SetDefault("logo.burst", 5)
	v.SetDefault("logo.cache_ttl", 24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from the environment and an optional
// portfolio.yaml in the working directory.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. Environment variables
// take precedence over file values. A missing default file is not an error;
// a missing explicit path is.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("portfolio")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	cfg.Queue.Backend = strings.ToLower(strings.TrimSpace(cfg.Queue.Backend))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validBackends[c.Queue.Backend] {
		return fmt.Errorf("QUEUE_BACKEND must be one of redis, memory; got %q", c.Queue.Backend)
	}
	if c.Queue.LeaseTTL <= 0 {
		return fmt.Errorf("QUEUE_LEASE_TTL must be positive")
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.HeartbeatInterval <= 0 || c.Worker.HeartbeatInterval >= c.Queue.LeaseTTL {
		return fmt.Errorf("WORKER_HEARTBEAT_INTERVAL must be positive and shorter than QUEUE_LEASE_TTL")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("RETRY_BASE_DELAY must be positive and not exceed RETRY_MAX_DELAY")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of anthropic, gemini, mock; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.Provider == "gemini" && c.AI.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
	}

	for name, u := range map[string]string{
		"BRANDFETCH_BASE_URL": c.Logo.BrandfetchBaseURL,
		"CLEARBIT_BASE_URL":   c.Logo.ClearbitBaseURL,
		"FAVICON_BASE_URL":    c.Logo.FaviconBaseURL,
	} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, u)
		}
	}

	return nil
}
