package config

import (
	"os"
	"strings"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Images     ImagesConfig     `yaml:"images" mapstructure:"images"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	AI         AIConfig         `yaml:"ai" mapstructure:"ai"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Review     ReviewConfig     `yaml:"review" mapstructure:"review"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig selects the result cache backend ("store" or "redis").
type CacheConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
}

// RedisConfig holds connection settings for the redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// ImagesConfig bounds accepted uploads.
type ImagesConfig struct {
	MaxBytes int `yaml:"max_bytes" mapstructure:"max_bytes"`
	MaxCount int `yaml:"max_count" mapstructure:"max_count"`
}

// CatalogConfig tunes catalog matching.
type CatalogConfig struct {
	MinRelevance  float64 `yaml:"min_relevance" mapstructure:"min_relevance"`
	MaxCandidates int     `yaml:"max_candidates" mapstructure:"max_candidates"`
}

// AIConfig controls the paid vision tier.
type AIConfig struct {
	DefaultProvider  string  `yaml:"default_provider" mapstructure:"default_provider"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens        int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RetryBackoffMs   int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RateLimitPerSec  float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	RateLimitBurst   int     `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// AnthropicConfig holds Claude API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// PricingConfig holds per-provider, per-model pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelPricing `yaml:"openai" mapstructure:"openai"`
	Gemini    map[string]ModelPricing `yaml:"gemini" mapstructure:"gemini"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ReviewConfig controls submission auto-approval.
type ReviewConfig struct {
	AutoApprove              bool     `yaml:"auto_approve" mapstructure:"auto_approve"`
	AutoApproveTypes         []string `yaml:"auto_approve_types" mapstructure:"auto_approve_types"`
	AutoApproveMinConfidence float64  `yaml:"auto_approve_min_confidence" mapstructure:"auto_approve_min_confidence"`
}

// TelemetryConfig sizes the asynchronous scan log writer.
type TelemetryConfig struct {
	Workers          int `yaml:"workers" mapstructure:"workers"`
	QueueSize        int `yaml:"queue_size" mapstructure:"queue_size"`
	WriteTimeoutSecs int `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
}

// MonitoringConfig configures cost and error alerting.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalMins    int     `yaml:"check_interval_mins" mapstructure:"check_interval_mins"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	UserBudgetUSD        float64 `yaml:"user_budget_usd" mapstructure:"user_budget_usd"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinCacheHitRate      float64 `yaml:"min_cache_hit_rate" mapstructure:"min_cache_hit_rate"`
	MinScans             int     `yaml:"min_scans" mapstructure:"min_scans"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `yaml:"level" mapstructure:"level"`
	Format    string `yaml:"format" mapstructure:"format"`
	SentryDSN string `yaml:"sentry_dsn" mapstructure:"sentry_dsn"`
	Env       string `yaml:"env" mapstructure:"env"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TEARDOWN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets have empty defaults so AutomaticEnv can bind them during Unmarshal.
	for _, key := range []string{"anthropic.key", "anthropic.base_url", "openai.key", "gemini.key", "redis.password", "monitoring.webhook_url", "log.sentry_dsn"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "teardown.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.backend", "store")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "teardown")
	v.SetDefault("images.max_bytes", 4<<20)
	v.SetDefault("images.max_count", 4)
	v.SetDefault("catalog.min_relevance", 0.6)
	v.SetDefault("catalog.max_candidates", 20)
	v.SetDefault("ai.default_provider", "openai")
	v.SetDefault("ai.timeout_secs", 60)
	v.SetDefault("ai.max_tokens", 4096)
	v.SetDefault("ai.retry_backoff_ms", 750)
	v.SetDefault("ai.rate_limit_per_sec", 5.0)
	v.SetDefault("ai.rate_limit_burst", 10)
	v.SetDefault("ai.breaker_threshold", 5)
	v.SetDefault("ai.breaker_reset_secs", 30)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("review.auto_approve", false)
	v.SetDefault("review.auto_approve_types", []string{"additional_info"})
	v.SetDefault("review.auto_approve_min_confidence", 0.9)
	v.SetDefault("telemetry.workers", 4)
	v.SetDefault("telemetry.queue_size", 1000)
	v.SetDefault("telemetry.write_timeout_secs", 5)
	v.SetDefault("monitoring.check_interval_mins", 15)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.cost_threshold_usd", 50.0)
	v.SetDefault("monitoring.user_budget_usd", 2.0)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.min_cache_hit_rate", 0.1)
	v.SetDefault("monitoring.min_scans", 20)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.env", "development")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a given command needs.
func (c *Config) Validate(mode string) error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	switch c.Cache.Backend {
	case "store":
	case "redis":
		if c.Redis.Addr == "" {
			return eris.New("config: redis.addr is required for the redis cache backend")
		}
	default:
		return eris.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Catalog.MinRelevance <= 0 || c.Catalog.MinRelevance > 1 {
		return eris.Errorf("config: catalog.min_relevance must be in (0,1], got %v", c.Catalog.MinRelevance)
	}

	switch mode {
	case "serve", "identify":
		if !c.HasProvider(c.AI.DefaultProvider) {
			return eris.Errorf("config: default provider %q has no API key", c.AI.DefaultProvider)
		}
	}
	return nil
}

// HasProvider reports whether credentials exist for the named provider.
func (c *Config) HasProvider(name string) bool {
	switch name {
	case "claude":
		return c.Anthropic.Key != ""
	case "openai":
		return c.OpenAI.Key != ""
	case "gemini":
		return c.Gemini.Key != ""
	}
	return false
}

// InitLogger initializes the global zap logger. Error-level entries are
// forwarded to Sentry when a DSN is configured.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}

	if cfg.SentryDSN != "" {
		client, err := sentry.NewClient(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
		})
		if err != nil {
			return eris.Wrap(err, "config: sentry client")
		}
		core, err := zapsentry.NewCore(zapsentry.Configuration{
			Level:             zapcore.ErrorLevel,
			EnableBreadcrumbs: true,
			BreadcrumbLevel:   zapcore.InfoLevel,
			Tags:              map[string]string{"service": "teardown"},
		}, zapsentry.NewSentryClientFromClient(client))
		if err != nil {
			return eris.Wrap(err, "config: sentry core")
		}
		logger = zapsentry.AttachCoreToLogger(core, logger)
	}

	zap.ReplaceGlobals(logger)
	return nil
}
