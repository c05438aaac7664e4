package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/divvychat/divvychat/pkg/models"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StoreConfig holds shared counter/cache store configuration.
// When Redis.Addr is empty the in-memory backend is used instead, which is
// only suitable for single-instance deployments and tests.
type StoreConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DatabaseConfig holds transcript database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// TierPriceConfig holds per-1K-unit prices for one tier
type TierPriceConfig struct {
	InputPer1K  float64 `mapstructure:"input_per_1k"`
	OutputPer1K float64 `mapstructure:"output_per_1k"`
}

// PricingConfig holds the static tier pricing table
type PricingConfig struct {
	Low          TierPriceConfig `mapstructure:"low"`
	Mid          TierPriceConfig `mapstructure:"mid"`
	High         TierPriceConfig `mapstructure:"high"`
	ExchangeRate float64         `mapstructure:"exchange_rate"`
	Currency     string          `mapstructure:"currency"`
}

// Table builds the immutable pricing table handed to the cost accountant.
func (p PricingConfig) Table() *models.PricingTable {
	return &models.PricingTable{
		Prices: map[models.Tier]models.TierPrice{
			models.TierLow:  {InputPer1K: p.Low.InputPer1K, OutputPer1K: p.Low.OutputPer1K},
			models.TierMid:  {InputPer1K: p.Mid.InputPer1K, OutputPer1K: p.Mid.OutputPer1K},
			models.TierHigh: {InputPer1K: p.High.InputPer1K, OutputPer1K: p.High.OutputPer1K},
		},
		ExchangeRate: p.ExchangeRate,
		Currency:     p.Currency,
	}
}

// BudgetConfig holds daily budget enforcement configuration
type BudgetConfig struct {
	DailyCapPerCaller float64 `mapstructure:"daily_cap_per_caller"`
	DailyCapGlobal    float64 `mapstructure:"daily_cap_global"`
	WarnThreshold     float64 `mapstructure:"warn_threshold"` // fraction of cap, e.g. 0.80
	Timezone          string  `mapstructure:"timezone"`       // IANA name for the budget day boundary
}

// Location resolves the configured budget timezone.
func (b BudgetConfig) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(b.Timezone)
}

// RateLimitConfig holds admission control configuration
type RateLimitConfig struct {
	GeneralPerMinute        int           `mapstructure:"general_per_minute"`
	ProviderPerMinute       int           `mapstructure:"provider_per_minute"`
	Window                  time.Duration `mapstructure:"window"`
	BusinessHoursStart      int           `mapstructure:"business_hours_start"` // local hour, inclusive
	BusinessHoursEnd        int           `mapstructure:"business_hours_end"`   // local hour, exclusive
	BusinessHoursMultiplier float64       `mapstructure:"business_hours_multiplier"`
	MaxConversationTurns    int           `mapstructure:"max_conversation_turns"`
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTLLow  time.Duration `mapstructure:"ttl_low"`
	TTLMid  time.Duration `mapstructure:"ttl_mid"`
	TTLHigh time.Duration `mapstructure:"ttl_high"`
}

// TTLFor returns the TTL for entries produced by the given tier.
func (c CacheConfig) TTLFor(t models.Tier) time.Duration {
	switch t {
	case models.TierHigh:
		return c.TTLHigh
	case models.TierMid:
		return c.TTLMid
	default:
		return c.TTLLow
	}
}

// ProviderConfig holds remote model provider configuration
type ProviderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	ModelLow          string        `mapstructure:"model_low"`
	ModelMid          string        `mapstructure:"model_mid"`
	ModelHigh         string        `mapstructure:"model_high"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"` // outbound throttle, 0 = unlimited
}

// ModelFor returns the provider model name mapped to a tier.
func (p ProviderConfig) ModelFor(t models.Tier) string {
	switch t {
	case models.TierHigh:
		return p.ModelHigh
	case models.TierMid:
		return p.ModelMid
	default:
		return p.ModelLow
	}
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration primarily from environment variables
func LoadFromEnv() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from .env file if it exists
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Store defaults (empty addr selects the in-memory backend)
	v.SetDefault("store.redis.addr", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key_prefix", "divvychat:")

	// Database defaults
	v.SetDefault("database.path", "./data/divvychat.db")

	// Pricing defaults (per 1K units, reference currency)
	v.SetDefault("pricing.low.input_per_1k", 0.00025)
	v.SetDefault("pricing.low.output_per_1k", 0.00125)
	v.SetDefault("pricing.mid.input_per_1k", 0.003)
	v.SetDefault("pricing.mid.output_per_1k", 0.015)
	v.SetDefault("pricing.high.input_per_1k", 0.015)
	v.SetDefault("pricing.high.output_per_1k", 0.075)
	v.SetDefault("pricing.exchange_rate", 1.0)
	v.SetDefault("pricing.currency", "USD")

	// Budget defaults
	v.SetDefault("budget.daily_cap_per_caller", 1.00)
	v.SetDefault("budget.daily_cap_global", 50.00)
	v.SetDefault("budget.warn_threshold", 0.80)
	v.SetDefault("budget.timezone", "UTC")

	// Rate limit defaults
	v.SetDefault("ratelimit.general_per_minute", 30)
	v.SetDefault("ratelimit.provider_per_minute", 10)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.business_hours_start", 9)
	v.SetDefault("ratelimit.business_hours_end", 18)
	v.SetDefault("ratelimit.business_hours_multiplier", 1.5)
	v.SetDefault("ratelimit.max_conversation_turns", 50)

	// Cache defaults: pricier tiers cache longer
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl_low", time.Hour)
	v.SetDefault("cache.ttl_mid", 6*time.Hour)
	v.SetDefault("cache.ttl_high", 24*time.Hour)

	// Provider defaults
	v.SetDefault("provider.base_url", "https://api.openai.com/v1")
	v.SetDefault("provider.model_low", "gpt-4o-mini")
	v.SetDefault("provider.model_mid", "gpt-4o")
	v.SetDefault("provider.model_high", "o1")
	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("provider.max_tokens", 1024)
	v.SetDefault("provider.requests_per_second", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	// Helper to bind and log errors (BindEnv errors are non-fatal but should be logged)
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	// Provider credentials from environment
	bindEnv("provider.api_key", "PROVIDER_API_KEY")
	bindEnv("provider.base_url", "PROVIDER_BASE_URL")

	// Store connection
	bindEnv("store.redis.addr", "REDIS_ADDR")
	bindEnv("store.redis.password", "REDIS_PASSWORD")

	// Database path
	bindEnv("database.path", "DATABASE_PATH")

	// Server config
	bindEnv("server.host", "SERVER_HOST")
	bindEnv("server.port", "SERVER_PORT")

	// Budget
	bindEnv("budget.daily_cap_per_caller", "BUDGET_DAILY_CAP_PER_CALLER")
	bindEnv("budget.daily_cap_global", "BUDGET_DAILY_CAP_GLOBAL")
	bindEnv("budget.timezone", "BUDGET_TIMEZONE")

	// Logging
	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Budget.DailyCapPerCaller <= 0 {
		return fmt.Errorf("budget.daily_cap_per_caller must be positive")
	}
	if c.Budget.DailyCapGlobal <= 0 {
		return fmt.Errorf("budget.daily_cap_global must be positive")
	}
	if c.Budget.WarnThreshold <= 0 || c.Budget.WarnThreshold > 1 {
		return fmt.Errorf("budget.warn_threshold must be in (0, 1]")
	}
	if _, err := c.Budget.Location(); err != nil {
		return fmt.Errorf("budget.timezone is invalid: %w", err)
	}

	if c.RateLimit.GeneralPerMinute <= 0 {
		return fmt.Errorf("ratelimit.general_per_minute must be positive")
	}
	if c.RateLimit.ProviderPerMinute <= 0 {
		return fmt.Errorf("ratelimit.provider_per_minute must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be positive")
	}
	if c.RateLimit.BusinessHoursStart < 0 || c.RateLimit.BusinessHoursStart > 23 ||
		c.RateLimit.BusinessHoursEnd < 0 || c.RateLimit.BusinessHoursEnd > 24 {
		return fmt.Errorf("ratelimit business hours must be within a day")
	}
	if c.RateLimit.BusinessHoursMultiplier < 1 {
		return fmt.Errorf("ratelimit.business_hours_multiplier must be >= 1")
	}
	if c.RateLimit.MaxConversationTurns <= 0 {
		return fmt.Errorf("ratelimit.max_conversation_turns must be positive")
	}

	if c.Pricing.ExchangeRate <= 0 {
		return fmt.Errorf("pricing.exchange_rate must be positive")
	}

	if c.Provider.APIKey == "" {
		return fmt.Errorf("PROVIDER_API_KEY is required")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}

	return nil
}
