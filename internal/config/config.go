package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/labstack/gommon/bytes"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string        `mapstructure:"PORT"`
	Env         string        `mapstructure:"ENV"`
	LogLevel    string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL string        `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string        `mapstructure:"REDIS_URL"`
	AppURL      string        `mapstructure:"APP_URL"`
	CORSOrigins []string      `mapstructure:"CORS_ORIGINS"`
	BodyLimit   string        `mapstructure:"BODY_LIMIT"`
	HTTPTimeout time.Duration `mapstructure:"HTTP_CLIENT_TIMEOUT"`

	AuthJWTSecret string `mapstructure:"AUTH_JWT_SECRET"`
	AuthIssuer    string `mapstructure:"AUTH_ISSUER"`
	AuthAudience  string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL   string `mapstructure:"AUTH_JWKS_URL"`

	OpenRouterAPIKey  string `mapstructure:"OPENROUTER_API_KEY"`
	OpenRouterModel   string `mapstructure:"OPENROUTER_MODEL"`
	OpenRouterBaseURL string `mapstructure:"OPENROUTER_BASE_URL"`

	IntaSendPublishableKey string `mapstructure:"INTASEND_PUBLISHABLE_KEY"`
	IntaSendSecretKey      string `mapstructure:"INTASEND_SECRET_KEY"`
	IntaSendWebhookSecret  string `mapstructure:"INTASEND_WEBHOOK_SECRET"`
	IntaSendTestMode       bool   `mapstructure:"INTASEND_TEST_MODE"`

	SubscriptionPrice    int    `mapstructure:"SUBSCRIPTION_PRICE"`
	SubscriptionCurrency string `mapstructure:"SUBSCRIPTION_CURRENCY"`
	SubscriptionDays     int    `mapstructure:"SUBSCRIPTION_DAYS"`
	RequireSubscription  bool   `mapstructure:"REQUIRE_SUBSCRIPTION"`
	AnalysisDailyLimit   int    `mapstructure:"ANALYSIS_DAILY_LIMIT"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "APP_URL", "CORS_ORIGINS", "BODY_LIMIT", "HTTP_CLIENT_TIMEOUT",
	"AUTH_JWT_SECRET", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"OPENROUTER_API_KEY", "OPENROUTER_MODEL", "OPENROUTER_BASE_URL",
	"INTASEND_PUBLISHABLE_KEY", "INTASEND_SECRET_KEY", "INTASEND_WEBHOOK_SECRET", "INTASEND_TEST_MODE",
	"SUBSCRIPTION_PRICE", "SUBSCRIPTION_CURRENCY", "SUBSCRIPTION_DAYS", "REQUIRE_SUBSCRIPTION",
	"ANALYSIS_DAILY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("APP_URL", "http://localhost:3000")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("HTTP_CLIENT_TIMEOUT", "90s")
	v.SetDefault("OPENROUTER_MODEL", "anthropic/claude-sonnet-4")
	v.SetDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")
	v.SetDefault("INTASEND_TEST_MODE", true)
	v.SetDefault("SUBSCRIPTION_PRICE", 2000)
	v.SetDefault("SUBSCRIPTION_CURRENCY", "KES")
	v.SetDefault("SUBSCRIPTION_DAYS", 30)
	v.SetDefault("REQUIRE_SUBSCRIPTION", true)
	v.SetDefault("ANALYSIS_DAILY_LIMIT", 50)
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("running in development mode: every API request is served as the fixed dev user")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SubscriptionPeriod is how long one successful payment grants access.
func (c *Config) SubscriptionPeriod() time.Duration {
	return time.Duration(c.SubscriptionDays) * 24 * time.Hour
}

// Validate checks that the configuration is safe to run. Outside development a
// token verification method is required; production also needs the payment
// and completion credentials.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "test", "staging", "production":
	default:
		return fmt.Errorf("ENV must be development, test, staging or production, got %q", c.Env)
	}

	if !c.IsDev() && c.AuthJWTSecret == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_JWT_SECRET or AUTH_JWKS_URL must be set when ENV=%q", c.Env)
	}
	if c.AuthJWTSecret != "" && len(c.AuthJWTSecret) < 32 {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least 32 bytes, got %d", len(c.AuthJWTSecret))
	}

	if c.IsProduction() {
		if c.IntaSendWebhookSecret == "" {
			return fmt.Errorf("INTASEND_WEBHOOK_SECRET is required in production")
		}
		if c.IntaSendSecretKey == "" || c.IntaSendPublishableKey == "" {
			return fmt.Errorf("INTASEND_SECRET_KEY and INTASEND_PUBLISHABLE_KEY are required in production")
		}
		if c.OpenRouterAPIKey == "" {
			return fmt.Errorf("OPENROUTER_API_KEY is required in production")
		}
		if c.IntaSendTestMode {
			return fmt.Errorf("INTASEND_TEST_MODE must be false in production")
		}
	}

	if c.SubscriptionPrice <= 0 {
		return fmt.Errorf("SUBSCRIPTION_PRICE must be positive, got %d", c.SubscriptionPrice)
	}
	if c.SubscriptionDays <= 0 {
		return fmt.Errorf("SUBSCRIPTION_DAYS must be positive, got %d", c.SubscriptionDays)
	}
	if c.AnalysisDailyLimit < 0 {
		return fmt.Errorf("ANALYSIS_DAILY_LIMIT must not be negative, got %d", c.AnalysisDailyLimit)
	}
	if c.BodyLimit != "" {
		if n, err := bytes.Parse(c.BodyLimit); err != nil || n <= 0 {
			return fmt.Errorf("BODY_LIMIT must be a size such as 512K or 2M, got %q", c.BodyLimit)
		}
	}

	return nil
}
