// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// This is the single configuration-resolution point: no other package reads
// the environment directly. Components receive explicit values or structs, so
// "is durable storage configured" is decided exactly once, here.
//
// REDIS_URL is optional. Without it the gateway runs in local mode: key
// resolution answers with a fixed default workspace, and provider credentials
// fall back to the *_API_KEY variables below. Local mode is an explicit
// escape hatch for development, never a production fallback.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// Env is the deployment environment: "development" or "production".
	// In development the webhook SSRF guard permits plain HTTP URLs.
	// Default: production.
	Env string

	// AdminToken protects the /admin routes. Required unless local mode.
	AdminToken string

	// MasterKey is the 256-bit secret-store encryption key, hex encoded
	// (64 characters). Required unless local mode.
	MasterKey []byte

	// Redis holds the durable storage connection. Empty URL enables local mode.
	Redis RedisConfig

	// Resolver controls the key-resolver cache.
	Resolver ResolverConfig

	// Enforcer controls upstream provider calls.
	Enforcer EnforcerConfig

	// Policy holds the global validation thresholds and risk weights.
	// Per-workspace overrides are layered on top at runtime.
	Policy PolicyConfig

	// Webhook controls outbound notification delivery.
	Webhook WebhookConfig

	// CircuitBreaker controls per-provider upstream circuit breakers.
	CircuitBreaker CircuitBreakerConfig

	// Budget is the default monthly per-workspace cost budget in USD.
	// 0 disables COST_ALERT events. Default: 0.
	BudgetUSD float64

	// ClickHouseDSN enables the optional trace analytics sink when non-empty.
	ClickHouseDSN string

	// CORSOrigins is the list of allowed CORS origins. Default: ["*"].
	CORSOrigins []string

	// Fallback provider credentials, used only in local mode.
	OpenAIKey    string
	AnthropicKey string
	GeminiKey    string
	MistralKey   string
}

// RedisConfig holds the durable storage connection.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Empty enables local mode.
	URL string
}

// ResolverConfig controls the in-process workspace cache.
type ResolverConfig struct {
	// CacheTTL is how long a resolved WorkspaceInfo stays cached. Default: 300s.
	CacheTTL time.Duration

	// SweepInterval is how often expired cache entries are evicted. Default: 60s.
	SweepInterval time.Duration
}

// EnforcerConfig controls upstream provider behaviour.
type EnforcerConfig struct {
	// Timeout is the per-upstream-call HTTP timeout. Default: 60s.
	Timeout time.Duration
}

// PolicyConfig holds global validation thresholds. These values are never
// included in any response payload (threshold blackboxing).
type PolicyConfig struct {
	// ConfidenceWarn is the confidence below which a WARN is raised. Default: 70.
	ConfidenceWarn int
	// ConfidenceBlock is the confidence below which the risk scorer treats
	// the response as flagged. It inflates the risk score but never blocks
	// on its own. Default: 30.
	ConfidenceBlock int
	// MinEvidence is the minimum evidence count before a WARN is raised. Default: 1.
	MinEvidence int
}

// WebhookConfig controls outbound notification delivery.
type WebhookConfig struct {
	// Timeout is the per-delivery HTTP timeout. Default: 10s.
	Timeout time.Duration
	// MaxRetries is the number of delivery retries after the first attempt.
	// Default: 3.
	MaxRetries int
	// BackoffBase is the initial retry delay, doubled per attempt. Default: 1s.
	BackoffBase time.Duration
}

// CircuitBreakerConfig controls per-provider circuit breaker settings.
type CircuitBreakerConfig struct {
	// ErrorThreshold is the number of consecutive errors that trip the breaker.
	// Default: 5.
	ErrorThreshold int
	// TimeWindow is the rolling window over which errors are counted.
	// Default: 60s.
	TimeWindow time.Duration
	// HalfOpenTimeout is how long the breaker stays open before allowing a
	// single probe request. Default: 30s.
	HalfOpenTimeout time.Duration
}

// LocalMode reports whether durable storage is unconfigured.
func (c *Config) LocalMode() bool { return c.Redis.URL == "" }

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ENV", "production")

	v.SetDefault("RESOLVER_CACHE_TTL", "300s")
	v.SetDefault("RESOLVER_SWEEP_INTERVAL", "60s")

	v.SetDefault("ENFORCER_TIMEOUT", "60s")

	v.SetDefault("CONFIDENCE_WARN", 70)
	v.SetDefault("CONFIDENCE_BLOCK", 30)
	v.SetDefault("MIN_EVIDENCE", 1)

	v.SetDefault("WEBHOOK_TIMEOUT", "10s")
	v.SetDefault("WEBHOOK_MAX_RETRIES", 3)
	v.SetDefault("WEBHOOK_BACKOFF_BASE", "1s")

	v.SetDefault("CB_ERROR_THRESHOLD", 5)
	v.SetDefault("CB_TIME_WINDOW", "60s")
	v.SetDefault("CB_HALF_OPEN_TIMEOUT", "30s")

	v.SetDefault("BUDGET_USD", 0.0)
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),
		Env:      strings.ToLower(v.GetString("ENV")),

		AdminToken: v.GetString("ADMIN_TOKEN"),

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Resolver: ResolverConfig{
			CacheTTL:      v.GetDuration("RESOLVER_CACHE_TTL"),
			SweepInterval: v.GetDuration("RESOLVER_SWEEP_INTERVAL"),
		},

		Enforcer: EnforcerConfig{
			Timeout: v.GetDuration("ENFORCER_TIMEOUT"),
		},

		Policy: PolicyConfig{
			ConfidenceWarn:  v.GetInt("CONFIDENCE_WARN"),
			ConfidenceBlock: v.GetInt("CONFIDENCE_BLOCK"),
			MinEvidence:     v.GetInt("MIN_EVIDENCE"),
		},

		Webhook: WebhookConfig{
			Timeout:     v.GetDuration("WEBHOOK_TIMEOUT"),
			MaxRetries:  v.GetInt("WEBHOOK_MAX_RETRIES"),
			BackoffBase: v.GetDuration("WEBHOOK_BACKOFF_BASE"),
		},

		CircuitBreaker: CircuitBreakerConfig{
			ErrorThreshold:  v.GetInt("CB_ERROR_THRESHOLD"),
			TimeWindow:      v.GetDuration("CB_TIME_WINDOW"),
			HalfOpenTimeout: v.GetDuration("CB_HALF_OPEN_TIMEOUT"),
		},

		BudgetUSD:     v.GetFloat64("BUDGET_USD"),
		ClickHouseDSN: v.GetString("CLICKHOUSE_DSN"),
		CORSOrigins:   v.GetStringSlice("CORS_ORIGINS"),

		OpenAIKey:    v.GetString("OPENAI_API_KEY"),
		AnthropicKey: v.GetString("ANTHROPIC_API_KEY"),
		GeminiKey:    v.GetString("GOOGLE_API_KEY"),
		MistralKey:   v.GetString("MISTRAL_API_KEY"),
	}

	if raw := v.GetString("MASTER_KEY"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("config: MASTER_KEY is not valid hex: %w", err)
		}
		cfg.MasterKey = key
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	switch c.Env {
	case "development", "production":
	default:
		return fmt.Errorf(
			"config: invalid ENV %q; must be one of: development, production",
			c.Env,
		)
	}

	// Durable storage requires the full credential set. Local mode does not.
	if !c.LocalMode() {
		if c.AdminToken == "" {
			return fmt.Errorf("config: ADMIN_TOKEN is required when REDIS_URL is set")
		}
		if len(c.MasterKey) != 32 {
			return fmt.Errorf(
				"config: MASTER_KEY must be 64 hex characters (256 bits), got %d bytes",
				len(c.MasterKey),
			)
		}
	}

	if c.Policy.ConfidenceBlock < 0 || c.Policy.ConfidenceBlock > 100 {
		return fmt.Errorf("config: CONFIDENCE_BLOCK must be within 0..100, got %d", c.Policy.ConfidenceBlock)
	}
	if c.Policy.ConfidenceWarn < c.Policy.ConfidenceBlock || c.Policy.ConfidenceWarn > 100 {
		return fmt.Errorf(
			"config: CONFIDENCE_WARN must be within %d..100, got %d",
			c.Policy.ConfidenceBlock, c.Policy.ConfidenceWarn,
		)
	}

	if c.Webhook.MaxRetries < 0 {
		return fmt.Errorf("config: WEBHOOK_MAX_RETRIES must be ≥ 0, got %d", c.Webhook.MaxRetries)
	}

	if c.CircuitBreaker.ErrorThreshold < 1 {
		return fmt.Errorf("config: CB_ERROR_THRESHOLD must be ≥ 1, got %d", c.CircuitBreaker.ErrorThreshold)
	}
	if c.CircuitBreaker.TimeWindow <= 0 {
		return fmt.Errorf("config: CB_TIME_WINDOW must be a positive duration")
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
