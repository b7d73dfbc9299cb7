// Package config loads orchestrator configuration via viper, the same
// explicit-BindEnv-per-key shape as the teacher's internal/config/config.go,
// generalized from a single on-chain settlement config to the orchestrator's
// marketplace/Stripe/Postgres/Redis/JWT surface.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Marketplace MarketplaceConfig
	Stripe      StripeConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Server      ServerConfig
	Usage       UsageConfig
	RateLimit   RateLimitConfig
	Cache       CacheConfig
	EventBus    EventBusConfig
}

type MarketplaceConfig struct {
	BaseURL      string  `mapstructure:"base_url"`
	APIKey       string  `mapstructure:"api_key"`
	DepositUSD   float64 `mapstructure:"deposit_usd"`
	PricingDenom string  `mapstructure:"pricing_denom"`
}

type StripeConfig struct {
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	SuccessURL    string `mapstructure:"success_url"`
	CancelURL     string `mapstructure:"cancel_url"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type JWTConfig struct {
	PublicKeyPEM string `mapstructure:"public_key_pem"`
	Issuer       string `mapstructure:"issuer"`
	Audience     string `mapstructure:"audience"`
}

type ServerConfig struct {
	Port               int    `mapstructure:"port"`
	LogLevel           string `mapstructure:"log_level"`
	ShutdownTimeoutSec int64  `mapstructure:"shutdown_timeout_sec"`
}

type UsageConfig struct {
	EncryptionKeyHex    string `mapstructure:"encryption_key_hex"`
	UpstreamLLMKey      string `mapstructure:"upstream_llm_key"`
	TickIntervalSec     int64  `mapstructure:"tick_interval_sec"`
	ZombieGraceWindowSec int64 `mapstructure:"zombie_grace_window_sec"`
}

// RateLimitConfig selects and sizes the rate limiter backend (SPEC_FULL.md
// §4.15): "memory" for a single instance, "redis" for a fleet.
type RateLimitConfig struct {
	Backend        string  `mapstructure:"backend"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
	Burst          int     `mapstructure:"burst"`
	WindowSec      int64   `mapstructure:"window_sec"`
}

// CacheConfig selects the Cache Façade implementation (spec.md §4.8, §9
// design note "Optional cache with no-op fallback"): an unset URL means the
// no-op cache is used. A set URL only selects the Redis-backed cache, which
// runs on the main Redis connection (REDIS_ADDR); Token is not read.
type CacheConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// EventBusConfig selects the event bus transport (SPEC_FULL.md §4.17).
type EventBusConfig struct {
	Backend        string `mapstructure:"backend"`
	BufferCapacity int    `mapstructure:"buffer_capacity"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout_sec", 15)
	v.SetDefault("marketplace.deposit_usd", 5.0)
	v.SetDefault("marketplace.pricing_denom", "uakt")
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("usage.tick_interval_sec", 3600)
	v.SetDefault("usage.zombie_grace_window_sec", 600)
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.requests_per_sec", 2.0)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("ratelimit.window_sec", 60)
	v.SetDefault("eventbus.backend", "inprocess")
	v.SetDefault("eventbus.buffer_capacity", 256)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"marketplace.base_url":       "MARKETPLACE_BASE_URL",
		"marketplace.api_key":        "MARKETPLACE_API_KEY",
		"marketplace.deposit_usd":    "MARKETPLACE_DEPOSIT_USD",
		"marketplace.pricing_denom":  "MARKETPLACE_PRICING_DENOM",
		"stripe.api_key":             "STRIPE_API_KEY",
		"stripe.webhook_secret":      "STRIPE_WEBHOOK_SECRET",
		"stripe.success_url":         "STRIPE_SUCCESS_URL",
		"stripe.cancel_url":          "STRIPE_CANCEL_URL",
		"postgres.url":               "DATABASE_URL",
		"redis.addr":                 "REDIS_ADDR",
		"redis.password":             "REDIS_PASSWORD",
		"jwt.public_key_pem":         "JWT_PUBLIC_KEY_PEM",
		"jwt.issuer":                 "JWT_ISSUER",
		"jwt.audience":               "JWT_AUDIENCE",
		"server.port":                "PORT",
		"server.log_level":           "LOG_LEVEL",
		"server.shutdown_timeout_sec": "SHUTDOWN_TIMEOUT_SEC",
		"usage.encryption_key_hex":   "CREDENTIAL_ENCRYPTION_KEY_HEX",
		"usage.upstream_llm_key":     "UPSTREAM_LLM_API_KEY",
		"usage.tick_interval_sec":    "USAGE_TICK_INTERVAL_SEC",
		"usage.zombie_grace_window_sec": "ZOMBIE_GRACE_WINDOW_SEC",
		"ratelimit.backend":          "RATE_LIMIT_BACKEND",
		"ratelimit.requests_per_sec": "RATE_LIMIT_REQUESTS_PER_SEC",
		"ratelimit.burst":            "RATE_LIMIT_BURST",
		"ratelimit.window_sec":       "RATE_LIMIT_WINDOW_SEC",
		"cache.url":                  "CACHE_URL",
		"cache.token":                "CACHE_TOKEN",
		"eventbus.backend":           "EVENT_BUS_BACKEND",
		"eventbus.buffer_capacity":   "EVENT_BUS_BUFFER_CAPACITY",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Marketplace.BaseURL, "MARKETPLACE_BASE_URL"},
		{c.Marketplace.APIKey, "MARKETPLACE_API_KEY"},
		{c.Stripe.APIKey, "STRIPE_API_KEY"},
		{c.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET"},
		{c.Postgres.URL, "DATABASE_URL"},
		{c.JWT.PublicKeyPEM, "JWT_PUBLIC_KEY_PEM"},
		{c.JWT.Issuer, "JWT_ISSUER"},
		{c.JWT.Audience, "JWT_AUDIENCE"},
		{c.Usage.EncryptionKeyHex, "CREDENTIAL_ENCRYPTION_KEY_HEX"},
		{c.Usage.UpstreamLLMKey, "UPSTREAM_LLM_API_KEY"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Server.Port == 0 {
		return fmt.Errorf("required config missing: PORT")
	}
	return nil
}
