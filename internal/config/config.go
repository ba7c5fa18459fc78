package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the off-hire service
type Config struct {
	AppName      string             `mapstructure:"app_name"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Billing      BillingConfig      `mapstructure:"billing"`
	Notification NotificationConfig `mapstructure:"notification"`
	Refund       RefundConfig       `mapstructure:"refund"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Log          LogConfig          `mapstructure:"log"`
}

// HTTPConfig holds API server configuration
type HTTPConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Requests per RateWindow per caller; 0 disables limiting. Needs Redis.
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// PostgresConfig holds database configuration. An empty DSN selects the in-memory store.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig holds Redis configuration. An empty Addr selects the in-process lock.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds event publishing configuration
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// BillingConfig holds payment gateway configuration
type BillingConfig struct {
	Provider     string `mapstructure:"provider"`
	StripeSecret string `mapstructure:"stripe_secret"`
	Currency     string `mapstructure:"currency"`
	// JSON file of payments and subscriptions that seeds the mock provider
	MockFixtures string `mapstructure:"mock_fixtures"`
	// Consecutive transient failures before the gateway circuit opens
	BreakerMaxFailures int           `mapstructure:"breaker_max_failures"`
	BreakerCooldown    time.Duration `mapstructure:"breaker_cooldown"`
}

// NotificationConfig holds notification backend configuration
type NotificationConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	MaxRetries  int    `mapstructure:"max_retries"`
	LogCapacity int    `mapstructure:"log_capacity"`
}

// RefundConfig holds refund policy and per-call timeouts
type RefundConfig struct {
	PaymentMaxAge       time.Duration `mapstructure:"payment_max_age"`
	GatewayTimeout      time.Duration `mapstructure:"gateway_timeout"`
	NotificationTimeout time.Duration `mapstructure:"notification_timeout"`
	StoreTimeout        time.Duration `mapstructure:"store_timeout"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	SettlementWindow    string        `mapstructure:"settlement_window"`
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	PublicKeyPEM string `mapstructure:"public_key_pem"`
	Issuer       string `mapstructure:"issuer"`
}

// Enabled reports whether JWT authentication is configured
func (c AuthConfig) Enabled() bool {
	return strings.TrimSpace(c.PublicKeyPEM) != ""
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SamplingRatio  float64 `mapstructure:"sampling_ratio"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load loads configuration from file and environment variables.
// An empty configPath reads defaults and environment only.
func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "offhire-service")
	v.SetDefault("http.address", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.rate_limit", 60)
	v.SetDefault("http.rate_window", time.Minute)
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "rental.early_returned")
	v.SetDefault("billing.provider", "mock")
	v.SetDefault("billing.stripe_secret", "")
	v.SetDefault("billing.currency", "usd")
	v.SetDefault("billing.mock_fixtures", "")
	v.SetDefault("billing.breaker_max_failures", 5)
	v.SetDefault("billing.breaker_cooldown", 30*time.Second)
	v.SetDefault("notification.base_url", "")
	v.SetDefault("notification.max_retries", 2)
	v.SetDefault("notification.log_capacity", 100)
	v.SetDefault("refund.payment_max_age", 90*24*time.Hour)
	v.SetDefault("refund.gateway_timeout", 15*time.Second)
	v.SetDefault("refund.notification_timeout", 5*time.Second)
	v.SetDefault("refund.store_timeout", 5*time.Second)
	v.SetDefault("refund.lock_ttl", 2*time.Minute)
	v.SetDefault("refund.settlement_window", "5-10 business days")
	v.SetDefault("auth.public_key_pem", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.sampling_ratio", 1.0)
	v.SetDefault("log.level", "info")
}

// Validate checks the loaded configuration for values the service cannot run with
func (c *Config) Validate() error {
	switch c.Billing.Provider {
	case "stripe":
		if c.Billing.StripeSecret == "" {
			return errors.New("billing.stripe_secret is required when billing.provider is stripe")
		}
	case "mock":
	default:
		return fmt.Errorf("unsupported billing provider: %s", c.Billing.Provider)
	}
	if len(c.Billing.Currency) != 3 {
		return fmt.Errorf("billing.currency must be an ISO 4217 code, got %q", c.Billing.Currency)
	}
	if c.Refund.PaymentMaxAge <= 0 {
		return errors.New("refund.payment_max_age must be positive")
	}
	for name, d := range map[string]time.Duration{
		"refund.gateway_timeout":      c.Refund.GatewayTimeout,
		"refund.notification_timeout": c.Refund.NotificationTimeout,
		"refund.store_timeout":        c.Refund.StoreTimeout,
		"refund.lock_ttl":             c.Refund.LockTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	if c.Notification.LogCapacity <= 0 {
		return errors.New("notification.log_capacity must be positive")
	}
	if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
		return errors.New("tracing.sampling_ratio must be between 0 and 1")
	}
	return nil
}
