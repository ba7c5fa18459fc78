package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jia-app/offhireservice/internal/billing"
	"github.com/jia-app/offhireservice/internal/billing/stripebp"
	"github.com/jia-app/offhireservice/internal/config"
	"github.com/jia-app/offhireservice/internal/events"
	"github.com/jia-app/offhireservice/internal/lock"
	"github.com/jia-app/offhireservice/internal/log"
	"github.com/jia-app/offhireservice/internal/notification"
	"github.com/jia-app/offhireservice/internal/ratelimit"
	"github.com/jia-app/offhireservice/internal/repository"
	"github.com/jia-app/offhireservice/internal/repository/memory"
	"github.com/jia-app/offhireservice/internal/repository/postgres"
	"github.com/jia-app/offhireservice/internal/rental/usecase"
)

// NewGateway creates a payment gateway based on configuration
func NewGateway(ctx context.Context, cfg *config.Config) (billing.Gateway, error) {
	log.Info(ctx, "Initializing payment gateway",
		zap.String("provider", cfg.Billing.Provider))

	switch cfg.Billing.Provider {
	case "stripe":
		if cfg.Billing.StripeSecret == "" {
			return nil, fmt.Errorf("stripe secret key is required")
		}
		log.Info(ctx, "Stripe payment gateway initialized",
			zap.String("secret_key_prefix", getKeyPrefix(cfg.Billing.StripeSecret)))
		adapter := stripebp.NewAdapter(cfg.Billing.StripeSecret, log.L(ctx))
		breaker := billing.BreakerConfig{
			MaxFailures: cfg.Billing.BreakerMaxFailures,
			Cooldown:    cfg.Billing.BreakerCooldown,
		}
		return billing.NewBreakerGateway(adapter, breaker, log.L(ctx)), nil
	case "mock":
		log.Warn(ctx, "Using in-memory payment gateway; no money will move")
		gateway := billing.NewMemoryGateway(cfg.Billing.Currency)
		if cfg.Billing.MockFixtures == "" {
			log.Warn(ctx, "No mock gateway fixtures configured, every payment lookup will fail")
			return gateway, nil
		}
		f, err := os.Open(cfg.Billing.MockFixtures)
		if err != nil {
			return nil, fmt.Errorf("failed to open mock gateway fixtures: %w", err)
		}
		defer f.Close()
		if err := gateway.LoadFixtures(f); err != nil {
			return nil, err
		}
		log.Info(ctx, "Mock gateway seeded", zap.String("fixtures", cfg.Billing.MockFixtures))
		return gateway, nil
	default:
		return nil, fmt.Errorf("unsupported billing provider: %s", cfg.Billing.Provider)
	}
}

// getKeyPrefix returns the first 8 characters of a key for logging
func getKeyPrefix(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}

// NewStore opens the Postgres store, or an in-memory one when no DSN is configured
func NewStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.Postgres.DSN == "" {
		log.Warn(ctx, "No postgres DSN configured, using in-memory store")
		return memory.NewStore(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := postgres.NewStore(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewRedisClient connects to Redis. It returns nil when no address is configured.
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewLocker uses Redis for the per-rental lock. Without a Redis client the
// service continues with an in-process lock.
func NewLocker(ctx context.Context, client *redis.Client) lock.Locker {
	if client == nil {
		log.Warn(ctx, "Redis unavailable, using in-process rental lock")
		return lock.NewMemoryLocker()
	}
	return lock.NewRedisLockerWithClient(client)
}

// NewRateLimit returns the API rate limiting middleware, or nil when Redis
// is unavailable or limiting is disabled.
func NewRateLimit(ctx context.Context, cfg *config.Config, client *redis.Client) func(http.Handler) http.Handler {
	if client == nil || cfg.HTTP.RateLimit <= 0 {
		return nil
	}
	limiter := ratelimit.NewRedisRateLimiter(client, ratelimit.Config{
		Limit:  cfg.HTTP.RateLimit,
		Window: cfg.HTTP.RateWindow,
	}, log.L(ctx))
	return ratelimit.Middleware(limiter, limiter.RetryAfter())
}

// NewPublisher creates the Kafka event publisher when enabled
func NewPublisher(ctx context.Context, cfg *config.Config) (events.Publisher, error) {
	if !cfg.Kafka.Enabled {
		return events.NoopPublisher{}, nil
	}

	publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.AppName, log.L(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize kafka publisher: %w", err)
	}
	log.Info(ctx, "Kafka publisher initialized",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic))
	return publisher, nil
}

// NewNotificationLog wraps the configured sender in the bounded notification log
func NewNotificationLog(ctx context.Context, cfg *config.Config) *notification.Log {
	var sender notification.Sender = notification.NoopSender{}
	if cfg.Notification.BaseURL != "" {
		sender = notification.NewHTTPSender(cfg.Notification.BaseURL, cfg.Notification.MaxRetries, log.L(ctx))
	} else {
		log.Warn(ctx, "No notification backend configured, notifications are only logged")
	}
	return notification.NewLog(sender, cfg.Notification.LogCapacity)
}

// UsecaseConfig maps the refund section onto the use case configuration
func UsecaseConfig(cfg *config.Config) usecase.Config {
	uc := usecase.DefaultConfig()
	uc.Currency = cfg.Billing.Currency
	uc.PaymentMaxAge = cfg.Refund.PaymentMaxAge
	uc.GatewayTimeout = cfg.Refund.GatewayTimeout
	uc.NotificationTimeout = cfg.Refund.NotificationTimeout
	uc.StoreTimeout = cfg.Refund.StoreTimeout
	uc.LockTTL = cfg.Refund.LockTTL
	if cfg.Refund.SettlementWindow != "" {
		uc.SettlementWindow = cfg.Refund.SettlementWindow
	}
	return uc
}
