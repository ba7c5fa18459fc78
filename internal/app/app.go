package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jia-app/offhireservice/internal/api"
	"github.com/jia-app/offhireservice/internal/auth"
	"github.com/jia-app/offhireservice/internal/config"
	"github.com/jia-app/offhireservice/internal/events"
	"github.com/jia-app/offhireservice/internal/lock"
	"github.com/jia-app/offhireservice/internal/log"
	"github.com/jia-app/offhireservice/internal/metrics"
	"github.com/jia-app/offhireservice/internal/notification"
	"github.com/jia-app/offhireservice/internal/rental/usecase"
	"github.com/jia-app/offhireservice/internal/repository"
	"github.com/jia-app/offhireservice/internal/tracing"
)

// App represents the application
type App struct {
	config        *config.Config
	logger        *zap.Logger
	store         repository.Store
	redisClient   *redis.Client
	locker        lock.Locker
	publisher     events.Publisher
	notifications *notification.Log
	coordinator   *usecase.EarlyReturnCoordinator
	apiServer     *api.Server
	metricsServer *metrics.Server
	stopTracing   func()
}

// New creates a new application instance
func New(cfg *config.Config) (*App, error) {
	// Initialize logger
	if err := log.Init(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	ctx := context.Background()
	logger := log.L(ctx)

	logger.Info("Initializing off-hire service application",
		zap.String("app_name", cfg.AppName),
		zap.String("http_address", cfg.HTTP.Address),
		zap.String("billing_provider", cfg.Billing.Provider))

	a := &App{config: cfg, logger: logger, stopTracing: func() {}}
	if cfg.Tracing.Enabled {
		tc := tracing.DefaultConfig()
		tc.ServiceName = cfg.AppName
		tc.JaegerEndpoint = cfg.Tracing.JaegerEndpoint
		tc.SamplingRatio = cfg.Tracing.SamplingRatio
		stop, err := tracing.Init(tc, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.stopTracing = stop
	}

	gateway, err := NewGateway(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.store, err = NewStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.redisClient, err = NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn("Redis initialization failed, continuing without Redis",
			zap.Error(err),
			zap.String("redis_addr", cfg.Redis.Addr))
	}
	a.locker = NewLocker(ctx, a.redisClient)
	a.publisher, err = NewPublisher(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.notifications = NewNotificationLog(ctx, cfg)

	uc := UsecaseConfig(cfg)
	validator := usecase.NewEligibilityValidator(gateway, uc, nil)
	calculator := usecase.NewRefundCalculator(gateway, uc)
	orchestrator := usecase.NewRefundOrchestrator(validator, calculator, gateway, a.notifications, uc)
	a.coordinator = usecase.NewEarlyReturnCoordinator(
		validator,
		calculator,
		orchestrator,
		a.store,
		a.locker,
		a.publisher,
		uc,
		nil,
	)

	var tokens api.TokenValidator
	if cfg.Auth.Enabled() {
		jwtValidator, err := auth.NewJWTValidator(cfg.Auth.PublicKeyPEM, cfg.Auth.Issuer)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize authentication: %w", err)
		}
		tokens = jwtValidator
	} else {
		logger.Warn("No auth public key configured, API is unauthenticated")
	}

	var middlewares []func(http.Handler) http.Handler
	if limit := NewRateLimit(ctx, cfg, a.redisClient); limit != nil {
		middlewares = append(middlewares, limit)
	}
	router := api.NewRouter(api.NewHandler(a.coordinator, a.notifications), tokens, middlewares...)
	a.apiServer = api.NewServer(cfg.HTTP.Address, router, cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout, logger)
	a.metricsServer = metrics.NewServer(cfg.Metrics.Address, logger)

	return a, nil
}

// Coordinator exposes the early return use case for batch tools
func (a *App) Coordinator() *usecase.EarlyReturnCoordinator {
	return a.coordinator
}

// Run starts the API and metrics servers and blocks until ctx is cancelled
// or either server fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting off-hire service application")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.apiServer.Start(ctx) })
	g.Go(func() error { return a.metricsServer.Start(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.HTTP.WriteTimeout)
		defer cancel()
		return errors.Join(a.apiServer.Shutdown(shutdownCtx), a.metricsServer.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown releases every resource held by the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down off-hire service application")
	a.close()
	a.logger.Info("Application shutdown complete")
	return nil
}

func (a *App) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("Failed to close event publisher", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("Failed to close store", zap.Error(err))
		}
	}
	a.stopTracing()
	a.logger.Sync()
}
