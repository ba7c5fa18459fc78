package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jia-app/offhireservice/internal/log"
)

// RateLimiter defines the interface for rate limiting
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config holds rate limiting configuration
type Config struct {
	// Requests per window per caller
	Limit  int
	Window time.Duration
}

// DefaultConfig returns a default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		Limit:  60,
		Window: time.Minute,
	}
}

// RedisRateLimiter is a fixed-window counter shared by every replica
type RedisRateLimiter struct {
	redis  redis.Cmdable
	config Config
	logger *zap.Logger
}

// NewRedisRateLimiter creates a new Redis-based rate limiter
func NewRedisRateLimiter(client redis.Cmdable, config Config, logger *zap.Logger) *RedisRateLimiter {
	if config.Limit <= 0 {
		config.Limit = DefaultConfig().Limit
	}
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	return &RedisRateLimiter{
		redis:  client,
		config: config,
		logger: logger,
	}
}

// Allow counts one request against key and reports whether it is within the limit
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		r.logger.Error("Failed to increment rate limit counter",
			zap.Error(err),
			zap.String("key", key))
		return false, fmt.Errorf("rate limit error: %w", err)
	}

	// The first request opens the window
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.config.Window).Err(); err != nil {
			r.logger.Error("Failed to set rate limit expiration",
				zap.Error(err),
				zap.String("key", key))
		}
	}

	return count <= int64(r.config.Limit), nil
}

// RetryAfter is the longest a rejected caller has to wait
func (r *RedisRateLimiter) RetryAfter() time.Duration {
	return r.config.Window
}

// Middleware limits requests per operator, or per client address when the
// API is unauthenticated. Limiter failures let the request through.
func Middleware(limiter RateLimiter, retryAfter time.Duration) func(http.Handler) http.Handler {
	retrySeconds := strconv.Itoa(int(retryAfter.Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := "ratelimit:" + callerKey(r)

			allowed, err := limiter.Allow(ctx, key)
			if err != nil {
				log.Warn(ctx, "Rate limit check failed, allowing request",
					zap.Error(err),
					zap.String("key", key))
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				log.Warn(ctx, "Rate limit exceeded", zap.String("key", key))
				w.Header().Set("Retry-After", retrySeconds)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if operator := log.Operator(r.Context()); operator != "" {
		return "operator:" + operator
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
