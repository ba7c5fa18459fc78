package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jia-app/offhireservice/internal/rental/domain"
)

// Config holds refund policy and the timeout applied to each external call
type Config struct {
	PaymentMaxAge       time.Duration
	Currency            string
	GatewayTimeout      time.Duration
	NotificationTimeout time.Duration
	StoreTimeout        time.Duration
	LockTTL             time.Duration
	SettlementWindow    string
}

// DefaultConfig returns the default refund policy
func DefaultConfig() Config {
	return Config{
		PaymentMaxAge:       90 * 24 * time.Hour,
		Currency:            "usd",
		GatewayTimeout:      15 * time.Second,
		NotificationTimeout: 5 * time.Second,
		StoreTimeout:        5 * time.Second,
		LockTTL:             2 * time.Minute,
		SettlementWindow:    "5-10 business days",
	}
}

// Clock returns the current time
type Clock func() time.Time

// callGateway runs one gateway request under the gateway timeout. Errors
// that are not already classified become GatewayErrors; an expired
// deadline is transient.
func callGateway(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	var gatewayErr *domain.GatewayError
	if errors.As(err, &gatewayErr) {
		return err
	}
	return domain.NewGatewayError(op, false, err)
}

// withTimeout runs fn under a derived deadline
func withTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
