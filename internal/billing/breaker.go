package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jia-app/offhireservice/internal/metrics"
	"github.com/jia-app/offhireservice/internal/rental/domain"
)

// ErrCircuitOpen is returned while the gateway circuit is open
var ErrCircuitOpen = errors.New("payment gateway circuit is open")

// BreakerState represents the state of the gateway circuit
type BreakerState int

const (
	// BreakerClosed lets every call through
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown elapses
	BreakerOpen
	// BreakerHalfOpen lets a single probe through
	BreakerHalfOpen
)

// String returns a string representation of the state
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	// MaxFailures is the number of consecutive transient failures that open the circuit
	MaxFailures int
	// Cooldown is how long the circuit stays open before a probe is allowed
	Cooldown time.Duration
}

// DefaultBreakerConfig returns a default circuit breaker configuration
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
	}
}

// BreakerGateway stops calling a gateway that keeps failing transiently.
// Permanent failures such as a declined refund say nothing about gateway
// health and never trip the circuit.
type BreakerGateway struct {
	next   Gateway
	config BreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreakerGateway wraps next with a circuit breaker
func NewBreakerGateway(next Gateway, config BreakerConfig, logger *zap.Logger) *BreakerGateway {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &BreakerGateway{
		next:   next,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// State returns the current state of the circuit
func (b *BreakerGateway) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BreakerGateway) allow(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return domain.NewGatewayError(op, true, ErrCircuitOpen)
		}
		b.transition(BreakerHalfOpen)
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return domain.NewGatewayError(op, true, ErrCircuitOpen)
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *BreakerGateway) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if !tripsBreaker(err) {
		b.failures = 0
		if b.state == BreakerHalfOpen {
			b.transition(BreakerClosed)
		}
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.config.MaxFailures {
		b.openedAt = b.now()
		b.transition(BreakerOpen)
		b.logger.Error("Payment gateway circuit opened",
			zap.Int("consecutive_failures", b.failures),
			zap.Error(err))
	}
}

// transition must be called with mu held
func (b *BreakerGateway) transition(to BreakerState) {
	if b.state == to {
		return
	}
	b.logger.Info("Payment gateway circuit state changed",
		zap.String("from", b.state.String()),
		zap.String("to", to.String()))
	b.state = to
	metrics.RecordBreakerState(int(to))
}

// tripsBreaker reports whether err indicates an unhealthy gateway. Caller
// cancellation and permanent rejections do not.
func tripsBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var gatewayErr *domain.GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func execute[T any](b *BreakerGateway, op string, fn func() (T, error)) (T, error) {
	if err := b.allow(op); err != nil {
		var zero T
		return zero, err
	}
	out, err := fn()
	b.record(err)
	return out, err
}

// RetrievePayment implements Gateway
func (b *BreakerGateway) RetrievePayment(ctx context.Context, paymentID string) (*Payment, error) {
	return execute(b, OpRetrievePayment, func() (*Payment, error) {
		return b.next.RetrievePayment(ctx, paymentID)
	})
}

// RetrieveSubscription implements Gateway
func (b *BreakerGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return execute(b, OpRetrieveSubscription, func() (*Subscription, error) {
		return b.next.RetrieveSubscription(ctx, subscriptionID)
	})
}

// CreateRefund implements Gateway
func (b *BreakerGateway) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	return execute(b, OpCreateRefund, func() (*Refund, error) {
		return b.next.CreateRefund(ctx, req)
	})
}

// UpdateSubscription implements Gateway
func (b *BreakerGateway) UpdateSubscription(ctx context.Context, subscriptionID string, update SubscriptionUpdate) error {
	_, err := execute(b, OpUpdateSubscription, func() (struct{}, error) {
		return struct{}{}, b.next.UpdateSubscription(ctx, subscriptionID, update)
	})
	return err
}
