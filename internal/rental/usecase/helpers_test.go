package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jia-app/offhireservice/internal/billing"
	"github.com/jia-app/offhireservice/internal/lock"
	"github.com/jia-app/offhireservice/internal/notification"
	"github.com/jia-app/offhireservice/internal/rental/domain"
	"github.com/jia-app/offhireservice/internal/repository"
	"github.com/jia-app/offhireservice/internal/repository/memory"
)

var testNow = time.Date(2024, 1, 22, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// upfrontSnapshot is the worked upfront example: 10 unused days at 10/day,
// 100 of non-refundable fees against 300 paid.
func upfrontSnapshot() domain.RentalSnapshot {
	return domain.RentalSnapshot{
		RentalID:           "rental_upfront",
		CustomerID:         "cus_1",
		StartDate:          domain.MustParseDate("2024-01-01"),
		PlannedEndDate:     domain.MustParseDate("2024-01-31"),
		ActualEndDate:      domain.MustParseDate("2024-01-21"),
		DailyRate:          dec("10"),
		PaidAmount:         dec("300"),
		MinHirePeriod:      5,
		PaymentReferenceID: "pi_upfront",
		Fees: map[string]domain.Fee{
			"delivery":   {Amount: dec("50"), Refundable: false},
			"collection": {Amount: dec("50"), Refundable: false},
		},
	}
}

// subscriptionSnapshot is billed by sub_1, whose period runs 2024-01-01..2024-01-31 at 300.00.
func subscriptionSnapshot() domain.RentalSnapshot {
	s := upfrontSnapshot()
	s.RentalID = "rental_sub"
	s.PaymentReferenceID = ""
	s.SubscriptionReferenceID = "sub_1"
	s.PlannedEndDate = domain.MustParseDate("2024-03-31")
	s.PaidAmount = dec("300")
	s.Fees = nil
	return s
}

func newGateway() *billing.MemoryGateway {
	g := billing.NewMemoryGateway("usd")
	g.PutPayment(billing.Payment{ID: "pi_upfront", Amount: 30000, Status: "succeeded", CreatedAt: testNow.Add(-21 * 24 * time.Hour)})
	g.PutPayment(billing.Payment{ID: "pi_sub", Amount: 30000, Status: "succeeded", CreatedAt: testNow.Add(-21 * 24 * time.Hour)})
	g.PutSubscription(billing.Subscription{
		ID:                 "sub_1",
		Status:             billing.SubscriptionStatusActive,
		CurrentPeriodStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		UnitAmount:         30000,
		LatestPaymentID:    "pi_sub",
	})
	return g
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.EarlyReturnResult
	err    error
}

func (p *recordingPublisher) PublishEarlyReturned(_ context.Context, _ domain.RentalSnapshot, result domain.EarlyReturnResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, result)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type failingSender struct{}

func (failingSender) Send(context.Context, notification.Notification) error {
	return errors.New("notification backend unavailable")
}

// flakyStore fails MarkReturned while markErr is set
type flakyStore struct {
	*memory.Store
	markErr error
}

func (s *flakyStore) Rentals() repository.RentalStatusStore {
	return flakyRentals{RentalStatusStore: s.Store.Rentals(), err: s.markErr}
}

type flakyRentals struct {
	repository.RentalStatusStore
	err error
}

func (r flakyRentals) MarkReturned(ctx context.Context, rentalID string) error {
	if r.err != nil {
		return r.err
	}
	return r.RentalStatusStore.MarkReturned(ctx, rentalID)
}

type harness struct {
	gateway       *billing.MemoryGateway
	store         *flakyStore
	locker        *lock.MemoryLocker
	notifications *notification.Log
	publisher     *recordingPublisher
	validator     *EligibilityValidator
	calculator    *RefundCalculator
	orchestrator  *RefundOrchestrator
	coordinator   *EarlyReturnCoordinator
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	config   Config
	sender   notification.Sender
	gateway  billing.Gateway
	markErr  error
	pubError error
}

func withSender(s notification.Sender) harnessOption {
	return func(c *harnessConfig) { c.sender = s }
}

func withGateway(g billing.Gateway) harnessOption {
	return func(c *harnessConfig) { c.gateway = g }
}

func withMarkReturnedError(err error) harnessOption {
	return func(c *harnessConfig) { c.markErr = err }
}

func withPublishError(err error) harnessOption {
	return func(c *harnessConfig) { c.pubError = err }
}

func withConfig(cfg Config) harnessOption {
	return func(c *harnessConfig) { c.config = cfg }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{config: DefaultConfig(), sender: notification.NoopSender{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		gateway:   newGateway(),
		store:     &flakyStore{Store: memory.NewStore(), markErr: cfg.markErr},
		locker:    lock.NewMemoryLocker(),
		publisher: &recordingPublisher{err: cfg.pubError},
	}
	gateway := billing.Gateway(h.gateway)
	if cfg.gateway != nil {
		gateway = cfg.gateway
	}
	h.notifications = notification.NewLog(cfg.sender, notification.DefaultLogCapacity)
	h.validator = NewEligibilityValidator(gateway, cfg.config, fixedClock)
	h.calculator = NewRefundCalculator(gateway, cfg.config)
	h.orchestrator = NewRefundOrchestrator(h.validator, h.calculator, gateway, h.notifications, cfg.config)
	h.coordinator = NewEarlyReturnCoordinator(h.validator, h.calculator, h.orchestrator, h.store, h.locker, h.publisher, cfg.config, fixedClock)
	return h
}

// slowGateway blocks payment lookups until the caller's deadline expires
type slowGateway struct {
	*billing.MemoryGateway
}

func (g slowGateway) RetrievePayment(ctx context.Context, id string) (*billing.Payment, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// cancellingGateway cancels the caller's context as soon as a refund is created
type cancellingGateway struct {
	*billing.MemoryGateway
	cancel context.CancelFunc
}

func (g cancellingGateway) CreateRefund(ctx context.Context, req billing.RefundRequest) (*billing.Refund, error) {
	refund, err := g.MemoryGateway.CreateRefund(ctx, req)
	g.cancel()
	return refund, err
}
