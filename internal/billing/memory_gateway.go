package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// MemoryGateway is an in-memory Gateway for development and tests. It honours
// idempotency keys the same way the real gateway does.
type MemoryGateway struct {
	mu            sync.RWMutex
	payments      map[string]Payment
	subscriptions map[string]Subscription
	refunds       []Refund
	byIdempotency map[string]Refund
	calls         map[string]int
	currency      string

	// Fail, when set, is consulted before every call; a non-nil return fails the call.
	Fail func(op string) error
}

// NewMemoryGateway creates an empty in-memory gateway
func NewMemoryGateway(currency string) *MemoryGateway {
	return &MemoryGateway{
		payments:      make(map[string]Payment),
		subscriptions: make(map[string]Subscription),
		byIdempotency: make(map[string]Refund),
		calls:         make(map[string]int),
		currency:      currency,
	}
}

// PutPayment seeds a payment
func (g *MemoryGateway) PutPayment(p Payment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Currency == "" {
		p.Currency = g.currency
	}
	g.payments[p.ID] = p
}

// PutSubscription seeds a subscription
func (g *MemoryGateway) PutSubscription(s Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s.Currency == "" {
		s.Currency = g.currency
	}
	g.subscriptions[s.ID] = s
}

// Fixtures is the seed data format read by LoadFixtures
type Fixtures struct {
	Payments      []Payment      `json:"payments"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// LoadFixtures seeds payments and subscriptions from a JSON document
func (g *MemoryGateway) LoadFixtures(r io.Reader) error {
	var f Fixtures
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return fmt.Errorf("failed to decode gateway fixtures: %w", err)
	}
	for _, p := range f.Payments {
		if p.ID == "" {
			return fmt.Errorf("gateway fixture payment without id")
		}
		g.PutPayment(p)
	}
	for _, s := range f.Subscriptions {
		if s.ID == "" {
			return fmt.Errorf("gateway fixture subscription without id")
		}
		g.PutSubscription(s)
	}
	return nil
}

// Refunds returns every refund created so far
func (g *MemoryGateway) Refunds() []Refund {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Refund, len(g.refunds))
	copy(out, g.refunds)
	return out
}

// Subscription returns the stored state of a subscription
func (g *MemoryGateway) Subscription(id string) (Subscription, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.subscriptions[id]
	return s, ok
}

// Calls returns how many times op was invoked, including failed attempts
func (g *MemoryGateway) Calls(op string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.calls[op]
}

func (g *MemoryGateway) begin(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	g.calls[op]++
	fail := g.Fail
	g.mu.Unlock()
	if fail == nil {
		return nil
	}
	return fail(op)
}

// RetrievePayment implements Gateway
func (g *MemoryGateway) RetrievePayment(ctx context.Context, paymentID string) (*Payment, error) {
	if err := g.begin(ctx, OpRetrievePayment); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %s not found", paymentID)
	}
	return &p, nil
}

// RetrieveSubscription implements Gateway
func (g *MemoryGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if err := g.begin(ctx, OpRetrieveSubscription); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", subscriptionID)
	}
	s.Metadata = maps.Clone(s.Metadata)
	return &s, nil
}

// CreateRefund implements Gateway
func (g *MemoryGateway) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if err := g.begin(ctx, OpCreateRefund); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if req.IdempotencyKey != "" {
		if existing, ok := g.byIdempotency[req.IdempotencyKey]; ok {
			return &existing, nil
		}
	}

	currency := g.currency
	if p, ok := g.payments[req.PaymentID]; ok {
		currency = p.Currency
	}
	for _, s := range g.subscriptions {
		if s.LatestPaymentID == req.PaymentID {
			currency = s.Currency
		}
	}

	refund := Refund{
		ID:        "re_" + uuid.New().String()[:24],
		PaymentID: req.PaymentID,
		Amount:    req.AmountMinorUnits,
		Currency:  currency,
		Status:    "succeeded",
	}
	g.refunds = append(g.refunds, refund)
	if req.IdempotencyKey != "" {
		g.byIdempotency[req.IdempotencyKey] = refund
	}
	return &refund, nil
}

// UpdateSubscription implements Gateway
func (g *MemoryGateway) UpdateSubscription(ctx context.Context, subscriptionID string, update SubscriptionUpdate) error {
	if err := g.begin(ctx, OpUpdateSubscription); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.subscriptions[subscriptionID]
	if !ok {
		return fmt.Errorf("subscription %s not found", subscriptionID)
	}
	s.CancelAtPeriodEnd = update.CancelAtPeriodEnd
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	maps.Copy(s.Metadata, update.Metadata)
	g.subscriptions[subscriptionID] = s
	return nil
}
