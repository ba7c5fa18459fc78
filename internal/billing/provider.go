package billing

import (
	"context"
	"time"
)

// Gateway is the payment gateway collaborator used by the early return flow.
type Gateway interface {
	// RetrievePayment fetches a one-time payment by ID
	RetrievePayment(ctx context.Context, paymentID string) (*Payment, error)

	// RetrieveSubscription fetches a subscription with its current billing period
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CreateRefund refunds part or all of a payment
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)

	// UpdateSubscription changes cancellation settings and metadata of a subscription
	UpdateSubscription(ctx context.Context, subscriptionID string, update SubscriptionUpdate) error
}

// Payment represents a one-time payment at the gateway
type Payment struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"` // Amount in cents
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription represents a recurring billing agreement at the gateway
type Subscription struct {
	ID                 string             `json:"id"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	UnitAmount         int64              `json:"unit_amount"` // Per-period price in cents
	Currency           string             `json:"currency"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	// LatestPaymentID is the payment that settled the current period's invoice
	LatestPaymentID string            `json:"latest_payment_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// IsActive reports whether the subscription will keep charging
func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// RefundRequest represents a request to refund a payment
type RefundRequest struct {
	PaymentID        string            `json:"payment_id"`
	AmountMinorUnits int64             `json:"amount"`
	Reason           string            `json:"reason"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	// IdempotencyKey makes repeated requests return the original refund
	IdempotencyKey string `json:"-"`
}

// Refund represents a refund created at the gateway
type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"` // Amount in cents
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

// SubscriptionUpdate represents a change to a subscription
type SubscriptionUpdate struct {
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
)

// RefundReasonRequestedByCustomer is the gateway refund reason for early returns
const RefundReasonRequestedByCustomer = "requested_by_customer"

// Gateway operation names, used for logging, metrics and error wrapping
const (
	OpRetrievePayment      = "retrieve_payment"
	OpRetrieveSubscription = "retrieve_subscription"
	OpCreateRefund         = "create_refund"
	OpUpdateSubscription   = "update_subscription"
)
