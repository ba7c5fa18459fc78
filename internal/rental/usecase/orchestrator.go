package usecase

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/jia-app/offhireservice/internal/billing"
	"github.com/jia-app/offhireservice/internal/log"
	"github.com/jia-app/offhireservice/internal/metrics"
	"github.com/jia-app/offhireservice/internal/notification"
	"github.com/jia-app/offhireservice/internal/rental/domain"
)

// RefundReasonEarlyReturn tags gateway-side records created by this flow
const RefundReasonEarlyReturn = "early_return"

// RefundOrchestrator commits a refund at the gateway, stops future
// subscription charges and notifies the customer and the operator.
type RefundOrchestrator struct {
	validator  *EligibilityValidator
	calculator *RefundCalculator
	gateway    billing.Gateway
	notifier   notification.Sender
	config     Config
}

// NewRefundOrchestrator creates a new refund orchestrator
func NewRefundOrchestrator(
	validator *EligibilityValidator,
	calculator *RefundCalculator,
	gateway billing.Gateway,
	notifier notification.Sender,
	config Config,
) *RefundOrchestrator {
	if notifier == nil {
		notifier = notification.NoopSender{}
	}
	return &RefundOrchestrator{
		validator:  validator,
		calculator: calculator,
		gateway:    gateway,
		notifier:   notifier,
		config:     config,
	}
}

// ProcessOption lets the caller hand over results it already computed
type ProcessOption func(*processOptions)

type processOptions struct {
	decision *domain.EligibilityDecision
	quote    *domain.Quote
}

// WithEligibility reuses an eligibility decision instead of re-checking
func WithEligibility(decision domain.EligibilityDecision) ProcessOption {
	return func(o *processOptions) {
		o.decision = &decision
	}
}

// WithQuote reuses a refund quote instead of recalculating it
func WithQuote(quote domain.Quote) ProcessOption {
	return func(o *processOptions) {
		o.quote = &quote
	}
}

// IdempotencyKey identifies one early-return event of a rental at the gateway
func IdempotencyKey(s domain.RentalSnapshot) string {
	return fmt.Sprintf("early_return:%s:%s", s.RentalID, s.ActualEndDate)
}

// ProcessRefund issues the refund owed for s and returns its receipt, or
// nil when nothing is owed. Once the refund exists at the gateway, a later
// failure is returned as a *domain.RefundCommittedError.
func (o *RefundOrchestrator) ProcessRefund(ctx context.Context, s domain.RentalSnapshot, opts ...ProcessOption) (*domain.RefundReceipt, error) {
	var options processOptions
	for _, opt := range opts {
		opt(&options)
	}

	if options.decision == nil || !options.decision.Allowed {
		decision, err := o.validator.Check(ctx, s)
		if err != nil {
			return nil, err
		}
		options.decision = &decision
	}

	if options.quote == nil {
		quote, err := o.calculator.Calculate(ctx, s)
		if err != nil {
			return nil, err
		}
		options.quote = &quote
	}
	quote := *options.quote

	if quote.IsZero() {
		return nil, nil
	}
	if quote.RefundTargetID == "" {
		return nil, domain.NewNoPaymentReferenceError()
	}

	receipt, err := o.createRefund(ctx, s, quote)
	if err != nil {
		return nil, err
	}
	// Money has moved; the caller going away must not abort the follow-up steps.
	ctx = context.WithoutCancel(ctx)

	if s.IsSubscriptionBilled() {
		if err := o.cancelAtPeriodEnd(ctx, s); err != nil {
			metrics.RecordRefundCommittedWithFailure()
			log.Error(ctx, "Refund committed but subscription cancellation failed",
				zap.String("refund_id", receipt.ExternalRefundID),
				zap.String("subscription_id", s.SubscriptionReferenceID),
				zap.Error(err))
			return nil, &domain.RefundCommittedError{Receipt: *receipt, Cause: err}
		}
	}

	o.notify(ctx, s, quote)

	return receipt, nil
}

func (o *RefundOrchestrator) createRefund(ctx context.Context, s domain.RentalSnapshot, quote domain.Quote) (*domain.RefundReceipt, error) {
	req := billing.RefundRequest{
		PaymentID:        quote.RefundTargetID,
		AmountMinorUnits: quote.MinorUnits(),
		Reason:           billing.RefundReasonRequestedByCustomer,
		IdempotencyKey:   IdempotencyKey(s),
		Metadata: map[string]string{
			"rental_id":        s.RentalID,
			"customer_id":      s.CustomerID,
			"reason":           RefundReasonEarlyReturn,
			"planned_end_date": s.PlannedEndDate.String(),
			"actual_end_date":  s.ActualEndDate.String(),
			"unused_days":      strconv.Itoa(quote.UnusedDays),
		},
	}

	log.Info(ctx, "Creating refund",
		zap.String("payment_id", req.PaymentID),
		zap.Int64("amount_minor_units", req.AmountMinorUnits),
		zap.String("idempotency_key", req.IdempotencyKey))

	var refund *billing.Refund
	err := callGateway(ctx, o.config.GatewayTimeout, billing.OpCreateRefund, func(ctx context.Context) error {
		var err error
		refund, err = o.gateway.CreateRefund(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	currency := refund.Currency
	if currency == "" {
		currency = quote.Currency
	}
	metrics.RecordRefundIssued(string(quote.BillingModel), currency, quote.Amount.InexactFloat64())

	return &domain.RefundReceipt{
		ExternalRefundID: refund.ID,
		Amount:           domain.FromMinorUnits(refund.Amount),
		Currency:         currency,
	}, nil
}

// cancelAtPeriodEnd stops future charges of a still-active subscription.
// The current period is left to run out; nothing is refunded here.
func (o *RefundOrchestrator) cancelAtPeriodEnd(ctx context.Context, s domain.RentalSnapshot) error {
	var sub *billing.Subscription
	err := callGateway(ctx, o.config.GatewayTimeout, billing.OpRetrieveSubscription, func(ctx context.Context) error {
		var err error
		sub, err = o.gateway.RetrieveSubscription(ctx, s.SubscriptionReferenceID)
		return err
	})
	if err != nil {
		return err
	}
	if !sub.IsActive() || sub.CancelAtPeriodEnd {
		log.Info(ctx, "Subscription not active, skipping cancellation",
			zap.String("subscription_id", sub.ID),
			zap.String("status", string(sub.Status)),
			zap.Bool("cancel_at_period_end", sub.CancelAtPeriodEnd))
		return nil
	}

	update := billing.SubscriptionUpdate{
		CancelAtPeriodEnd: true,
		Metadata: map[string]string{
			"cancelled_reason": RefundReasonEarlyReturn,
			"return_date":      s.ActualEndDate.String(),
		},
	}
	return callGateway(ctx, o.config.GatewayTimeout, billing.OpUpdateSubscription, func(ctx context.Context) error {
		return o.gateway.UpdateSubscription(ctx, s.SubscriptionReferenceID, update)
	})
}

// notify sends the customer and operator notifications. Failures are
// logged and counted, never returned.
func (o *RefundOrchestrator) notify(ctx context.Context, s domain.RentalSnapshot, quote domain.Quote) {
	amount := quote.Amount.StringFixed(domain.MinorUnitPlaces)
	unused := strconv.Itoa(quote.UnusedDays)

	messages := []notification.Notification{
		{
			Type:  notification.TypeRefundProcessed,
			Title: "Refund Processed",
			Message: fmt.Sprintf("A refund of $%s has been processed for your early return. "+
				"This covers %d unused rental days. "+
				"The refund should appear on your payment method within %s.",
				amount, quote.UnusedDays, o.config.SettlementWindow),
			Metadata: map[string]string{
				"rental_id":     s.RentalID,
				"refund_amount": amount,
				"unused_days":   unused,
			},
		},
		{
			Type:  notification.TypeRefundIssued,
			Title: "Refund Issued",
			Message: fmt.Sprintf("A refund of $%s has been issued for rental %s. "+
				"Early return processed for %d unused days.",
				amount, s.RentalID, quote.UnusedDays),
			Metadata: map[string]string{
				"rental_id":     s.RentalID,
				"customer_id":   s.CustomerID,
				"refund_amount": amount,
				"unused_days":   unused,
			},
		},
	}

	for _, n := range messages {
		err := withTimeout(ctx, o.config.NotificationTimeout, func(ctx context.Context) error {
			return o.notifier.Send(ctx, n)
		})
		metrics.RecordNotification(n.Type, err == nil)
		if err != nil {
			log.Warn(ctx, "Failed to send notification",
				zap.String("type", n.Type),
				zap.Error(err))
		}
	}
}
