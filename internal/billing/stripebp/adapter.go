package stripebp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jia-app/offhireservice/internal/billing"
	"github.com/jia-app/offhireservice/internal/metrics"
	"github.com/jia-app/offhireservice/internal/rental/domain"
	"github.com/jia-app/offhireservice/internal/tracing"
)

// Adapter implements billing.Gateway on top of the Stripe API
type Adapter struct {
	api    *client.API
	logger *zap.Logger
}

// Option configures an Adapter
type Option func(*adapterOptions)

type adapterOptions struct {
	backends *stripe.Backends
}

// WithBackends overrides the Stripe backends, e.g. to point at a test server
func WithBackends(backends *stripe.Backends) Option {
	return func(o *adapterOptions) {
		o.backends = backends
	}
}

// NewAdapter creates a new Stripe gateway adapter
func NewAdapter(secretKey string, logger *zap.Logger, opts ...Option) *Adapter {
	var o adapterOptions
	for _, opt := range opts {
		opt(&o)
	}

	return &Adapter{
		api:    client.New(secretKey, o.backends),
		logger: logger,
	}
}

var _ billing.Gateway = (*Adapter)(nil)

// RetrievePayment fetches a payment intent
func (a *Adapter) RetrievePayment(ctx context.Context, paymentID string) (*billing.Payment, error) {
	var payment *billing.Payment
	err := a.call(ctx, billing.OpRetrievePayment, paymentID, func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx

		pi, err := a.api.PaymentIntents.Get(paymentID, params)
		if err != nil {
			return err
		}

		payment = &billing.Payment{
			ID:        pi.ID,
			Amount:    pi.Amount,
			Currency:  string(pi.Currency),
			Status:    string(pi.Status),
			CreatedAt: time.Unix(pi.Created, 0).UTC(),
		}
		return nil
	})
	return payment, err
}

// RetrieveSubscription fetches a subscription with its price and the payment
// intent of its latest invoice
func (a *Adapter) RetrieveSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	var subscription *billing.Subscription
	err := a.call(ctx, billing.OpRetrieveSubscription, subscriptionID, func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		params.AddExpand("latest_invoice.payment_intent")

		sub, err := a.api.Subscriptions.Get(subscriptionID, params)
		if err != nil {
			return err
		}

		subscription = toSubscription(sub)
		return nil
	})
	return subscription, err
}

func toSubscription(sub *stripe.Subscription) *billing.Subscription {
	s := &billing.Subscription{
		ID:                 sub.ID,
		Status:             billing.SubscriptionStatus(sub.Status),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		Currency:           string(sub.Currency),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		Metadata:           sub.Metadata,
	}

	// Rentals are billed with a single recurring price per subscription
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		price := sub.Items.Data[0].Price
		s.UnitAmount = price.UnitAmount
		if price.Currency != "" {
			s.Currency = string(price.Currency)
		}
	}

	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		s.LatestPaymentID = sub.LatestInvoice.PaymentIntent.ID
	}
	return s
}

// CreateRefund refunds part of a payment intent. The idempotency key is
// forwarded so Stripe returns the original refund on a repeated request.
func (a *Adapter) CreateRefund(ctx context.Context, req billing.RefundRequest) (*billing.Refund, error) {
	var refund *billing.Refund
	err := a.call(ctx, billing.OpCreateRefund, req.PaymentID, func(ctx context.Context) error {
		params := &stripe.RefundParams{
			PaymentIntent: stripe.String(req.PaymentID),
			Amount:        stripe.Int64(req.AmountMinorUnits),
		}
		if req.Reason != "" {
			params.Reason = stripe.String(req.Reason)
		}
		params.Context = ctx
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}
		for k, v := range req.Metadata {
			params.AddMetadata(k, v)
		}

		re, err := a.api.Refunds.New(params)
		if err != nil {
			return err
		}

		refund = &billing.Refund{
			ID:        re.ID,
			PaymentID: req.PaymentID,
			Amount:    re.Amount,
			Currency:  string(re.Currency),
			Status:    string(re.Status),
		}
		return nil
	})
	return refund, err
}

// UpdateSubscription updates cancellation settings and metadata
func (a *Adapter) UpdateSubscription(ctx context.Context, subscriptionID string, update billing.SubscriptionUpdate) error {
	return a.call(ctx, billing.OpUpdateSubscription, subscriptionID, func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(update.CancelAtPeriodEnd),
		}
		params.Context = ctx
		for k, v := range update.Metadata {
			params.AddMetadata(k, v)
		}

		_, err := a.api.Subscriptions.Update(subscriptionID, params)
		return err
	})
}

// call wraps one Stripe request with tracing, metrics, logging and error classification
func (a *Adapter) call(ctx context.Context, op, objectID string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "stripe."+op, attribute.String("stripe.object_id", objectID))
	start := time.Now()

	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		// Stripe reports a cancelled context as a generic network error
		err = ctx.Err()
	}

	status := "success"
	if err != nil {
		status = "error"
		err = classify(op, err)
		a.logger.Error("Stripe request failed",
			zap.String("operation", op),
			zap.String("object_id", objectID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	} else {
		a.logger.Debug("Stripe request succeeded",
			zap.String("operation", op),
			zap.String("object_id", objectID),
			zap.Duration("duration", time.Since(start)))
	}

	metrics.RecordGatewayCall(op, status, time.Since(start))
	tracing.EndSpan(span, err)
	return err
}

// classify wraps a Stripe error into a GatewayError. Rate limiting, server
// side failures and transport errors are transient; everything else is not.
func classify(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		transient := stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.Type == stripe.ErrorTypeAPI
		return domain.NewGatewayError(op, transient, err)
	}
	return domain.NewGatewayError(op, true, err)
}
