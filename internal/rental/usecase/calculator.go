package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/jia-app/offhireservice/internal/billing"
	"github.com/jia-app/offhireservice/internal/rental/datemath"
	"github.com/jia-app/offhireservice/internal/rental/domain"
)

// RefundCalculator computes the refund owed for an early return
type RefundCalculator struct {
	gateway billing.Gateway
	config  Config
}

// NewRefundCalculator creates a new refund calculator
func NewRefundCalculator(gateway billing.Gateway, config Config) *RefundCalculator {
	return &RefundCalculator{
		gateway: gateway,
		config:  config,
	}
}

// Calculate returns the quote for s. The amount is clamped to
// [0, max(0, paid - non-refundable fees)] and rounded once, half up, to
// the currency's minor unit.
func (c *RefundCalculator) Calculate(ctx context.Context, s domain.RentalSnapshot) (domain.Quote, error) {
	nonRefundable := NonRefundableFeeTotal(s.Fees)
	quote := domain.Quote{
		Amount:            decimal.Zero,
		Currency:          c.currency(s.Currency),
		BillingModel:      domain.BillingModelUpfront,
		UnusedDays:        datemath.UnusedDays(s.ActualEndDate, s.PlannedEndDate),
		RawAmount:         decimal.Zero,
		NonRefundableFees: nonRefundable,
		MaxRefund:         s.PaidAmount.Sub(nonRefundable),
		RefundTargetID:    s.PaymentReferenceID,
	}
	if s.IsSubscriptionBilled() {
		quote.BillingModel = domain.BillingModelSubscription
	}

	if quote.UnusedDays <= 0 {
		return quote, nil
	}

	if s.IsSubscriptionBilled() {
		if err := c.subscriptionRaw(ctx, s, &quote); err != nil {
			return domain.Quote{}, err
		}
	} else {
		quote.RawAmount = s.DailyRate.Mul(decimal.NewFromInt(int64(quote.UnusedDays)))
	}

	ceiling := decimal.Max(decimal.Zero, quote.MaxRefund)
	quote.Amount = decimal.Max(decimal.Zero, decimal.Min(quote.RawAmount, ceiling)).Round(domain.MinorUnitPlaces)
	return quote, nil
}

// subscriptionRaw prorates the unit price over the days left in the
// current billing period. Days beyond the period are never owed.
func (c *RefundCalculator) subscriptionRaw(ctx context.Context, s domain.RentalSnapshot, quote *domain.Quote) error {
	var sub *billing.Subscription
	err := callGateway(ctx, c.config.GatewayTimeout, billing.OpRetrieveSubscription, func(ctx context.Context) error {
		var err error
		sub, err = c.gateway.RetrieveSubscription(ctx, s.SubscriptionReferenceID)
		return err
	})
	if err != nil {
		return err
	}

	periodStart := domain.DateOf(sub.CurrentPeriodStart.UTC())
	periodEnd := domain.DateOf(sub.CurrentPeriodEnd.UTC())
	periodDays := datemath.DaysRented(periodStart, periodEnd)
	if periodDays == 0 {
		return domain.NewCalculationError("subscription billing period has zero length",
			fmt.Sprintf("subscription %s period %s..%s", sub.ID, periodStart, periodEnd))
	}

	remaining := min(datemath.UnusedDays(s.ActualEndDate, periodEnd), periodDays)

	quote.PeriodDays = periodDays
	quote.RemainingInPeriod = remaining
	quote.RefundTargetID = sub.LatestPaymentID
	if s.Currency == "" && sub.Currency != "" {
		quote.Currency = strings.ToLower(sub.Currency)
	}

	unitPrice := domain.FromMinorUnits(sub.UnitAmount)
	quote.RawAmount = unitPrice.Mul(decimal.NewFromInt(int64(remaining))).Div(decimal.NewFromInt(int64(periodDays)))
	return nil
}

func (c *RefundCalculator) currency(requested string) string {
	if requested != "" {
		return strings.ToLower(requested)
	}
	return c.config.Currency
}

// NonRefundableFeeTotal sums the fees excluded from any refund
func NonRefundableFeeTotal(fees map[string]domain.Fee) decimal.Decimal {
	return lo.Reduce(lo.Values(fees), func(total decimal.Decimal, fee domain.Fee, _ int) decimal.Decimal {
		if fee.Refundable {
			return total
		}
		return total.Add(fee.Amount)
	}, decimal.Zero)
}
