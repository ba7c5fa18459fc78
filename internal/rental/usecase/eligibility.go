package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jia-app/offhireservice/internal/billing"
	"github.com/jia-app/offhireservice/internal/log"
	"github.com/jia-app/offhireservice/internal/rental/datemath"
	"github.com/jia-app/offhireservice/internal/rental/domain"
)

// EligibilityValidator decides whether an early return may be refunded
type EligibilityValidator struct {
	gateway billing.Gateway
	config  Config
	now     Clock
}

// NewEligibilityValidator creates a new eligibility validator
func NewEligibilityValidator(gateway billing.Gateway, config Config, now Clock) *EligibilityValidator {
	if now == nil {
		now = time.Now
	}
	return &EligibilityValidator{
		gateway: gateway,
		config:  config,
		now:     now,
	}
}

// Check evaluates the eligibility rules in order; the first failure wins.
// At most one read-only gateway call is made.
func (v *EligibilityValidator) Check(ctx context.Context, s domain.RentalSnapshot) (domain.EligibilityDecision, error) {
	daysRented := datemath.DaysRented(s.StartDate, s.ActualEndDate)

	if daysRented < s.MinHirePeriod {
		return domain.EligibilityDecision{}, domain.NewMinPeriodNotMetError(s.MinHirePeriod, daysRented)
	}

	if !s.HasPaymentReference() {
		return domain.EligibilityDecision{}, domain.NewNoPaymentReferenceError()
	}

	if s.PaymentReferenceID != "" {
		var payment *billing.Payment
		err := callGateway(ctx, v.config.GatewayTimeout, billing.OpRetrievePayment, func(ctx context.Context) error {
			var err error
			payment, err = v.gateway.RetrievePayment(ctx, s.PaymentReferenceID)
			return err
		})
		if err != nil {
			return domain.EligibilityDecision{}, err
		}

		if v.now().Sub(payment.CreatedAt) > v.config.PaymentMaxAge {
			log.Info(ctx, "Payment too old for refund",
				zap.String("payment_id", payment.ID),
				zap.Time("created_at", payment.CreatedAt),
				zap.Float64("age_days", datemath.Elapsed(payment.CreatedAt, v.now())))
			return domain.EligibilityDecision{}, domain.NewPaymentTooOldError(int(v.config.PaymentMaxAge / datemath.Day))
		}
	}

	return domain.EligibilityDecision{
		Allowed:    true,
		ReasonCode: domain.ReasonEligible,
		DaysRented: daysRented,
	}, nil
}
