package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jia-app/offhireservice/internal/billing"
	"github.com/jia-app/offhireservice/internal/rental/domain"
)

func requireIneligible(t *testing.T, err error, reason domain.ReasonCode) *domain.IneligibleError {
	t.Helper()
	var ineligible *domain.IneligibleError
	require.ErrorAs(t, err, &ineligible)
	assert.Equal(t, reason, ineligible.Reason)
	return ineligible
}

func TestEligibility_MinPeriodNotMet(t *testing.T) {
	h := newHarness(t)
	s := upfrontSnapshot()
	s.ActualEndDate = domain.MustParseDate("2024-01-03")

	_, err := h.validator.Check(context.Background(), s)

	ineligible := requireIneligible(t, err, domain.ReasonMinPeriodNotMet)
	assert.Contains(t, ineligible.Message, "5 days")
	assert.Contains(t, ineligible.Message, "2 days")
	assert.Equal(t, 0, h.gateway.Calls(billing.OpRetrievePayment))
}

func TestEligibility_MinPeriodCheckedBeforeReference(t *testing.T) {
	h := newHarness(t)
	s := upfrontSnapshot()
	s.PaymentReferenceID = ""
	s.ActualEndDate = domain.MustParseDate("2024-01-02")

	_, err := h.validator.Check(context.Background(), s)
	requireIneligible(t, err, domain.ReasonMinPeriodNotMet)
}

func TestEligibility_NoPaymentReference(t *testing.T) {
	h := newHarness(t)
	s := upfrontSnapshot()
	s.PaymentReferenceID = ""

	_, err := h.validator.Check(context.Background(), s)
	requireIneligible(t, err, domain.ReasonNoPaymentReference)
}

func TestEligibility_PaymentAge(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		allowed bool
	}{
		{"recent payment", 10 * 24 * time.Hour, true},
		{"exactly ninety days", 90 * 24 * time.Hour, true},
		{"just over ninety days", 90*24*time.Hour + time.Second, false},
		{"a year old", 365 * 24 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.gateway.PutPayment(billing.Payment{ID: "pi_upfront", CreatedAt: testNow.Add(-tt.age)})

			decision, err := h.validator.Check(context.Background(), upfrontSnapshot())
			if tt.allowed {
				require.NoError(t, err)
				assert.True(t, decision.Allowed)
				assert.Equal(t, domain.ReasonEligible, decision.ReasonCode)
				assert.Equal(t, 20, decision.DaysRented)
				return
			}
			ineligible := requireIneligible(t, err, domain.ReasonPaymentTooOld)
			assert.Equal(t, "Payment is too old for refund (>90 days)", ineligible.Message)
		})
	}
}

func TestEligibility_SubscriptionNeedsNoGatewayCall(t *testing.T) {
	h := newHarness(t)

	decision, err := h.validator.Check(context.Background(), subscriptionSnapshot())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 0, h.gateway.Calls(billing.OpRetrievePayment))
	assert.Equal(t, 0, h.gateway.Calls(billing.OpRetrieveSubscription))
}

func TestEligibility_GatewayFailure(t *testing.T) {
	h := newHarness(t)
	h.gateway.Fail = func(string) error { return errors.New("no such payment_intent") }

	_, err := h.validator.Check(context.Background(), upfrontSnapshot())

	var gatewayErr *domain.GatewayError
	require.ErrorAs(t, err, &gatewayErr)
	assert.Equal(t, billing.OpRetrievePayment, gatewayErr.Op)
	assert.False(t, gatewayErr.Retryable())
}

func TestEligibility_TimeoutIsTransient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GatewayTimeout = 20 * time.Millisecond
	h := newHarness(t, withConfig(cfg), withGateway(slowGateway{newGateway()}))

	_, err := h.validator.Check(context.Background(), upfrontSnapshot())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.KindGateway, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))
}
