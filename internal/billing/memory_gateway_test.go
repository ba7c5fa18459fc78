package billing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGateway_RefundIdempotency(t *testing.T) {
	g := NewMemoryGateway("usd")
	g.PutPayment(Payment{ID: "pi_1", Amount: 30000, CreatedAt: time.Now()})

	req := RefundRequest{PaymentID: "pi_1", AmountMinorUnits: 10000, IdempotencyKey: "k1"}
	first, err := g.CreateRefund(context.Background(), req)
	require.NoError(t, err)
	second, err := g.CreateRefund(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, g.Refunds(), 1)
	assert.Equal(t, 2, g.Calls(OpCreateRefund))
	assert.Equal(t, "usd", first.Currency)
}

func TestMemoryGateway_RefundCurrencyFromSubscription(t *testing.T) {
	g := NewMemoryGateway("usd")
	g.PutSubscription(Subscription{ID: "sub_1", Currency: "gbp", LatestPaymentID: "pi_sub"})

	refund, err := g.CreateRefund(context.Background(), RefundRequest{PaymentID: "pi_sub", AmountMinorUnits: 100})
	require.NoError(t, err)
	assert.Equal(t, "gbp", refund.Currency)
}

func TestMemoryGateway_UpdateSubscriptionMergesMetadata(t *testing.T) {
	g := NewMemoryGateway("usd")
	g.PutSubscription(Subscription{ID: "sub_1", Status: SubscriptionStatusActive, Metadata: map[string]string{"plan": "weekly"}})

	err := g.UpdateSubscription(context.Background(), "sub_1", SubscriptionUpdate{
		CancelAtPeriodEnd: true,
		Metadata:          map[string]string{"cancelled_reason": "early_return"},
	})
	require.NoError(t, err)

	sub, ok := g.Subscription("sub_1")
	require.True(t, ok)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, "weekly", sub.Metadata["plan"])
	assert.Equal(t, "early_return", sub.Metadata["cancelled_reason"])
}

func TestMemoryGateway_FailHookAndCancelledContext(t *testing.T) {
	g := NewMemoryGateway("usd")
	g.Fail = func(op string) error {
		if op == OpRetrievePayment {
			return errors.New("unavailable")
		}
		return nil
	}

	_, err := g.RetrievePayment(context.Background(), "pi_1")
	assert.EqualError(t, err, "unavailable")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.RetrieveSubscription(ctx, "sub_1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, g.Calls(OpRetrieveSubscription))
}

func TestSubscription_IsActive(t *testing.T) {
	assert.True(t, Subscription{Status: SubscriptionStatusActive}.IsActive())
	assert.True(t, Subscription{Status: SubscriptionStatusTrialing}.IsActive())
	assert.False(t, Subscription{Status: SubscriptionStatusCanceled}.IsActive())
}

func TestMemoryGateway_LoadFixtures(t *testing.T) {
	g := NewMemoryGateway("usd")
	err := g.LoadFixtures(strings.NewReader(`{
		"payments": [{"id": "pi_1", "amount": 30000, "status": "succeeded", "created_at": "2024-01-01T00:00:00Z"}],
		"subscriptions": [{"id": "sub_1", "status": "active", "unit_amount": 30000, "currency": "gbp"}]
	}`))
	require.NoError(t, err)

	payment, err := g.RetrievePayment(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), payment.Amount)
	assert.Equal(t, "usd", payment.Currency)

	sub, ok := g.Subscription("sub_1")
	require.True(t, ok)
	assert.Equal(t, "gbp", sub.Currency)
	assert.True(t, sub.IsActive())

	assert.Error(t, g.LoadFixtures(strings.NewReader(`{"payments": [{"amount": 1}]}`)))
	assert.Error(t, g.LoadFixtures(strings.NewReader(`not json`)))
}
