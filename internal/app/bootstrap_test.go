package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jia-app/offhireservice/internal/billing"
	"github.com/jia-app/offhireservice/internal/config"
	"github.com/jia-app/offhireservice/internal/events"
	"github.com/jia-app/offhireservice/internal/lock"
	"github.com/jia-app/offhireservice/internal/repository/memory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.HTTP.Address = "127.0.0.1:0"
	cfg.Metrics.Address = "127.0.0.1:0"
	return cfg
}

func TestNewGateway(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	gateway, err := NewGateway(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &billing.MemoryGateway{}, gateway)

	cfg.Billing.Provider = "stripe"
	_, err = NewGateway(ctx, cfg)
	assert.Error(t, err)

	cfg.Billing.StripeSecret = "sk_test_1234567890"
	gateway, err = NewGateway(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &billing.BreakerGateway{}, gateway)

	cfg.Billing.Provider = "paypal"
	_, err = NewGateway(ctx, cfg)
	assert.Error(t, err)

	cfg.Billing.Provider = "noop"
	_, err = NewGateway(ctx, cfg)
	assert.Error(t, err)
	assert.Error(t, cfg.Validate())
}

func TestNewGateway_MockFixtures(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Billing.MockFixtures = filepath.Join(t.TempDir(), "gateway.json")
	require.NoError(t, os.WriteFile(cfg.Billing.MockFixtures,
		[]byte(`{"payments": [{"id": "pi_seeded", "amount": 5000, "status": "succeeded"}]}`), 0o600))

	gateway, err := NewGateway(ctx, cfg)
	require.NoError(t, err)
	payment, err := gateway.RetrievePayment(ctx, "pi_seeded")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), payment.Amount)

	cfg.Billing.MockFixtures = filepath.Join(t.TempDir(), "missing.json")
	_, err = NewGateway(ctx, cfg)
	assert.Error(t, err)
}

func TestGetKeyPrefix(t *testing.T) {
	assert.Equal(t, "***", getKeyPrefix("short"))
	assert.Equal(t, "sk_test_***", getKeyPrefix("sk_test_1234567890"))
}

func TestNewStore_InMemoryWithoutDSN(t *testing.T) {
	store, err := NewStore(context.Background(), testConfig(t))
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)
}

func TestNewRedisClientAndLocker(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	client, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.IsType(t, &lock.MemoryLocker{}, NewLocker(ctx, client))
	assert.Nil(t, NewRateLimit(ctx, cfg, client))

	mr := miniredis.RunT(t)
	cfg.Redis.Addr = mr.Addr()
	client, err = NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()
	assert.IsType(t, &lock.RedisLocker{}, NewLocker(ctx, client))
	assert.NotNil(t, NewRateLimit(ctx, cfg, client))

	cfg.HTTP.RateLimit = 0
	assert.Nil(t, NewRateLimit(ctx, cfg, client))

	mr.Close()
	_, err = NewRedisClient(ctx, cfg)
	assert.Error(t, err)
}

func TestNewPublisher_Disabled(t *testing.T) {
	publisher, err := NewPublisher(context.Background(), testConfig(t))
	require.NoError(t, err)
	assert.IsType(t, events.NoopPublisher{}, publisher)
}

func TestUsecaseConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Billing.Currency = "gbp"
	cfg.Refund.GatewayTimeout = 3 * time.Second

	uc := UsecaseConfig(cfg)
	assert.Equal(t, "gbp", uc.Currency)
	assert.Equal(t, 3*time.Second, uc.GatewayTimeout)
	assert.Equal(t, 90*24*time.Hour, uc.PaymentMaxAge)
	assert.Equal(t, "5-10 business days", uc.SettlementWindow)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	application, err := New(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, application.Coordinator())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}
	assert.NoError(t, application.Shutdown(context.Background()))
}
