package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jia-app/offhireservice/internal/log"
	"github.com/jia-app/offhireservice/internal/notification"
	"github.com/jia-app/offhireservice/internal/rental/domain"
)

type fakeService struct {
	result   domain.EarlyReturnResult
	quote    domain.Quote
	err      error
	received domain.RentalSnapshot
	operator string
}

func (f *fakeService) ProcessEarlyReturn(ctx context.Context, s domain.RentalSnapshot) (domain.EarlyReturnResult, error) {
	f.received = s
	f.operator = log.Operator(ctx)
	return f.result, f.err
}

func (f *fakeService) PreviewCredit(_ context.Context, s domain.RentalSnapshot) (domain.Quote, error) {
	f.received = s
	return f.quote, f.err
}

type fakeValidator struct{}

func (fakeValidator) Validate(token string) (string, error) {
	if token != "good-token" {
		return "", errors.New("bad token")
	}
	return "ops@example.com", nil
}

func validBody() map[string]any {
	return map[string]any{
		"rental_id":            "rental_1",
		"customer_id":          "cus_1",
		"start_date":           "2024-01-01",
		"planned_end_date":     "2024-01-31",
		"actual_end_date":      "2024-01-21",
		"daily_rate":           "10",
		"paid_amount":          "300",
		"min_hire_period":      5,
		"payment_reference_id": "pi_1",
		"currency":             "USD",
		"fees": map[string]any{
			"delivery": map[string]any{"amount": "50", "refundable": false},
		},
	}
}

func do(t *testing.T, router http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func successResult() domain.EarlyReturnResult {
	amount := decimal.RequireFromString("50")
	return domain.EarlyReturnResult{
		Success:      true,
		CreditNote:   domain.CreditNote{ID: "cn_1", RentalID: "rental_1", Amount: amount, Currency: "usd", RefundID: "re_1"},
		CreditAmount: amount,
		Refund:       &domain.RefundReceipt{ExternalRefundID: "re_1", Amount: amount, Currency: "usd"},
		Message:      "Early return processed successfully. Credit amount: $50.00. Refund processed: $50.00",
	}
}

func TestProcessEarlyReturn_Created(t *testing.T) {
	svc := &fakeService{result: successResult()}
	router := NewRouter(NewHandler(svc, nil), nil)

	rec := do(t, router, http.MethodPost, "/v1/early-returns", validBody(), nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[EarlyReturnResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "50.00", resp.CreditAmount)
	require.NotNil(t, resp.Refund)
	assert.Equal(t, "re_1", resp.Refund.ExternalRefundID)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	assert.Equal(t, "rental_1", svc.received.RentalID)
	assert.Equal(t, domain.MustParseDate("2024-01-21"), svc.received.ActualEndDate)
	assert.Equal(t, "usd", svc.received.Currency)
	assert.True(t, svc.received.Fees["delivery"].Amount.Equal(decimal.NewFromInt(50)))
}

func TestProcessEarlyReturn_AlreadyProcessedIsOK(t *testing.T) {
	result := successResult()
	result.AlreadyProcessed = true
	router := NewRouter(NewHandler(&fakeService{result: result}, nil), nil)

	rec := do(t, router, http.MethodPost, "/v1/early-returns", validBody(), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[EarlyReturnResponse](t, rec).AlreadyProcessed)
}

func TestProcessEarlyReturn_RequestIDIsPropagated(t *testing.T) {
	router := NewRouter(NewHandler(&fakeService{result: successResult()}, nil), nil)

	rec := do(t, router, http.MethodPost, "/v1/early-returns", validBody(), map[string]string{RequestIDHeader: "req-42"})

	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestProcessEarlyReturn_InvalidBody(t *testing.T) {
	svc := &fakeService{}
	router := NewRouter(NewHandler(svc, nil), nil)

	tests := []struct {
		name  string
		body  func() map[string]any
		field string
	}{
		{"missing rental id", func() map[string]any {
			b := validBody()
			delete(b, "rental_id")
			return b
		}, "RentalID"},
		{"bad date", func() map[string]any {
			b := validBody()
			b["actual_end_date"] = "21/01/2024"
			return b
		}, "ActualEndDate"},
		{"both references", func() map[string]any {
			b := validBody()
			b["subscription_reference_id"] = "sub_1"
			return b
		}, "PaymentReferenceID"},
		{"negative minimum period", func() map[string]any {
			b := validBody()
			b["min_hire_period"] = -1
			return b
		}, "MinHirePeriod"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/v1/early-returns", tt.body(), nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, domain.KindValidation, resp.Kind)
			assert.Equal(t, tt.field, resp.Field)
		})
	}
	assert.Empty(t, svc.received.RentalID)
}

func TestProcessEarlyReturn_MalformedJSON(t *testing.T) {
	router := NewRouter(NewHandler(&fakeService{}, nil), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/early-returns", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessEarlyReturn_ErrorMapping(t *testing.T) {
	receipt := domain.RefundReceipt{ExternalRefundID: "re_9", Amount: decimal.NewFromInt(20), Currency: "usd"}
	wrap := func(err error) error { return &domain.EarlyReturnError{RentalID: "rental_1", Cause: err} }

	tests := []struct {
		name   string
		err    error
		status int
		kind   domain.ErrorKind
		check  func(t *testing.T, resp ErrorResponse)
	}{
		{"validation", wrap(domain.NewValidationError("daily_rate", "daily rate must not be negative")), http.StatusBadRequest, domain.KindValidation,
			func(t *testing.T, resp ErrorResponse) { assert.Equal(t, "daily_rate", resp.Field) }},
		{"ineligible", wrap(domain.NewMinPeriodNotMetError(5, 3)), http.StatusUnprocessableEntity, domain.KindIneligible,
			func(t *testing.T, resp ErrorResponse) {
				assert.Equal(t, domain.ReasonMinPeriodNotMet, resp.Reason)
				assert.Contains(t, resp.Error, "Minimum hire period of 5 days not met")
			}},
		{"calculation", wrap(domain.NewCalculationError("billing period has zero length", "")), http.StatusUnprocessableEntity, domain.KindCalculation, nil},
		{"locked", wrap(domain.ErrRentalLocked), http.StatusConflict, domain.KindLocked,
			func(t *testing.T, resp ErrorResponse) { assert.True(t, resp.Retry) }},
		{"transient gateway", wrap(domain.NewGatewayError("create_refund", true, errors.New("503"))), http.StatusServiceUnavailable, domain.KindGateway,
			func(t *testing.T, resp ErrorResponse) { assert.True(t, resp.Retry) }},
		{"permanent gateway", wrap(domain.NewGatewayError("create_refund", false, errors.New("card declined"))), http.StatusBadGateway, domain.KindGateway,
			func(t *testing.T, resp ErrorResponse) { assert.False(t, resp.Retry) }},
		{"refund committed", wrap(&domain.RefundCommittedError{Receipt: receipt, Cause: errors.New("db down")}), http.StatusInternalServerError, domain.KindRefundCommitted,
			func(t *testing.T, resp ErrorResponse) {
				require.NotNil(t, resp.Refund)
				assert.Equal(t, "re_9", resp.Refund.ExternalRefundID)
				assert.False(t, resp.Retry)
			}},
		{"internal", wrap(errors.New("boom")), http.StatusInternalServerError, domain.KindInternal, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(NewHandler(&fakeService{err: tt.err}, nil), nil)
			rec := do(t, router, http.MethodPost, "/v1/early-returns", validBody(), nil)

			require.Equal(t, tt.status, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.kind, resp.Kind)
			if tt.check != nil {
				tt.check(t, resp)
			}
		})
	}
}

func TestPreviewEarlyReturn(t *testing.T) {
	svc := &fakeService{quote: domain.Quote{
		Amount:            decimal.RequireFromString("33.333").Round(2),
		Currency:          "usd",
		BillingModel:      domain.BillingModelUpfront,
		UnusedDays:        10,
		NonRefundableFees: decimal.NewFromInt(50),
		MaxRefund:         decimal.NewFromInt(250),
	}}
	router := NewRouter(NewHandler(svc, nil), nil)

	rec := do(t, router, http.MethodPost, "/v1/early-returns/preview", validBody(), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[PreviewResponse](t, rec)
	assert.Equal(t, "33.33", resp.CreditAmount)
	assert.Equal(t, "250.00", resp.MaxRefund)
	assert.Equal(t, 10, resp.UnusedDays)
}

func TestListNotifications(t *testing.T) {
	notifications := notification.NewLog(notification.NoopSender{}, 10)
	for _, title := range []string{"first", "second", "third"} {
		require.NoError(t, notifications.Send(context.Background(), notification.Notification{Type: notification.TypeRefundIssued, Title: title}))
	}
	router := NewRouter(NewHandler(&fakeService{}, notifications), nil)

	rec := do(t, router, http.MethodGet, "/v1/notifications?limit=2", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[NotificationsResponse](t, rec)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "third", resp.Items[0].Title)
	assert.Equal(t, "second", resp.Items[1].Title)
	assert.False(t, resp.Items[0].Timestamp.IsZero())

	rec = do(t, router, http.MethodGet, "/v1/notifications?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListNotifications_WithoutLog(t *testing.T) {
	router := NewRouter(NewHandler(&fakeService{}, nil), nil)
	rec := do(t, router, http.MethodGet, "/v1/notifications", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[NotificationsResponse](t, rec).Count)
}

func TestAuthentication(t *testing.T) {
	svc := &fakeService{result: successResult()}
	router := NewRouter(NewHandler(svc, nil), fakeValidator{})

	rec := do(t, router, http.MethodPost, "/v1/early-returns", validBody(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/early-returns", validBody(), map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/early-returns", validBody(), map[string]string{"Authorization": "Bearer good-token"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "ops@example.com", svc.operator)

	rec = do(t, router, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", NewRouter(NewHandler(&fakeService{}, nil), nil), time.Second, time.Second, log.NewNop().Logger)

	done := make(chan error, 1)
	go func() { done <- server.Start(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
	require.NoError(t, <-done)
}
