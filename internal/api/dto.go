package api

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/jia-app/offhireservice/internal/notification"
	"github.com/jia-app/offhireservice/internal/rental/domain"
)

var validate = validator.New()

// FeeDTO is one named charge on a rental.
type FeeDTO struct {
	Amount     decimal.Decimal `json:"amount"`
	Refundable bool            `json:"refundable"`
}

// EarlyReturnRequest is the body of both early return endpoints.
type EarlyReturnRequest struct {
	RentalID                string            `json:"rental_id" validate:"required,max=128"`
	CustomerID              string            `json:"customer_id" validate:"required,max=128"`
	StartDate               string            `json:"start_date" validate:"required,datetime=2006-01-02"`
	PlannedEndDate          string            `json:"planned_end_date" validate:"required,datetime=2006-01-02"`
	ActualEndDate           string            `json:"actual_end_date" validate:"required,datetime=2006-01-02"`
	DailyRate               decimal.Decimal   `json:"daily_rate"`
	PaidAmount              decimal.Decimal   `json:"paid_amount"`
	MinHirePeriod           int               `json:"min_hire_period" validate:"gte=0"`
	PaymentReferenceID      string            `json:"payment_reference_id,omitempty" validate:"excluded_with=SubscriptionReferenceID"`
	SubscriptionReferenceID string            `json:"subscription_reference_id,omitempty"`
	Currency                string            `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	Fees                    map[string]FeeDTO `json:"fees,omitempty"`
}

// Validate checks the request shape. Domain invariants are checked again by
// the coordinator.
func (r *EarlyReturnRequest) Validate() error {
	return validate.Struct(r)
}

// ToSnapshot converts a validated request into a rental snapshot.
func (r *EarlyReturnRequest) ToSnapshot() (domain.RentalSnapshot, error) {
	start, err := domain.ParseDate(r.StartDate)
	if err != nil {
		return domain.RentalSnapshot{}, domain.NewValidationError("start_date", err.Error())
	}
	planned, err := domain.ParseDate(r.PlannedEndDate)
	if err != nil {
		return domain.RentalSnapshot{}, domain.NewValidationError("planned_end_date", err.Error())
	}
	actual, err := domain.ParseDate(r.ActualEndDate)
	if err != nil {
		return domain.RentalSnapshot{}, domain.NewValidationError("actual_end_date", err.Error())
	}

	var fees map[string]domain.Fee
	if len(r.Fees) > 0 {
		fees = make(map[string]domain.Fee, len(r.Fees))
		for name, fee := range r.Fees {
			fees[name] = domain.Fee{Amount: fee.Amount, Refundable: fee.Refundable}
		}
	}

	return domain.RentalSnapshot{
		RentalID:                strings.TrimSpace(r.RentalID),
		CustomerID:              strings.TrimSpace(r.CustomerID),
		StartDate:               start,
		PlannedEndDate:          planned,
		ActualEndDate:           actual,
		DailyRate:               r.DailyRate,
		PaidAmount:              r.PaidAmount,
		MinHirePeriod:           r.MinHirePeriod,
		PaymentReferenceID:      r.PaymentReferenceID,
		SubscriptionReferenceID: r.SubscriptionReferenceID,
		Currency:                strings.ToLower(r.Currency),
		Fees:                    fees,
	}, nil
}

// EarlyReturnResponse is returned by POST /v1/early-returns.
type EarlyReturnResponse struct {
	Success          bool                  `json:"success"`
	CreditNote       domain.CreditNote     `json:"credit_note"`
	CreditAmount     string                `json:"credit_amount"`
	Refund           *domain.RefundReceipt `json:"refund,omitempty"`
	Message          string                `json:"message"`
	AlreadyProcessed bool                  `json:"already_processed,omitempty"`
}

func toEarlyReturnResponse(result domain.EarlyReturnResult) EarlyReturnResponse {
	return EarlyReturnResponse{
		Success:          result.Success,
		CreditNote:       result.CreditNote,
		CreditAmount:     result.CreditAmount.StringFixed(domain.MinorUnitPlaces),
		Refund:           result.Refund,
		Message:          result.Message,
		AlreadyProcessed: result.AlreadyProcessed,
	}
}

// PreviewResponse is returned by POST /v1/early-returns/preview.
type PreviewResponse struct {
	CreditAmount      string              `json:"credit_amount"`
	Currency          string              `json:"currency"`
	BillingModel      domain.BillingModel `json:"billing_model"`
	UnusedDays        int                 `json:"unused_days"`
	NonRefundableFees string              `json:"non_refundable_fees"`
	MaxRefund         string              `json:"max_refund"`
	PeriodDays        int                 `json:"period_days,omitempty"`
	RemainingInPeriod int                 `json:"remaining_in_period,omitempty"`
}

func toPreviewResponse(q domain.Quote) PreviewResponse {
	return PreviewResponse{
		CreditAmount:      q.Amount.StringFixed(domain.MinorUnitPlaces),
		Currency:          q.Currency,
		BillingModel:      q.BillingModel,
		UnusedDays:        q.UnusedDays,
		NonRefundableFees: q.NonRefundableFees.StringFixed(domain.MinorUnitPlaces),
		MaxRefund:         q.MaxRefund.StringFixed(domain.MinorUnitPlaces),
		PeriodDays:        q.PeriodDays,
		RemainingInPeriod: q.RemainingInPeriod,
	}
}

// NotificationsResponse is returned by GET /v1/notifications.
type NotificationsResponse struct {
	Items []notification.Entry `json:"items"`
	Count int                  `json:"count"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string                `json:"error"`
	Kind    domain.ErrorKind      `json:"kind,omitempty"`
	Reason  domain.ReasonCode     `json:"reason,omitempty"`
	Field   string                `json:"field,omitempty"`
	Details string                `json:"details,omitempty"`
	Retry   bool                  `json:"retryable,omitempty"`
	Refund  *domain.RefundReceipt `json:"refund,omitempty"`
}
