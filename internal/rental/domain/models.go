package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of decimal places of every currency in scope.
const MinorUnitPlaces = 2

// Fee is a named charge attached to a rental.
type Fee struct {
	Amount     decimal.Decimal `json:"amount"`
	Refundable bool            `json:"refundable"`
}

// RentalSnapshot is the immutable state of one rental at return time.
type RentalSnapshot struct {
	RentalID                string          `json:"rental_id"`
	CustomerID              string          `json:"customer_id"`
	StartDate               Date            `json:"start_date"`
	PlannedEndDate          Date            `json:"planned_end_date"`
	ActualEndDate           Date            `json:"actual_end_date"`
	DailyRate               decimal.Decimal `json:"daily_rate"`
	PaidAmount              decimal.Decimal `json:"paid_amount"`
	MinHirePeriod           int             `json:"min_hire_period"`
	PaymentReferenceID      string          `json:"payment_reference_id,omitempty"`
	SubscriptionReferenceID string          `json:"subscription_reference_id,omitempty"`
	Currency                string          `json:"currency,omitempty"`
	Fees                    map[string]Fee  `json:"fees,omitempty"`
}

// IsSubscriptionBilled reports whether the rental is paid per billing period.
func (s RentalSnapshot) IsSubscriptionBilled() bool {
	return s.SubscriptionReferenceID != ""
}

// HasPaymentReference reports whether any billing path identifier is present.
func (s RentalSnapshot) HasPaymentReference() bool {
	return s.PaymentReferenceID != "" || s.SubscriptionReferenceID != ""
}

// Validate checks the structural invariants of the snapshot.
func (s RentalSnapshot) Validate() error {
	switch {
	case s.RentalID == "":
		return NewValidationError("rental_id", "rental ID is required")
	case s.CustomerID == "":
		return NewValidationError("customer_id", "customer ID is required")
	case s.StartDate.IsZero():
		return NewValidationError("start_date", "start date is required")
	case s.PlannedEndDate.IsZero():
		return NewValidationError("planned_end_date", "planned end date is required")
	case s.ActualEndDate.IsZero():
		return NewValidationError("actual_end_date", "actual end date is required")
	case s.PlannedEndDate.Before(s.StartDate):
		return NewValidationError("planned_end_date", "planned end date is before start date")
	case s.PaymentReferenceID != "" && s.SubscriptionReferenceID != "":
		return NewValidationError("payment_reference_id", "only one of payment and subscription reference may be set")
	case s.DailyRate.IsNegative():
		return NewValidationError("daily_rate", "daily rate must not be negative")
	case s.PaidAmount.IsNegative():
		return NewValidationError("paid_amount", "paid amount must not be negative")
	case s.MinHirePeriod < 0:
		return NewValidationError("min_hire_period", "minimum hire period must not be negative")
	}
	for name, fee := range s.Fees {
		if fee.Amount.IsNegative() {
			return NewValidationError("fees."+name, "fee amount must not be negative")
		}
	}
	return nil
}

// ReasonCode is the machine-readable cause of an eligibility decision.
type ReasonCode string

const (
	ReasonEligible           ReasonCode = "ELIGIBLE"
	ReasonMinPeriodNotMet    ReasonCode = "MIN_PERIOD_NOT_MET"
	ReasonNoPaymentReference ReasonCode = "NO_PAYMENT_REFERENCE"
	ReasonPaymentTooOld      ReasonCode = "PAYMENT_TOO_OLD"
)

// EligibilityDecision is produced fresh per call and never persisted.
type EligibilityDecision struct {
	Allowed    bool       `json:"allowed"`
	ReasonCode ReasonCode `json:"reason_code"`
	DaysRented int        `json:"days_rented"`
}

// BillingModel identifies how the rental was charged.
type BillingModel string

const (
	BillingModelUpfront      BillingModel = "upfront"
	BillingModelSubscription BillingModel = "subscription"
)

// Quote is the outcome of a refund calculation. Amount is the only rounded
// figure; RawAmount and MaxRefund are kept unrounded for audit.
type Quote struct {
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	BillingModel      BillingModel    `json:"billing_model"`
	UnusedDays        int             `json:"unused_days"`
	RawAmount         decimal.Decimal `json:"raw_amount"`
	NonRefundableFees decimal.Decimal `json:"non_refundable_fees"`
	MaxRefund         decimal.Decimal `json:"max_refund"`
	PeriodDays        int             `json:"period_days,omitempty"`
	RemainingInPeriod int             `json:"remaining_in_period,omitempty"`
	// RefundTargetID is the gateway payment a refund must be issued against.
	RefundTargetID string `json:"refund_target_id,omitempty"`
}

// IsZero reports whether no money is owed.
func (q Quote) IsZero() bool {
	return !q.Amount.IsPositive()
}

// MinorUnits converts the amount to the currency's minor unit.
func (q Quote) MinorUnits() int64 {
	return ToMinorUnits(q.Amount)
}

// ToMinorUnits converts a major-unit amount to minor units, rounding half up.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(MinorUnitPlaces).Round(0).IntPart()
}

// FromMinorUnits converts a minor-unit amount to major units.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -MinorUnitPlaces)
}

// RefundReceipt records a refund committed at the payment gateway.
type RefundReceipt struct {
	ExternalRefundID string          `json:"external_refund_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
}

// CreditNote records the credit decision, even when no money moves.
type CreditNote struct {
	ID       string          `json:"id"`
	RentalID string          `json:"rental_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	IssuedAt time.Time       `json:"issued_at"`
	// RefundID is the gateway refund settling this note, if money moved.
	RefundID string `json:"refund_id,omitempty"`
}

// Receipt rebuilds the refund receipt of a settled note. Credit and refund
// amounts are the same quantity by construction.
func (n CreditNote) Receipt() *RefundReceipt {
	if n.RefundID == "" {
		return nil
	}
	return &RefundReceipt{ExternalRefundID: n.RefundID, Amount: n.Amount, Currency: n.Currency}
}

// RentalStatus is the lifecycle state written by the coordinator.
type RentalStatus string

const (
	RentalStatusActive   RentalStatus = "active"
	RentalStatusReturned RentalStatus = "returned"
)

// EarlyReturnResult is the outcome handed back to the caller.
type EarlyReturnResult struct {
	Success          bool            `json:"success"`
	CreditNote       CreditNote      `json:"credit_note"`
	CreditAmount     decimal.Decimal `json:"credit_amount"`
	Refund           *RefundReceipt  `json:"refund,omitempty"`
	Message          string          `json:"message"`
	AlreadyProcessed bool            `json:"already_processed,omitempty"`
}
