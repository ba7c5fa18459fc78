package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories callers dispatch on.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindValidation      ErrorKind = "validation"
	KindIneligible      ErrorKind = "ineligible"
	KindCalculation     ErrorKind = "calculation"
	KindGateway         ErrorKind = "gateway"
	KindRefundCommitted ErrorKind = "refund_committed"
	KindLocked          ErrorKind = "locked"
	KindInternal        ErrorKind = "internal"
)

// ErrRentalLocked is returned when another invocation holds the rental's lock.
var ErrRentalLocked = errors.New("rental is already being processed")

// ValidationError reports a malformed RentalSnapshot.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rental snapshot: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IneligibleError means the early return may not be refunded. It is never
// retried automatically.
type IneligibleError struct {
	Reason  ReasonCode `json:"reason"`
	Message string     `json:"message"`
}

func (e *IneligibleError) Error() string {
	return e.Message
}

// NewMinPeriodNotMetError creates the error for a rental shorter than its minimum hire period.
func NewMinPeriodNotMetError(minHirePeriod, daysRented int) *IneligibleError {
	return &IneligibleError{
		Reason: ReasonMinPeriodNotMet,
		Message: fmt.Sprintf("Minimum hire period of %d days not met. Current rental duration: %d days. No refund will be processed.",
			minHirePeriod, daysRented),
	}
}

// NewNoPaymentReferenceError creates the error for a rental with nothing to refund against.
func NewNoPaymentReferenceError() *IneligibleError {
	return &IneligibleError{
		Reason:  ReasonNoPaymentReference,
		Message: "No valid payment found for refund",
	}
}

// NewPaymentTooOldError creates the error for a payment past the refund window.
func NewPaymentTooOldError(maxAgeDays int) *IneligibleError {
	return &IneligibleError{
		Reason:  ReasonPaymentTooOld,
		Message: fmt.Sprintf("Payment is too old for refund (>%d days)", maxAgeDays),
	}
}

// CalculationError is an invariant violation caused by bad upstream data.
type CalculationError struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *CalculationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("refund calculation failed: %s (%s)", e.Message, e.Details)
	}
	return "refund calculation failed: " + e.Message
}

// NewCalculationError creates a new calculation error
func NewCalculationError(message, details string) *CalculationError {
	return &CalculationError{Message: message, Details: details}
}

// GatewayError wraps a failed call to an external collaborator.
type GatewayError struct {
	Op        string
	Transient bool
	Cause     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway call %s failed: %v", e.Op, e.Cause)
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether repeating the whole operation may succeed.
func (e *GatewayError) Retryable() bool {
	return e.Transient || errors.Is(e.Cause, context.DeadlineExceeded)
}

// NewGatewayError wraps cause. Deadline expiries are always transient.
func NewGatewayError(op string, transient bool, cause error) *GatewayError {
	return &GatewayError{
		Op:        op,
		Transient: transient || errors.Is(cause, context.DeadlineExceeded),
		Cause:     cause,
	}
}

// RefundCommittedError marks a partial success: the refund exists at the
// gateway but a later step failed. Callers must not re-issue the refund.
type RefundCommittedError struct {
	Receipt RefundReceipt
	Cause   error
}

func (e *RefundCommittedError) Error() string {
	return fmt.Sprintf("refund %s committed but follow-up failed: %v", e.Receipt.ExternalRefundID, e.Cause)
}

func (e *RefundCommittedError) Unwrap() error {
	return e.Cause
}

// EarlyReturnError is the single error type returned to the ultimate caller.
type EarlyReturnError struct {
	RentalID string
	Cause    error
}

func (e *EarlyReturnError) Error() string {
	return fmt.Sprintf("early return for rental %s failed: %v", e.RentalID, e.Cause)
}

func (e *EarlyReturnError) Unwrap() error {
	return e.Cause
}

// Kind returns the category of the underlying cause.
func (e *EarlyReturnError) Kind() ErrorKind {
	return KindOf(e.Cause)
}

// Receipt returns the committed refund when the failure happened after it.
func (e *EarlyReturnError) Receipt() (RefundReceipt, bool) {
	var committed *RefundCommittedError
	if errors.As(e.Cause, &committed) {
		return committed.Receipt, true
	}
	return RefundReceipt{}, false
}

// KindOf classifies any error chain. A committed refund takes precedence
// over the failure that followed it.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var (
		committed   *RefundCommittedError
		ineligible  *IneligibleError
		validation  *ValidationError
		calculation *CalculationError
		gateway     *GatewayError
	)
	switch {
	case errors.As(err, &committed):
		return KindRefundCommitted
	case errors.As(err, &ineligible):
		return KindIneligible
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &calculation):
		return KindCalculation
	case errors.Is(err, ErrRentalLocked):
		return KindLocked
	case errors.As(err, &gateway):
		return KindGateway
	default:
		return KindInternal
	}
}

// IsRetryable reports whether the whole early return may be safely retried.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindLocked:
		return true
	case KindGateway:
		var gateway *GatewayError
		return errors.As(err, &gateway) && gateway.Retryable()
	default:
		return false
	}
}
