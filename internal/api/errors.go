package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jia-app/offhireservice/internal/log"
	"github.com/jia-app/offhireservice/internal/rental/domain"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeRequestError reports a body that failed struct validation.
func writeRequestError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: "Invalid request body", Kind: domain.KindValidation, Details: err.Error()}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		resp.Field = fieldErrs[0].Field()
	}
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		resp.Field = validation.Field
		resp.Details = validation.Message
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindIneligible, domain.KindCalculation:
		return http.StatusUnprocessableEntity
	case domain.KindLocked:
		return http.StatusConflict
	case domain.KindGateway:
		if domain.IsRetryable(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError renders a coordinator failure. A committed refund is
// always echoed back so the caller does not issue it again.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := ErrorResponse{
		Error: err.Error(),
		Kind:  domain.KindOf(err),
		Retry: domain.IsRetryable(err),
	}

	var (
		ineligible *domain.IneligibleError
		validation *domain.ValidationError
		committed  *domain.RefundCommittedError
	)
	switch {
	case errors.As(err, &committed):
		receipt := committed.Receipt
		resp.Refund = &receipt
	case errors.As(err, &ineligible):
		resp.Error = ineligible.Message
		resp.Reason = ineligible.Reason
	case errors.As(err, &validation):
		resp.Error = validation.Message
		resp.Field = validation.Field
	}

	if status >= http.StatusInternalServerError {
		log.Error(ctx, "Request failed",
			zap.String("kind", string(resp.Kind)),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeJSON(w, status, resp)
}
