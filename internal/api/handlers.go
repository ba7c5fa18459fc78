package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/jia-app/offhireservice/internal/log"
	"github.com/jia-app/offhireservice/internal/notification"
	"github.com/jia-app/offhireservice/internal/rental/domain"
)

// EarlyReturnService is the part of the coordinator the API drives.
type EarlyReturnService interface {
	ProcessEarlyReturn(ctx context.Context, s domain.RentalSnapshot) (domain.EarlyReturnResult, error)
	PreviewCredit(ctx context.Context, s domain.RentalSnapshot) (domain.Quote, error)
}

// NotificationLog lists recently dispatched notifications.
type NotificationLog interface {
	Entries(limit int) []notification.Entry
}

// Handler serves the early return API.
type Handler struct {
	service       EarlyReturnService
	notifications NotificationLog
}

// NewHandler creates a new handler. notifications may be nil.
func NewHandler(service EarlyReturnService, notifications NotificationLog) *Handler {
	return &Handler{service: service, notifications: notifications}
}

// decodeSnapshot reads and validates an EarlyReturnRequest. It writes the
// error response itself and reports false on failure.
func decodeSnapshot(w http.ResponseWriter, r *http.Request) (domain.RentalSnapshot, bool) {
	var req EarlyReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return domain.RentalSnapshot{}, false
	}
	if err := req.Validate(); err != nil {
		writeRequestError(w, err)
		return domain.RentalSnapshot{}, false
	}
	snapshot, err := req.ToSnapshot()
	if err != nil {
		writeRequestError(w, err)
		return domain.RentalSnapshot{}, false
	}
	return snapshot, true
}

// ProcessEarlyReturn processes an early return.
// POST /v1/early-returns
func (h *Handler) ProcessEarlyReturn(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := decodeSnapshot(w, r)
	if !ok {
		return
	}

	ctx := log.WithRentalID(r.Context(), snapshot.RentalID)
	log.Info(ctx, "Early return requested",
		zap.String("customer_id", snapshot.CustomerID),
		zap.String("operator", log.Operator(ctx)),
		zap.String("actual_end_date", snapshot.ActualEndDate.String()))

	result, err := h.service.ProcessEarlyReturn(ctx, snapshot)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyProcessed {
		status = http.StatusOK
	}
	writeJSON(w, status, toEarlyReturnResponse(result))
}

// PreviewEarlyReturn computes the credit an early return would produce.
// POST /v1/early-returns/preview
func (h *Handler) PreviewEarlyReturn(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := decodeSnapshot(w, r)
	if !ok {
		return
	}

	ctx := log.WithRentalID(r.Context(), snapshot.RentalID)
	quote, err := h.service.PreviewCredit(ctx, snapshot)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewResponse(quote))
}

// ListNotifications returns the most recent notifications, newest first.
// GET /v1/notifications?limit=N
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		limit = n
	}

	items := []notification.Entry{}
	if h.notifications != nil {
		if entries := h.notifications.Entries(limit); entries != nil {
			items = entries
		}
	}
	writeJSON(w, http.StatusOK, NotificationsResponse{Items: items, Count: len(items)})
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
