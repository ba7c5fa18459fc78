package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Early return metrics
	EarlyReturnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "early_returns_total",
			Help: "Total number of early return requests by outcome",
		},
		[]string{"outcome"},
	)

	EarlyReturnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "early_return_duration_seconds",
			Help:    "End-to-end early return processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	IneligibleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "early_return_ineligible_total",
			Help: "Total number of early returns rejected by eligibility policy",
		},
		[]string{"reason"},
	)

	// Refund metrics
	RefundsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunds_issued_total",
			Help: "Total number of refunds committed at the gateway",
		},
		[]string{"billing_model", "currency"},
	)

	RefundAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refund_amount",
			Help:    "Refund amount distribution in major currency units",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		},
		[]string{"currency"},
	)

	RefundsCommittedWithFailure = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refunds_committed_with_failure_total",
			Help: "Refunds that committed before a later step failed",
		},
	)

	// Gateway metrics
	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_api_calls_total",
			Help: "Total number of payment gateway API calls",
		},
		[]string{"operation", "status"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_api_duration_seconds",
			Help:    "Payment gateway API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Notification metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications dispatched",
		},
		[]string{"type", "status"},
	)

	// Lock metrics
	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rental_lock_contention_total",
			Help: "Attempts rejected because the rental was already locked",
		},
	)

	GatewayBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_state",
			Help: "Payment gateway circuit state (0 closed, 1 open, 2 half-open)",
		},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordEarlyReturn records the outcome of one early return
func RecordEarlyReturn(outcome string, duration time.Duration) {
	EarlyReturnsTotal.WithLabelValues(outcome).Inc()
	EarlyReturnDuration.Observe(duration.Seconds())
}

// RecordIneligible records an eligibility rejection
func RecordIneligible(reason string) {
	IneligibleTotal.WithLabelValues(reason).Inc()
}

// RecordRefundIssued records a committed refund
func RecordRefundIssued(billingModel, currency string, amount float64) {
	RefundsIssued.WithLabelValues(billingModel, currency).Inc()
	RefundAmount.WithLabelValues(currency).Observe(amount)
}

// RecordRefundCommittedWithFailure records a partial success
func RecordRefundCommittedWithFailure() {
	RefundsCommittedWithFailure.Inc()
}

// RecordGatewayCall records a payment gateway API call
func RecordGatewayCall(operation, status string, duration time.Duration) {
	GatewayCalls.WithLabelValues(operation, status).Inc()
	GatewayDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordNotification records a notification dispatch
func RecordNotification(notificationType string, ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	NotificationsSent.WithLabelValues(notificationType, status).Inc()
}

// RecordLockContention records a rejected lock acquisition
func RecordLockContention() {
	LockContention.Inc()
}

// RecordBreakerState records the payment gateway circuit state
func RecordBreakerState(state int) {
	GatewayBreakerState.Set(float64(state))
}

// RecordError records an error
func RecordError(errorType, component string) {
	ErrorsTotal.WithLabelValues(errorType, component).Inc()
}
