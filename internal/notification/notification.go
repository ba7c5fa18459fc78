// Package notification delivers customer and operator messages produced by
// the early return flow.
package notification

import (
	"context"
	"time"
)

// Notification types
const (
	TypeRefundProcessed = "refund_processed"
	TypeRefundIssued    = "refund_issued"
)

// Notification is a single message sent to the notification backend
type Notification struct {
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Sender delivers notifications. Callers treat failures as non-fatal.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// NoopSender discards every notification
type NoopSender struct{}

// Send implements Sender for NoopSender
func (NoopSender) Send(context.Context, Notification) error { return nil }
