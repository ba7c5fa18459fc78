package notification

import (
	"context"
	"sync"
	"time"
)

// DefaultLogCapacity is the number of entries kept by a Log
const DefaultLogCapacity = 100

// Entry is one dispatched notification and its delivery outcome
type Entry struct {
	Notification
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// Log decorates a Sender and keeps the most recent notifications,
// newest first.
type Log struct {
	next     Sender
	capacity int
	now      func() time.Time

	mu      sync.RWMutex
	entries []Entry
}

// NewLog wraps next. A non-positive capacity uses DefaultLogCapacity.
func NewLog(next Sender, capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	if next == nil {
		next = NoopSender{}
	}
	return &Log{
		next:     next,
		capacity: capacity,
		now:      time.Now,
		entries:  make([]Entry, 0, capacity),
	}
}

// Send stamps the notification, forwards it and records the outcome
func (l *Log) Send(ctx context.Context, n Notification) error {
	n.Timestamp = l.now().UTC()
	err := l.next.Send(ctx, n)

	entry := Entry{Notification: n, Delivered: err == nil}
	if err != nil {
		entry.Error = err.Error()
	}

	l.mu.Lock()
	l.entries = append([]Entry{entry}, l.entries...)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}
	l.mu.Unlock()

	return err
}

// Entries returns up to limit entries, newest first. A non-positive limit returns all.
func (l *Log) Entries(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	copy(out, l.entries[:n])
	return out
}
