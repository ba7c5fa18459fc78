// Package lock provides the per-rental exclusive lock that serialises
// early-return processing of the same rental across requests.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLocked is returned when another holder owns the key.
var ErrLocked = errors.New("lock is held by another holder")

// Release gives the lock back. Releasing a lock that has expired, or that
// was taken over by another holder, is a no-op.
type Release func(ctx context.Context) error

// Locker acquires exclusive, expiring locks by key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// RentalKey is the lock key for one rental.
func RentalKey(rentalID string) string {
	return "lock:rental:" + rentalID
}
