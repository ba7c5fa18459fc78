package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// MemoryLocker implements Locker for a single process. It is used when no
// Redis address is configured.
type MemoryLocker struct {
	mu    sync.Mutex
	locks *cache.Cache
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: cache.New(cache.NoExpiration, time.Minute),
	}
}

// Acquire takes the lock or returns ErrLocked when it is held elsewhere
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token := uuid.NewString()
	l.mu.Lock()
	err := l.locks.Add(key, token, ttl)
	l.mu.Unlock()
	if err != nil {
		return nil, ErrLocked
	}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, ok := l.locks.Get(key); ok && current == token {
			l.locks.Delete(key)
		}
		return nil
	}, nil
}
