package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock: held by another worker")

// Locker hands out short-lived distributed locks so that a scheduled job
// runs on one worker at a time.
type Locker struct {
	cache *Cache
	ttl   time.Duration
}

// NewLocker creates a Locker. A non-positive ttl uses TTLJobLock.
func NewLocker(cache *Cache, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = TTLJobLock
	}
	return &Locker{cache: cache, ttl: ttl}
}

// Acquire takes the lock for resource and returns a release function.
// Returns ErrLockHeld if the lock is already taken.
func (l *Locker) Acquire(ctx context.Context, resource string) (func(context.Context) error, error) {
	key := LockKey(resource)
	token := uuid.NewString()

	ok, err := l.cache.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func(ctx context.Context) error {
		_, err := l.cache.CompareAndDelete(ctx, key, token)
		return err
	}, nil
}
