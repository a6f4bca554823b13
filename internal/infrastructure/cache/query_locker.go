package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

// RedisQueryLocker hands out short Redis locks so only one instance asks the
// gateway about a given payment at a time.
type RedisQueryLocker struct {
	locker *redislock.Client
}

// NewRedisQueryLocker creates a locker on top of a redislock client
func NewRedisQueryLocker(locker *redislock.Client) *RedisQueryLocker {
	return &RedisQueryLocker{locker: locker}
}

// TryLock obtains key for ttl without waiting. ok is false when another
// holder has it.
func (l *RedisQueryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	lock, err := l.locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	release := func() {
		// the lock expires on its own if release fails
		_ = lock.Release(context.WithoutCancel(ctx))
	}
	return release, true, nil
}
