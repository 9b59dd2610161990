package redis

import (
	"context"
	"time"
)

// DistributedLock implements supervisor.Locker on top of Cache.SetNX,
// giving multiple supervisor processes sharing one bot.Repository a way
// to agree on which process owns a given bot instance (spec §B's
// "SetNX-based per-bot distributed lock used by the supervisor's sync
// loop to avoid two processes double-starting a bot").
type DistributedLock struct {
	cache *Cache
}

// NewDistributedLock wraps a Cache as a DistributedLock.
func NewDistributedLock(cache *Cache) *DistributedLock {
	return &DistributedLock{cache: cache}
}

// TryAcquire is a thin pass-through to Cache.SetNX: true means this
// call took the lock, false means another holder already has it.
func (l *DistributedLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.cache.SetNX(ctx, key, "1", ttl)
}

// Release drops the lock early rather than waiting for it to expire.
func (l *DistributedLock) Release(ctx context.Context, key string) error {
	return l.cache.Delete(ctx, key)
}
