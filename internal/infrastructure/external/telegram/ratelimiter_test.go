package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsBurstUpToCapacity(t *testing.T) {
	rl := NewRateLimiter()
	// Distinct chats, so only the global bucket is shared: its full
	// capacity must be granted without waiting.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	for i := 0; i < globalMessagesPerSecond; i++ {
		assert.NoError(t, rl.Allow(ctx, int64(100+i), false))
	}
}

func TestRateLimiter_PerChatBucketIsIndependentOfGlobal(t *testing.T) {
	rl := NewRateLimiter()
	ctx := context.Background()

	assert.NoError(t, rl.Allow(ctx, 1, false))

	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := rl.Allow(ctxTimeout, 1, false)
	assert.Error(t, err, "second call to the same chat within 1s must wait for the per-chat bucket")
}

func TestRateLimiter_GroupBucketAppliesOnlyWhenRequested(t *testing.T) {
	rl := NewRateLimiter()
	ctx := context.Background()

	assert.NoError(t, rl.Allow(ctx, -100, true))

	b := rl.groupBucket(-100)
	assert.Less(t, b.tokens, perGroupMessagesPerMin)
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	b := newTokenBucket(1, 10) // 10 tokens/sec refill, capacity 1
	_, ok := b.tryAcquire()
	assert.True(t, ok)

	_, ok = b.tryAcquire()
	assert.False(t, ok, "bucket should be empty immediately after consuming its only token")

	time.Sleep(150 * time.Millisecond)
	_, ok = b.tryAcquire()
	assert.True(t, ok, "bucket should have refilled after waiting longer than one token's worth of time")
}
