package telegram

import (
	"context"
	"sync"
	"time"
)

// tokenBucket is a single token-bucket limiter: maxTokens capacity,
// refilled continuously at refillRate tokens/second. Grounded on the
// bucket arithmetic in the platform's legacy external API clients
// (refill-on-access rather than a background ticker), generalized here
// to be shared by the three bucket tiers a bot needs (spec §4.3).
type tokenBucket struct {
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate float64) *tokenBucket {
	return &tokenBucket{
		maxTokens:  maxTokens,
		refillRate: refillRate,
		tokens:     maxTokens,
		lastRefill: time.Now(),
	}
}

// wait blocks until a token is available or the context is done.
func (b *tokenBucket) wait(ctx context.Context) error {
	for {
		d, ok := b.tryAcquire()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

func (b *tokenBucket) tryAcquire() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.maxTokens {
			b.tokens = b.maxTokens
		}
		b.lastRefill = now
	}

	if b.tokens < 1.0 {
		wait := (1.0 - b.tokens) / b.refillRate
		return time.Duration(wait * float64(time.Second)), false
	}

	b.tokens--
	return 0, true
}

// RateLimiter enforces the three tiers of outbound throttling spec §4.3
// requires of the facade: one global per-bot bucket, plus per-chat and
// per-group buckets keyed by chat id. It is owned one-per-bot-instance by
// the facade - the 25 msg/s ceiling is per bot, not shared across bots.
type RateLimiter struct {
	global *tokenBucket

	mu     sync.Mutex
	chats  map[int64]*tokenBucket // private chats and supergroups alike, 1 msg/s
	groups map[int64]*tokenBucket // groups specifically, 20/min
}

const (
	globalMessagesPerSecond = 25.0 // Telegram's documented hard limit is 30; shield below it
	perChatMessagesPerSec   = 1.0
	perGroupMessagesPerMin  = 20.0
)

// NewRateLimiter creates the per-bot limiter with the tier ceilings from
// spec §4.3.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		global: newTokenBucket(globalMessagesPerSecond, globalMessagesPerSecond),
		chats:  make(map[int64]*tokenBucket),
		groups: make(map[int64]*tokenBucket),
	}
}

// Allow blocks until the call to chatID is permitted by every applicable
// tier. isGroup selects the group-scoped bucket (20/min) in addition to
// the per-chat bucket; Telegram group/supergroup ids are negative, but
// callers pass the classification explicitly since a channel-scoped call
// (e.g. get_chat_member against an EnforcedChannel) is not a "group" send.
func (r *RateLimiter) Allow(ctx context.Context, chatID int64, isGroup bool) error {
	if err := r.global.wait(ctx); err != nil {
		return err
	}
	if err := r.chatBucket(chatID).wait(ctx); err != nil {
		return err
	}
	if isGroup {
		if err := r.groupBucket(chatID).wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *RateLimiter) chatBucket(chatID int64) *tokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.chats[chatID]
	if !ok {
		b = newTokenBucket(perChatMessagesPerSec, perChatMessagesPerSec)
		r.chats[chatID] = b
	}
	return b
}

func (r *RateLimiter) groupBucket(chatID int64) *tokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.groups[chatID]
	if !ok {
		b = newTokenBucket(perGroupMessagesPerMin, perGroupMessagesPerMin/60.0)
		r.groups[chatID] = b
	}
	return b
}
