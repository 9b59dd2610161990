package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/nezuko-platform/nezuko-core/pkg/timeutil"
)

// MembershipVerdict is one of the three cache markers held per
// (bot, channel, user) - see spec §4.2.
type MembershipVerdict string

const (
	VerdictMember       MembershipVerdict = "member"
	VerdictNonMember    MembershipVerdict = "non_member"
	VerdictUnknownError MembershipVerdict = "unknown_error"
)

const (
	ttlMember       = 10 * time.Minute
	ttlNonMember    = 1 * time.Minute
	ttlUnknownError = 15 * time.Second
	jitterFactor    = 0.10
)

func ttlFor(v MembershipVerdict) time.Duration {
	switch v {
	case VerdictMember:
		return timeutil.Jitter(ttlMember, jitterFactor)
	case VerdictNonMember:
		return timeutil.Jitter(ttlNonMember, jitterFactor)
	default:
		return timeutil.Jitter(ttlUnknownError, jitterFactor)
	}
}

// MembershipKey builds the cache key for one (bot, channel, user) triple.
// The per-bot prefix is mandatory: a user's membership is per-channel,
// and channels are per-bot (spec §4.2).
func MembershipKey(botInstanceID, channelID, userID int64) string {
	return fmt.Sprintf("%s%d:%d:%d", PrefixMembership, botInstanceID, channelID, userID)
}

// MembershipCache memoizes membership verdicts to keep the Verification
// Service's hot path off Telegram (spec §4.2, C2). Every method is
// best-effort: a cache-unreachable error never propagates as a hard
// failure, only as a miss, so the application layer never needs backend
// awareness.
type MembershipCache struct {
	cache *Cache
}

// NewMembershipCache wraps a Cache as a MembershipCache.
func NewMembershipCache(cache *Cache) *MembershipCache {
	return &MembershipCache{cache: cache}
}

// Get returns the cached verdict and true, or ("", false) on a miss or
// backend error - callers never need to distinguish "not cached" from
// "cache down" (spec §4.2 "on cache unreachable, returns miss").
func (m *MembershipCache) Get(ctx context.Context, botInstanceID, channelID, userID int64) (MembershipVerdict, bool) {
	var v string
	if err := m.cache.Get(ctx, MembershipKey(botInstanceID, channelID, userID), &v); err != nil {
		return "", false
	}
	return MembershipVerdict(v), true
}

// Set stores a verdict with its jittered TTL. Best-effort: errors are
// swallowed by the caller's choosing (Set returns the error only so a
// caller can log it; nothing downstream should treat it as fatal).
func (m *MembershipCache) Set(ctx context.Context, botInstanceID, channelID, userID int64, v MembershipVerdict) error {
	key := MembershipKey(botInstanceID, channelID, userID)
	return m.cache.Set(ctx, key, string(v), ttlFor(v))
}

// Invalidate drops the cached verdict for one user, called when a
// chat_member update arrives for that channel (spec §4.2, §4.6).
func (m *MembershipCache) Invalidate(ctx context.Context, botInstanceID, channelID, userID int64) error {
	return m.cache.Delete(ctx, MembershipKey(botInstanceID, channelID, userID))
}

// InvalidateChannel drops every cached verdict for a channel, called
// after an admin-initiated resync (spec §4.2).
func (m *MembershipCache) InvalidateChannel(ctx context.Context, botInstanceID, channelID int64) error {
	pattern := fmt.Sprintf("%s%d:%d:*", PrefixMembership, botInstanceID, channelID)
	return m.cache.DeleteByPattern(ctx, pattern)
}

// NullMembershipCache is a stub used when no cache backend is
// configured: every Get is a miss, every Set/Invalidate is a silent
// no-op. The Verification Service tolerates this with no correctness
// loss, only a latency impact (spec §4.2 "graceful degradation").
type NullMembershipCache struct{}

func (NullMembershipCache) Get(ctx context.Context, botInstanceID, channelID, userID int64) (MembershipVerdict, bool) {
	return "", false
}

func (NullMembershipCache) Set(ctx context.Context, botInstanceID, channelID, userID int64, v MembershipVerdict) error {
	return nil
}

func (NullMembershipCache) Invalidate(ctx context.Context, botInstanceID, channelID, userID int64) error {
	return nil
}

func (NullMembershipCache) InvalidateChannel(ctx context.Context, botInstanceID, channelID int64) error {
	return nil
}
