package enforcement

import (
	"sync"
	"time"
)

// challengeTTL bounds how long a tracked challenge message survives
// without being resolved, per spec §4.5: "an ephemeral in-memory map
// (group_id, user_id) -> challenge_message_id with a 1-hour TTL".
const challengeTTL = time.Hour

type challengeEntry struct {
	messageID int
	expiresAt time.Time
}

// challengeTracker remembers the pending challenge message for a
// (group, user) pair so a later Verified transition knows which message
// to delete. It is not durable: surviving a crash without it is
// acceptable (spec §4.5) since orphaned challenges are harmless.
//
// Grounded on the token-bucket rate limiter's lazily-created,
// mutex-guarded map idiom
// (internal/infrastructure/external/telegram/ratelimiter.go), the only
// place in the teacher's idiom for a keyed in-process cache.
type challengeTracker struct {
	mu      sync.Mutex
	entries map[challengeKey]challengeEntry
}

type challengeKey struct {
	groupID int64
	userID  int64
}

func newChallengeTracker() *challengeTracker {
	return &challengeTracker{entries: make(map[challengeKey]challengeEntry)}
}

// put remembers a challenge message id, overwriting any prior one for
// the same (group, user).
func (t *challengeTracker) put(groupID, userID int64, messageID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[challengeKey{groupID, userID}] = challengeEntry{
		messageID: messageID,
		expiresAt: time.Now().Add(challengeTTL),
	}
}

// take removes and returns the tracked challenge message id, if any and
// unexpired. ok is false if there is nothing to delete.
func (t *challengeTracker) take(groupID, userID int64) (messageID int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := challengeKey{groupID, userID}
	entry, found := t.entries[key]
	if !found {
		return 0, false
	}
	delete(t.entries, key)
	if time.Now().After(entry.expiresAt) {
		return 0, false
	}
	return entry.messageID, true
}

// purgeExpired drops stale entries. Not called on any hot path; exposed
// for an optional periodic sweep to bound memory on long-lived
// processes with many one-off restrictions.
func (t *challengeTracker) purgeExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for k, e := range t.entries {
		if now.After(e.expiresAt) {
			delete(t.entries, k)
		}
	}
}
