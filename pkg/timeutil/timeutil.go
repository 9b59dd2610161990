// Package timeutil provides small UTC-based time helpers shared across the
// core: TTL jitter (cache stampede avoidance), a staleness check and a
// UTC clock.
// No external dependencies - uses only standard library.
package timeutil

import (
	"math/rand"
	"time"
)

// Now returns the current time in UTC. All persisted timestamps in the
// core are UTC; this exists so call sites never reach for the bare
// time.Now() and accidentally pick up local-zone semantics.
func Now() time.Time {
	return time.Now().UTC()
}

// Jitter returns d adjusted by a uniform random amount within ±factor of
// its length (factor 0.1 means ±10%). Used by the membership cache to
// avoid synchronized TTL expiry across many keys set at the same moment.
func Jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	if factor > 1 {
		factor = 1
	}
	delta := float64(d) * factor * (rand.Float64()*2 - 1) // -factor..+factor
	result := float64(d) + delta
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}

// IsStale reports whether t is older than threshold relative to now.
// Nothing in the core calls it: bot_status liveness has its own
// BotStatus.IsStale, and stuck "processing" admin_commands rows are
// reaped by a SQL query in the command repository.
func IsStale(t time.Time, threshold time.Duration, now time.Time) bool {
	return now.Sub(t) > threshold
}

// Since is a small readability helper over time.Since for UTC-anchored
// durations (uptime, latency) in places that don't want to import "time"
// just for this one call.
func Since(t time.Time) time.Duration {
	return time.Since(t)
}
