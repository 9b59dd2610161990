// Package status models BotStatus, the singleton-per-bot liveness record
// maintained by the Status Writer (spec §4.8).
package status

import (
	"time"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// State enumerates the lifecycle states a bot worker reports.
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateCrashed    State = "crashed"
	StateRestarting State = "restarting"
)

// BotStatus is the singleton-per-bot liveness record: exactly one row
// per bot instance, always written via upsert (spec §3).
type BotStatus struct {
	BotInstanceID int64
	Status        State
	StartedAt     *time.Time
	LastHeartbeat time.Time
	UptimeSeconds int64
	LastError     string
}

// NewBotStatus constructs the initial status row for a bot that is
// starting up.
func NewBotStatus(botInstanceID int64) (*BotStatus, error) {
	if botInstanceID == 0 {
		return nil, shared.NewDomainError("status", "New", shared.ErrInvalidInput, "bot_instance_id cannot be zero")
	}
	now := time.Now().UTC()
	return &BotStatus{
		BotInstanceID: botInstanceID,
		Status:        StateStarting,
		StartedAt:     &now,
		LastHeartbeat: now,
	}, nil
}

// Heartbeat records a liveness tick from a running worker, advancing
// LastHeartbeat and UptimeSeconds. Called on the Status Writer's fixed
// interval (spec §4.8, default 15s).
func (s *BotStatus) Heartbeat() {
	now := time.Now().UTC()
	s.LastHeartbeat = now
	if s.StartedAt != nil {
		s.UptimeSeconds = int64(now.Sub(*s.StartedAt).Seconds())
	}
	s.Status = StateRunning
}

// Transition moves the status to a new state, recording lastErr when
// transitioning to crashed.
func (s *BotStatus) Transition(state State, lastErr string) {
	s.Status = state
	s.LastHeartbeat = time.Now().UTC()
	if state == StateCrashed {
		s.LastError = lastErr
	}
	if state == StateStarting || state == StateRestarting {
		now := time.Now().UTC()
		s.StartedAt = &now
		s.UptimeSeconds = 0
	}
}

// IsStale reports whether the status hasn't heartbeated within
// threshold. The Bot Supervisor does not call it: it restarts a worker
// only when the worker's Run returns an error, so a worker that hangs
// without exiting is not detected there.
func (s *BotStatus) IsStale(threshold time.Duration) bool {
	return time.Since(s.LastHeartbeat) > threshold
}
