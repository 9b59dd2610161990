package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBotStatus_RejectsZeroID(t *testing.T) {
	_, err := NewBotStatus(0)
	assert.Error(t, err)
}

func TestNewBotStatus_OK(t *testing.T) {
	s, err := NewBotStatus(7)
	require.NoError(t, err)
	assert.Equal(t, StateStarting, s.Status)
	require.NotNil(t, s.StartedAt)
}

func TestBotStatus_Heartbeat_SetsRunningAndUptime(t *testing.T) {
	s, _ := NewBotStatus(7)
	started := s.StartedAt.Add(-10 * time.Second)
	s.StartedAt = &started

	s.Heartbeat()
	assert.Equal(t, StateRunning, s.Status)
	assert.GreaterOrEqual(t, s.UptimeSeconds, int64(10))
}

func TestBotStatus_Transition_Crashed_RecordsError(t *testing.T) {
	s, _ := NewBotStatus(7)
	s.Transition(StateCrashed, "panic: nil pointer")
	assert.Equal(t, StateCrashed, s.Status)
	assert.Equal(t, "panic: nil pointer", s.LastError)
}

func TestBotStatus_IsStale(t *testing.T) {
	s, _ := NewBotStatus(7)
	s.LastHeartbeat = time.Now().Add(-time.Hour)
	assert.True(t, s.IsStale(time.Minute))
	assert.False(t, s.IsStale(2*time.Hour))
}
