package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTelegramID_RejectsZero(t *testing.T) {
	_, err := NewTelegramID(0)
	assert.Error(t, err)
}

func TestTelegramID_IsGroupOrChannel(t *testing.T) {
	group, err := NewTelegramID(-1001234567890)
	require.NoError(t, err)
	assert.True(t, group.IsGroupOrChannel())

	user, err := NewTelegramID(42)
	require.NoError(t, err)
	assert.False(t, user.IsGroupOrChannel())
}

func TestTimeRange_Contains(t *testing.T) {
	now := time.Now()
	tr, err := NewTimeRange(now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, tr.Contains(now))
	assert.False(t, tr.Contains(now.Add(-2*time.Hour)))
}

func TestNewTimeRange_RejectsInverted(t *testing.T) {
	now := time.Now()
	_, err := NewTimeRange(now, now.Add(-time.Hour))
	assert.Error(t, err)
}

func TestPagination_OffsetAndLimit(t *testing.T) {
	p := NewPagination(3, 10)
	assert.Equal(t, 20, p.Offset())
	assert.Equal(t, 10, p.Limit())
}

func TestPagination_ClampsPageSize(t *testing.T) {
	p := NewPagination(1, 1000)
	assert.Equal(t, MaxPageSize, p.Limit())
}
