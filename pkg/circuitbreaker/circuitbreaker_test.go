package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := New("test", WithFailureThreshold(3), WithTimeout(time.Minute))

	failing := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), failing)
	}

	assert.True(t, cb.IsOpen())
	err := cb.Execute(context.Background(), failing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenRecoversOnSuccess(t *testing.T) {
	cb := New("test", WithFailureThreshold(1), WithSuccessThreshold(1), WithTimeout(10*time.Millisecond))

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.True(t, cb.IsOpen())

	time.Sleep(15 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, cb.IsClosed())
}

func TestCircuitBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	cb := New("test", WithFailureThreshold(1), WithSuccessThreshold(2), WithTimeout(10*time.Millisecond))

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.True(t, cb.IsOpen())

	time.Sleep(15 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still broken") })
	require.Error(t, err)
	assert.True(t, cb.IsOpen())
}

func TestTelegramAPIBreaker_MatchesSpecDefaults(t *testing.T) {
	cb := TelegramAPIBreaker("telegram-api:sendMessage", nil)
	assert.Equal(t, "telegram-api:sendMessage", cb.Name())
	assert.Equal(t, 5, cb.config.FailureThreshold)
	assert.Equal(t, 60*time.Second, cb.config.Timeout)
	assert.Equal(t, 1, cb.config.MaxHalfOpenRequests)
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []State
	cb := New("test", WithFailureThreshold(1), WithOnStateChange(func(name string, from, to State) {
		transitions = append(transitions, to)
	}))

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })

	require.Len(t, transitions, 1)
	assert.Equal(t, StateOpen, transitions[0])
}
