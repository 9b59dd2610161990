package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesRetryableErrorUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("transient"))
		}
		return nil
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond), WithJitter(0))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	sentinel := errors.New("denied")
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	}, WithMaxAttempts(5))
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, sentinel)
}

func TestDo_ExhaustsAttemptsAndUnwrapsRetryable(t *testing.T) {
	calls := 0
	sentinel := errors.New("still failing")
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(sentinel)
	}, WithMaxAttempts(3), WithInitialDelay(time.Millisecond), WithJitter(0))
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, sentinel)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return Retryable(errors.New("transient"))
	}, WithMaxAttempts(5), WithInitialDelay(10*time.Millisecond))
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestTelegramRetrier_Config(t *testing.T) {
	r := TelegramRetrier()
	require.NotNil(t, r)
	assert.Equal(t, 3, r.config.MaxAttempts)
	assert.Equal(t, 2*time.Second, r.config.InitialDelay)
	assert.Equal(t, 10*time.Second, r.config.MaxDelay)
}

func TestDatabaseRetrier_Config(t *testing.T) {
	r := DatabaseRetrier()
	require.NotNil(t, r)
	assert.Equal(t, 3, r.config.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, r.config.InitialDelay)
	assert.Equal(t, 500*time.Millisecond, r.config.MaxDelay)
}
