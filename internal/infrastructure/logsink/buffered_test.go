package logsink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
	"github.com/nezuko-platform/nezuko-core/internal/domain/verification"
)

type fakeRepo struct {
	mu            sync.Mutex
	verifications []*verification.Log
	apiCalls      []*verification.APICallLog
}

func (f *fakeRepo) RecordVerifications(ctx context.Context, logs []*verification.Log) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifications = append(f.verifications, logs...)
	return nil
}

func (f *fakeRepo) RecordAPICalls(ctx context.Context, logs []*verification.APICallLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiCalls = append(f.apiCalls, logs...)
	return nil
}

func (f *fakeRepo) ListRecentVerifications(ctx context.Context, botInstanceID int64, limit int) ([]*verification.Log, error) {
	return nil, nil
}

func (f *fakeRepo) DeleteVerificationsOlderThan(ctx context.Context, window shared.TimeRange) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) DeleteAPICallsOlderThan(ctx context.Context, window shared.TimeRange) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) count() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.verifications), len(f.apiCalls)
}

func TestLogger_DrainsBufferedRows(t *testing.T) {
	repo := &fakeRepo{}
	l := New(repo, nil)
	defer l.Close()

	l.RecordVerification(&verification.Log{BotInstanceID: 1})
	l.RecordAPICall(&verification.APICallLog{BotInstanceID: 1, Method: "sendMessage"})

	require.Eventually(t, func() bool {
		v, a := repo.count()
		return v == 1 && a == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRing_DropsOldestOnOverflow(t *testing.T) {
	r := newRing[int](2)
	var warnCount int
	r.push(1, func() { warnCount++ })
	r.push(2, func() { warnCount++ })
	r.push(3, func() { warnCount++ }) // evicts 1

	got := r.drain(10)
	assert.Equal(t, []int{2, 3}, got)
	assert.Equal(t, 1, warnCount)
	assert.EqualValues(t, 1, r.droppedCount())
}

func TestLogger_CloseFlushesRemaining(t *testing.T) {
	repo := &fakeRepo{}
	l := New(repo, nil)

	for i := 0; i < 1200; i++ {
		l.RecordVerification(&verification.Log{BotInstanceID: int64(i)})
	}
	require.NoError(t, l.Close())

	v, _ := repo.count()
	assert.Equal(t, 1200, v)
}
