package statuswriter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nezuko-platform/nezuko-core/internal/domain/status"
)

type fakeRepo struct {
	mu      sync.Mutex
	upserts []status.State
}

func (f *fakeRepo) Upsert(ctx context.Context, s *status.BotStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, s.Status)
	return nil
}

func (f *fakeRepo) FindByBotInstanceID(ctx context.Context, botInstanceID int64) (*status.BotStatus, error) {
	return nil, nil
}

func (f *fakeRepo) ListAll(ctx context.Context) ([]*status.BotStatus, error) { return nil, nil }

func (f *fakeRepo) snapshot() []status.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]status.State, len(f.upserts))
	copy(out, f.upserts)
	return out
}

func TestWriter_RunWritesStartingThenStoppedOnCancel(t *testing.T) {
	repo := &fakeRepo{}
	w, err := NewWriter(1, repo, 10*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(repo.snapshot()) >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	got := repo.snapshot()
	require.NotEmpty(t, got)
	assert.Equal(t, status.StateStarting, got[0])
	assert.Equal(t, status.StateStopped, got[len(got)-1])
}

func TestWriter_Crashed(t *testing.T) {
	repo := &fakeRepo{}
	w, err := NewWriter(1, repo, time.Minute, nil)
	require.NoError(t, err)

	w.Crashed(context.Background(), assertErr{})

	got := repo.snapshot()
	require.NotEmpty(t, got)
	assert.Equal(t, status.StateCrashed, got[len(got)-1])
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
