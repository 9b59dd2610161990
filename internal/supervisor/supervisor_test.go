package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nezuko-platform/nezuko-core/internal/domain/bot"
	"github.com/nezuko-platform/nezuko-core/pkg/security"
)

// testEncryptionKey is a fixed base64-encoded 32-byte key, used only in
// tests - never a real deployment secret.
const testEncryptionKey = "j3eq9i2lYD1x5VYVNwbZRP9tr7rOUBQ99wDU/+2Wb3M="

type fakeBotRepo struct {
	bot.Repository

	mu         sync.Mutex
	startable  []*bot.Instance
}

func (r *fakeBotRepo) ListStartable(ctx context.Context) ([]*bot.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*bot.Instance, len(r.startable))
	copy(out, r.startable)
	return out, nil
}

func (r *fakeBotRepo) setStartable(instances ...*bot.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startable = instances
}

func newTestInstance(t *testing.T, id int64, cipher *security.TokenCipher) *bot.Instance {
	t.Helper()
	ciphertext, err := cipher.Encrypt("test-token")
	require.NoError(t, err)
	return &bot.Instance{ID: id, BotID: id, BotUsername: "testbot", TokenCiphertext: []byte(ciphertext), IsActive: true}
}

// blockingRunner runs until ctx is cancelled, then returns nil - models
// a healthy worker stopped by the supervisor.
type blockingRunner struct {
	started chan struct{}
	once    sync.Once
}

func (r *blockingRunner) Run(ctx context.Context) error {
	r.once.Do(func() { close(r.started) })
	<-ctx.Done()
	return nil
}

// failingRunner returns an error immediately every time it's run,
// modelling a worker that keeps crashing on startup.
type failingRunner struct {
	runs    int
	mu      sync.Mutex
	crashed bool
}

func (r *failingRunner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	return errors.New("boom")
}

func (r *failingRunner) ReportCrash(ctx context.Context, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crashed = true
}

func TestSupervisor_StartsAndStopsOnSync(t *testing.T) {
	cipher, err := security.NewTokenCipher(testEncryptionKey)
	require.NoError(t, err)

	repo := &fakeBotRepo{}
	inst := newTestInstance(t, 1, cipher)
	repo.setStartable(inst)

	runner := &blockingRunner{started: make(chan struct{})}
	factory := func(i *bot.Instance, token string) (Runner, error) {
		assert.Equal(t, "test-token", token)
		return runner, nil
	}

	cfg := DefaultConfig()
	cfg.SyncInterval = 20 * time.Millisecond
	sv := New(repo, cipher, factory, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sv.Run(ctx)
		close(done)
	}()

	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("worker was never started")
	}

	// Deactivate: the next sync tick should stop it.
	repo.setStartable()
	time.Sleep(100 * time.Millisecond)

	sv.mu.Lock()
	_, stillRunning := sv.running[1]
	sv.mu.Unlock()
	assert.False(t, stillRunning)

	cancel()
	<-done
}

func TestSupervisor_SyncRestartsWorkerOnTokenRotation(t *testing.T) {
	cipher, err := security.NewTokenCipher(testEncryptionKey)
	require.NoError(t, err)

	repo := &fakeBotRepo{}
	inst := newTestInstance(t, 5, cipher)
	repo.setStartable(inst)

	var built []string
	var mu sync.Mutex
	factory := func(i *bot.Instance, token string) (Runner, error) {
		mu.Lock()
		built = append(built, token)
		mu.Unlock()
		return &blockingRunner{started: make(chan struct{})}, nil
	}

	sv := New(repo, cipher, factory, DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sv.sync(ctx)
	sv.mu.Lock()
	firstWorker := sv.running[inst.ID]
	sv.mu.Unlock()
	require.NotNil(t, firstWorker)

	rotatedCiphertext, err := cipher.Encrypt("rotated-token")
	require.NoError(t, err)
	rotated := &bot.Instance{ID: inst.ID, BotID: inst.ID, BotUsername: inst.BotUsername, TokenCiphertext: []byte(rotatedCiphertext), IsActive: true}
	repo.setStartable(rotated)

	sv.sync(ctx)

	sv.mu.Lock()
	secondWorker := sv.running[inst.ID]
	sv.mu.Unlock()
	require.NotNil(t, secondWorker)
	assert.NotSame(t, firstWorker, secondWorker, "sync should have stopped and rebuilt the worker on token rotation")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, built, 2)
	assert.Equal(t, "test-token", built[0])
	assert.Equal(t, "rotated-token", built[1])
}

func TestSupervisor_RestartPolicyGivesUpAndReportsCrash(t *testing.T) {
	cipher, err := security.NewTokenCipher(testEncryptionKey)
	require.NoError(t, err)

	repo := &fakeBotRepo{}
	inst := newTestInstance(t, 2, cipher)
	repo.setStartable(inst)

	runner := &failingRunner{}
	factory := func(i *bot.Instance, token string) (Runner, error) {
		return runner, nil
	}

	cfg := Config{SyncInterval: time.Hour, RestartDelay: time.Millisecond, RestartWindow: time.Minute, MaxRestarts: 2}
	sv := New(repo, cipher, factory, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sv.start(ctx, inst)
	sv.mu.Lock()
	mw := sv.running[inst.ID]
	sv.mu.Unlock()

	select {
	case <-mw.done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervised worker never gave up")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.GreaterOrEqual(t, runner.runs, 3)
	assert.True(t, runner.crashed)
}

func TestSupervisor_PanicInRunnerIsRecovered(t *testing.T) {
	sv := &Supervisor{logger: nil}
	sv.logger = nil

	panicky := runnerFunc(func(ctx context.Context) error {
		panic("kaboom")
	})

	err := sv.runOnce(context.Background(), panicky)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

// fakeLocker models a Redis SetNX lock already held by another process:
// every TryAcquire call fails.
type fakeLocker struct {
	mu       sync.Mutex
	acquired map[string]bool
	deny     bool
}

func (l *fakeLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny {
		return false, nil
	}
	if l.acquired == nil {
		l.acquired = make(map[string]bool)
	}
	if l.acquired[key] {
		return false, nil
	}
	l.acquired[key] = true
	return true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.acquired, key)
	return nil
}

func TestSupervisor_SkipsStartWhenLockDenied(t *testing.T) {
	cipher, err := security.NewTokenCipher(testEncryptionKey)
	require.NoError(t, err)

	repo := &fakeBotRepo{}
	inst := newTestInstance(t, 3, cipher)
	repo.setStartable(inst)

	runner := &blockingRunner{started: make(chan struct{})}
	factory := func(i *bot.Instance, token string) (Runner, error) {
		return runner, nil
	}

	sv := New(repo, cipher, factory, DefaultConfig(), nil)
	sv.SetLocker(&fakeLocker{deny: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sv.sync(ctx)

	sv.mu.Lock()
	_, running := sv.running[inst.ID]
	sv.mu.Unlock()
	assert.False(t, running, "start should have skipped an instance it couldn't lock")

	select {
	case <-runner.started:
		t.Fatal("runner should never have started")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSupervisor_ReleasesLockWhenWorkerStops(t *testing.T) {
	cipher, err := security.NewTokenCipher(testEncryptionKey)
	require.NoError(t, err)

	repo := &fakeBotRepo{}
	inst := newTestInstance(t, 4, cipher)
	repo.setStartable(inst)

	runner := &blockingRunner{started: make(chan struct{})}
	factory := func(i *bot.Instance, token string) (Runner, error) {
		return runner, nil
	}

	sv := New(repo, cipher, factory, DefaultConfig(), nil)
	locker := &fakeLocker{}
	sv.SetLocker(locker)

	ctx, cancel := context.WithCancel(context.Background())
	sv.start(ctx, inst)

	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("worker was never started")
	}

	locker.mu.Lock()
	held := locker.acquired[lockKey(inst.ID)]
	locker.mu.Unlock()
	assert.True(t, held, "starting a worker should have acquired its lock")

	sv.mu.Lock()
	mw := sv.running[inst.ID]
	sv.mu.Unlock()
	cancel()
	<-mw.done

	// releaseLock runs in the goroutine right after supervise returns;
	// give it a moment to land.
	require.Eventually(t, func() bool {
		locker.mu.Lock()
		defer locker.mu.Unlock()
		return !locker.acquired[lockKey(inst.ID)]
	}, time.Second, 10*time.Millisecond, "lock should be released once the worker stops")
}
