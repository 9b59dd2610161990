// Package supervisor implements the Bot Supervisor (C9): it owns one
// running worker per startable bot.Instance, restarts a worker that
// exits with an error under a bounded backoff policy, and re-syncs the
// running set against the Persistence Gateway on a fixed interval so an
// owner activating, deactivating, or deleting a bot takes effect
// without a process restart (spec §4.9).
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nezuko-platform/nezuko-core/internal/domain/bot"
	"github.com/nezuko-platform/nezuko-core/pkg/security"
)

// Runner is the narrow surface a per-bot worker must expose to be
// supervised: block until ctx is cancelled or a fatal error occurs.
type Runner interface {
	Run(ctx context.Context) error
}

// CrashReporter is implemented by a Runner that can also record its own
// terminal failure (telegram.Worker.ReportCrash). Supervisor type-asserts
// for it rather than requiring it on Runner, so a Runner with no status
// row to write (e.g. in tests) still satisfies the minimum contract.
type CrashReporter interface {
	ReportCrash(ctx context.Context, cause error)
}

// Factory builds a Runner for one bot instance from its decrypted
// token. Supervisor never sees a plaintext token outside this call.
type Factory func(instance *bot.Instance, token string) (Runner, error)

// Locker guards against two supervisor processes starting the same bot
// instance at once (spec §B: Redis SetNX-based per-bot distributed
// lock). Optional - a nil Locker on Supervisor means single-process
// deployments skip locking entirely.
type Locker interface {
	// TryAcquire attempts to take the lock for key, held for ttl.
	// Returns false if another holder already has it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Config bounds the supervisor's sync cadence and restart policy.
type Config struct {
	// SyncInterval is how often the running set is reconciled against
	// bot.Repository.ListStartable (spec §6 supervisor_sync_interval).
	SyncInterval time.Duration

	// RestartDelay is how long to wait before restarting a worker that
	// exited with an error.
	RestartDelay time.Duration

	// RestartWindow and MaxRestarts bound the restart policy: a worker
	// that fails MaxRestarts times within RestartWindow is given up on
	// and marked crashed rather than restarted indefinitely.
	RestartWindow time.Duration
	MaxRestarts   int
}

// DefaultConfig returns the default restart policy: wait 10s between
// restarts, give up after 3 restarts within 5 minutes.
func DefaultConfig() Config {
	return Config{
		SyncInterval:  30 * time.Second,
		RestartDelay:  10 * time.Second,
		RestartWindow: 5 * time.Minute,
		MaxRestarts:   3,
	}
}

// managedWorker tracks one running bot.Instance's lifecycle. tokenCiphertext
// is the ciphertext the running worker was built from, stashed so sync can
// detect a token rotation even though the worker itself only ever sees the
// decrypted token.
type managedWorker struct {
	instance        *bot.Instance
	tokenCiphertext []byte
	cancel          context.CancelFunc
	done            chan struct{}

	mu       sync.Mutex
	restarts []time.Time
}

// Supervisor owns the running set of per-bot workers.
type Supervisor struct {
	bots    bot.Repository
	cipher  *security.TokenCipher
	factory Factory
	cfg     Config
	logger  *slog.Logger
	locker  Locker

	mu      sync.Mutex
	running map[int64]*managedWorker
}

// New constructs a Bot Supervisor. cipher decrypts each instance's
// TokenCiphertext before handing the plaintext token to factory.
func New(bots bot.Repository, cipher *security.TokenCipher, factory Factory, cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SyncInterval <= 0 || cfg.RestartDelay <= 0 || cfg.RestartWindow <= 0 || cfg.MaxRestarts <= 0 {
		cfg = DefaultConfig()
	}
	return &Supervisor{
		bots:    bots,
		cipher:  cipher,
		factory: factory,
		cfg:     cfg,
		logger:  logger,
		running: make(map[int64]*managedWorker),
	}
}

// SetLocker attaches a distributed Locker. When set, sync acquires a
// per-bot-instance lock before starting a worker and releases it when
// the worker stops, so two supervisor processes sharing the same bot
// repository never both run the same bot instance. Call before Run.
func (s *Supervisor) SetLocker(l Locker) {
	s.locker = l
}

func lockKey(botInstanceID int64) string {
	return fmt.Sprintf("supervisor:lock:%d", botInstanceID)
}

// Run syncs the running set immediately, then on every SyncInterval
// tick, until ctx is cancelled; on cancellation it stops every running
// worker and waits for them to drain.
func (s *Supervisor) Run(ctx context.Context) error {
	s.sync(ctx)

	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return nil
		case <-ticker.C:
			s.sync(ctx)
		}
	}
}

// sync lists the currently-startable bot instances and reconciles the
// running set: starts new ones, restarts any whose token changed, and
// stops ones no longer startable.
func (s *Supervisor) sync(ctx context.Context) {
	instances, err := s.bots.ListStartable(ctx)
	if err != nil {
		s.logger.Error("supervisor: failed to list startable bot instances", "error", err)
		return
	}

	startable := make(map[int64]*bot.Instance, len(instances))
	for _, inst := range instances {
		startable[inst.ID] = inst
	}

	s.mu.Lock()
	toStop := make([]*managedWorker, 0)
	rotated := make(map[int64]bool)
	for id, mw := range s.running {
		inst, ok := startable[id]
		if !ok {
			toStop = append(toStop, mw)
			delete(s.running, id)
			continue
		}
		if !bytes.Equal(inst.TokenCiphertext, mw.tokenCiphertext) {
			rotated[id] = true
			toStop = append(toStop, mw)
			delete(s.running, id)
		}
	}
	s.mu.Unlock()

	for _, mw := range toStop {
		if rotated[mw.instance.ID] {
			s.logger.Info("supervisor: bot token rotated, restarting worker", "bot_instance_id", mw.instance.ID)
		} else {
			s.logger.Info("supervisor: stopping bot instance no longer startable", "bot_instance_id", mw.instance.ID)
		}
		mw.cancel()
		<-mw.done
	}

	for _, inst := range instances {
		s.mu.Lock()
		_, running := s.running[inst.ID]
		s.mu.Unlock()
		if running {
			continue
		}
		s.start(ctx, inst)
	}
}

// start acquires the instance's distributed lock (if a Locker is set),
// decrypts its token, builds a Runner via the factory, and spawns its
// supervised goroutine.
func (s *Supervisor) start(parent context.Context, instance *bot.Instance) {
	if s.locker != nil {
		acquired, err := s.locker.TryAcquire(parent, lockKey(instance.ID), s.cfg.SyncInterval*2)
		if err != nil {
			s.logger.Error("supervisor: failed to acquire distributed lock", "bot_instance_id", instance.ID, "error", err)
			return
		}
		if !acquired {
			s.logger.Debug("supervisor: bot instance locked by another process", "bot_instance_id", instance.ID)
			return
		}
	}

	token, err := s.cipher.Decrypt(string(instance.TokenCiphertext))
	if err != nil {
		s.logger.Error("supervisor: failed to decrypt bot token", "bot_instance_id", instance.ID, "error", err)
		s.releaseLock(instance.ID)
		return
	}

	runner, err := s.factory(instance, token)
	if err != nil {
		s.logger.Error("supervisor: failed to construct worker", "bot_instance_id", instance.ID, "error", err)
		s.releaseLock(instance.ID)
		return
	}

	workerCtx, cancel := context.WithCancel(parent)
	mw := &managedWorker{instance: instance, tokenCiphertext: instance.TokenCiphertext, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.running[instance.ID] = mw
	s.mu.Unlock()

	go func() {
		s.supervise(workerCtx, mw, runner)
		s.releaseLock(instance.ID)
	}()
}

// releaseLock is a no-op when no Locker is attached.
func (s *Supervisor) releaseLock(botInstanceID int64) {
	if s.locker == nil {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.locker.Release(releaseCtx, lockKey(botInstanceID)); err != nil {
		s.logger.Warn("supervisor: failed to release distributed lock", "bot_instance_id", botInstanceID, "error", err)
	}
}

// supervise runs runner to completion, under a panic boundary, and
// applies the restart policy on error exits: wait RestartDelay and
// rebuild a fresh Runner via the factory, unless the instance has
// failed MaxRestarts times within RestartWindow, in which case it
// reports a crash and gives up.
func (s *Supervisor) supervise(ctx context.Context, mw *managedWorker, runner Runner) {
	defer close(mw.done)

	for {
		err := s.runOnce(ctx, runner)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}

		s.logger.Error("supervisor: bot worker exited with error", "bot_instance_id", mw.instance.ID, "error", err)

		if s.recordRestart(mw) > s.cfg.MaxRestarts {
			s.logger.Error("supervisor: bot worker exceeded restart budget, giving up", "bot_instance_id", mw.instance.ID)
			if reporter, ok := runner.(CrashReporter); ok {
				reportCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				reporter.ReportCrash(reportCtx, err)
				cancel()
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RestartDelay):
		}

		token, decErr := s.cipher.Decrypt(string(mw.instance.TokenCiphertext))
		if decErr != nil {
			s.logger.Error("supervisor: failed to decrypt bot token on restart", "bot_instance_id", mw.instance.ID, "error", decErr)
			return
		}
		fresh, buildErr := s.factory(mw.instance, token)
		if buildErr != nil {
			s.logger.Error("supervisor: failed to rebuild worker on restart", "bot_instance_id", mw.instance.ID, "error", buildErr)
			return
		}
		runner = fresh
	}
}

// runOnce isolates one Runner.Run call behind a recover boundary so a
// panic in one bot's worker never takes down the supervisor process or
// any other bot's worker.
func (s *Supervisor) runOnce(ctx context.Context, runner Runner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("supervisor: worker panicked: %v", r)
		}
	}()
	return runner.Run(ctx)
}

// recordRestart appends a restart timestamp, prunes entries older than
// RestartWindow, and returns the number remaining in the window.
func (s *Supervisor) recordRestart(mw *managedWorker) int {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	now := time.Now()
	mw.restarts = append(mw.restarts, now)
	cutoff := now.Add(-s.cfg.RestartWindow)
	fresh := mw.restarts[:0]
	for _, t := range mw.restarts {
		if t.After(cutoff) {
			fresh = append(fresh, t)
		}
	}
	mw.restarts = fresh
	return len(mw.restarts)
}

// stopAll cancels every running worker and waits for each to drain.
func (s *Supervisor) stopAll() {
	s.mu.Lock()
	workers := make([]*managedWorker, 0, len(s.running))
	for _, mw := range s.running {
		workers = append(workers, mw)
	}
	s.running = make(map[int64]*managedWorker)
	s.mu.Unlock()

	for _, mw := range workers {
		mw.cancel()
	}
	for _, mw := range workers {
		<-mw.done
	}
}
