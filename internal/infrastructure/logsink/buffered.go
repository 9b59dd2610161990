// Package logsink implements the Verification Logger (C10): a bounded,
// drop-oldest buffer that absorbs the high-frequency VerificationLog and
// ApiCallLog writes produced by the Verification Service (C4) and the
// Telegram Client Facade (C3) without putting database latency on their
// hot path (spec §4.10).
//
// Grounded on the teacher's BufferedEventBus
// (internal/infrastructure/messaging/eventbus.go): the same
// buffer-then-periodic-drain shape, but genuinely bounded - the teacher's
// buffer only flushes early past a size threshold and otherwise grows
// without limit, which spec §4.10 explicitly forbids ("drop oldest,
// increment a counter metric").
package logsink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nezuko-platform/nezuko-core/internal/domain/verification"
)

const (
	// ringCapacity bounds each of the two ring buffers (spec §4.10).
	ringCapacity = 10000

	// drainBatchSize is the maximum rows flushed per drain cycle.
	drainBatchSize = 500

	// drainInterval is the normal periodic drain cadence.
	drainInterval = 250 * time.Millisecond

	// earlyDrainThreshold triggers an out-of-cycle drain once a ring is
	// more than half full.
	earlyDrainThreshold = ringCapacity / 2

	// dropWarningInterval caps how often an overflow warning is logged.
	dropWarningInterval = time.Minute
)

// ring is a fixed-capacity FIFO buffer with drop-oldest overflow
// semantics, generic over the two log row types this package buffers.
type ring[T any] struct {
	mu    sync.Mutex
	items []T
	cap   int

	dropped    int64
	lastWarnAt time.Time
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{items: make([]T, 0, capacity), cap: capacity}
}

// push appends an item, dropping the oldest if the ring is full. Returns
// true if the ring crossed the early-drain threshold.
func (r *ring[T]) push(item T, onDrop func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) >= r.cap {
		r.items = r.items[1:]
		r.dropped++
		if time.Since(r.lastWarnAt) >= dropWarningInterval {
			r.lastWarnAt = time.Now()
			onDrop()
		}
	}
	r.items = append(r.items, item)
	return len(r.items) > earlyDrainThreshold
}

// drain removes and returns up to n items.
func (r *ring[T]) drain(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) == 0 {
		return nil
	}
	if n > len(r.items) {
		n = len(r.items)
	}
	batch := r.items[:n]
	r.items = r.items[n:]
	return batch
}

func (r *ring[T]) droppedCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Logger is the C10 component: producers call RecordVerification and
// RecordAPICall non-blockingly; a background drainer batches writes into
// the verification.Repository.
type Logger struct {
	repo   verification.Repository
	logger *slog.Logger

	verifications *ring[*verification.Log]
	apiCalls      *ring[*verification.APICallLog]

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Logger and starts its background drain loop. Call
// Close to flush remaining rows and stop the loop.
func New(repo verification.Repository, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		repo:          repo,
		logger:        logger,
		verifications: newRing[*verification.Log](ringCapacity),
		apiCalls:      newRing[*verification.APICallLog](ringCapacity),
		wakeCh:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
	l.wg.Add(1)
	go l.drainLoop()
	return l
}

// RecordVerification enqueues one verification verdict row. Never blocks
// and never returns an error - per spec §4.2/§4.4 the write path is
// fire-and-forget.
func (l *Logger) RecordVerification(row *verification.Log) {
	if row == nil {
		return
	}
	if l.verifications.push(row, func() {
		l.logger.Warn("verification log ring buffer overflow, dropping oldest", "dropped_total", l.verifications.droppedCount())
	}) {
		l.wake()
	}
}

// RecordAPICall enqueues one Telegram API call row. Implements
// telegram.APICallSink by structural typing.
func (l *Logger) RecordAPICall(row *verification.APICallLog) {
	if row == nil {
		return
	}
	if l.apiCalls.push(row, func() {
		l.logger.Warn("api call log ring buffer overflow, dropping oldest", "dropped_total", l.apiCalls.droppedCount())
	}) {
		l.wake()
	}
}

func (l *Logger) wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

func (l *Logger) drainLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			l.drainAll(context.Background())
			return
		case <-ticker.C:
			l.drainOnce(context.Background())
		case <-l.wakeCh:
			l.drainOnce(context.Background())
		}
	}
}

func (l *Logger) drainOnce(ctx context.Context) {
	if batch := l.verifications.drain(drainBatchSize); len(batch) > 0 {
		if err := l.repo.RecordVerifications(ctx, batch); err != nil {
			l.logger.Error("failed to flush verification logs", "error", err, "batch_size", len(batch))
		}
	}
	if batch := l.apiCalls.drain(drainBatchSize); len(batch) > 0 {
		if err := l.repo.RecordAPICalls(ctx, batch); err != nil {
			l.logger.Error("failed to flush api call logs", "error", err, "batch_size", len(batch))
		}
	}
}

// drainAll flushes every buffered row, looping past drainBatchSize -
// used only on shutdown, where blocking a little longer is acceptable.
func (l *Logger) drainAll(ctx context.Context) {
	for {
		if batch := l.verifications.drain(drainBatchSize); len(batch) > 0 {
			if err := l.repo.RecordVerifications(ctx, batch); err != nil {
				l.logger.Error("failed to flush verification logs on shutdown", "error", err, "batch_size", len(batch))
			}
			continue
		}
		break
	}
	for {
		if batch := l.apiCalls.drain(drainBatchSize); len(batch) > 0 {
			if err := l.repo.RecordAPICalls(ctx, batch); err != nil {
				l.logger.Error("failed to flush api call logs on shutdown", "error", err, "batch_size", len(batch))
			}
			continue
		}
		break
	}
}

// Close stops the drain loop after flushing whatever remains buffered.
func (l *Logger) Close() error {
	close(l.stopCh)
	l.wg.Wait()
	return nil
}
