// Package statuswriter implements the Status Writer (C8): periodically
// upserts a bot's liveness row so dashboards can render status without a
// push channel (spec §4.8).
package statuswriter

import (
	"context"
	"log/slog"
	"time"

	"github.com/nezuko-platform/nezuko-core/internal/domain/status"
)

// defaultInterval matches spec §4.8's "every 15 seconds" and the
// ambient stack's heartbeat_interval_seconds default.
const defaultInterval = 15 * time.Second

// Publisher fans a status transition out to anything subscribed for
// live updates (spec §B: Redis pub/sub "fan-out of status changes to
// interested dashboard readers"). A nil Publisher is a silent no-op -
// most tests and any deployment without a live-update surface never
// need one.
type Publisher interface {
	PublishStatus(ctx context.Context, botInstanceID int64, state status.State) error
}

// Writer owns one bot's BotStatus row, upserting on a fixed interval
// and on lifecycle transitions (stopped, crashed).
type Writer struct {
	repo      status.Repository
	interval  time.Duration
	logger    *slog.Logger
	publisher Publisher

	current *status.BotStatus
}

// SetPublisher attaches a Publisher the Writer notifies on each state
// transition it writes (the initial starting row, stopped, crashed),
// whether or not that Upsert succeeded; heartbeat ticks are not
// published. Optional; call before Run.
func (w *Writer) SetPublisher(p Publisher) {
	w.publisher = p
}

func (w *Writer) publish(ctx context.Context, state status.State) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.PublishStatus(ctx, w.current.BotInstanceID, state); err != nil {
		w.logger.Warn("failed to publish bot status change", "bot_instance_id", w.current.BotInstanceID, "error", err)
	}
}

// NewWriter constructs a Status Writer for one bot instance, already in
// the "starting" state.
func NewWriter(botInstanceID int64, repo status.Repository, interval time.Duration, logger *slog.Logger) (*Writer, error) {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	s, err := status.NewBotStatus(botInstanceID)
	if err != nil {
		return nil, err
	}
	return &Writer{repo: repo, interval: interval, logger: logger, current: s}, nil
}

// Run upserts the status row on every tick until ctx is cancelled, then
// writes a final "stopped" row (spec §4.8 "on graceful shutdown, write
// stopped").
func (w *Writer) Run(ctx context.Context) {
	if err := w.repo.Upsert(ctx, w.current); err != nil {
		w.logger.Error("failed to write initial bot status", "bot_instance_id", w.current.BotInstanceID, "error", err)
	}
	w.publish(ctx, w.current.Status)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.current.Transition(status.StateStopped, "")
			// Use a detached context: ctx is already cancelled and a
			// shutdown write must still reach the database.
			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := w.repo.Upsert(writeCtx, w.current); err != nil {
				w.logger.Error("failed to write stopped bot status", "bot_instance_id", w.current.BotInstanceID, "error", err)
			}
			w.publish(writeCtx, w.current.Status)
			return
		case <-ticker.C:
			w.current.Heartbeat()
			if err := w.repo.Upsert(ctx, w.current); err != nil {
				w.logger.Error("failed to write bot status heartbeat", "bot_instance_id", w.current.BotInstanceID, "error", err)
			}
		}
	}
}

// Crashed writes a terminal "crashed" status with the captured error -
// called through the worker's ReportCrash when the Bot Supervisor gives
// up on it after MaxRestarts failures within RestartWindow (spec §4.8,
// §4.9).
func (w *Writer) Crashed(ctx context.Context, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	w.current.Transition(status.StateCrashed, reason)
	if err := w.repo.Upsert(ctx, w.current); err != nil {
		w.logger.Error("failed to write crashed bot status", "bot_instance_id", w.current.BotInstanceID, "error", err)
	}
	w.publish(ctx, w.current.Status)
}
