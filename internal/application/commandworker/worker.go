// Package commandworker implements the Command Worker (C7): drains the
// admin_commands queue for one bot and executes typed commands (spec
// §4.7).
package commandworker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nezuko-platform/nezuko-core/internal/domain/command"
	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

const (
	// pollInterval is the fallback sleep between claim attempts (spec
	// §4.7 step 1).
	pollInterval = time.Second

	// claimBatchSize bounds how many commands are claimed per cycle.
	claimBatchSize = 10

	// staleProcessingThreshold is passed to ReapStaleProcessing on
	// worker startup.
	staleProcessingThreshold = 30 * time.Second

	// maxFailures is the in-process failure count at which a command is
	// logged as having exceeded its failure budget. Fail marks a command
	// failed on its first failed attempt and failed rows are never
	// claimed again, so a failed command is not retried.
	maxFailures = 3

	// errorTextLimit truncates a failure reason to fit the error column.
	errorTextLimit = 500
)

// Facade is the subset of the Telegram Client Facade (C3) the Command
// Worker dispatches to.
type Facade interface {
	BanChatMember(ctx context.Context, chatID, userID int64) error
	UnbanChatMember(ctx context.Context, chatID, userID int64) error
	SendMessage(ctx context.Context, chatID int64, text string, replyMarkup *tgbotapi.InlineKeyboardMarkup) (int, error)
}

// CacheInvalidator abstracts the membership cache's invalidation
// operation used by resync_channel.
type CacheInvalidator interface {
	InvalidateChannel(ctx context.Context, botInstanceID, channelID int64) error
}

// Worker drains one bot's admin_commands queue, per spec §4.7.
type Worker struct {
	botInstanceID int64
	repo          command.Repository
	facade        Facade
	cache         CacheInvalidator
	logger        *slog.Logger

	wakeCh chan struct{}

	failuresMu sync.Mutex
	failures   map[string]int
}

// NewWorker constructs a Command Worker for one bot instance.
func NewWorker(botInstanceID int64, repo command.Repository, facade Facade, cache CacheInvalidator, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		botInstanceID: botInstanceID,
		repo:          repo,
		facade:        facade,
		cache:         cache,
		logger:        logger,
		wakeCh:        make(chan struct{}, 1),
		failures:      make(map[string]int),
	}
}

// Wake requests an immediate poll cycle, bypassing pollInterval - used
// by a dashboard-sent wake signal (spec §4.7 step 1).
func (w *Worker) Wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled. On entry it reaps any
// commands left stranded in "processing" by a prior crash (spec §4.7
// Recovery).
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.repo.ReapStaleProcessing(ctx, staleProcessingThreshold); err != nil {
		w.logger.Error("failed to reap stale processing commands", "bot_instance_id", w.botInstanceID, "error", err)
	} else if n > 0 {
		w.logger.Warn("reaped stale processing commands", "bot_instance_id", w.botInstanceID, "count", n)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drainOnce(ctx)
		case <-w.wakeCh:
			w.drainOnce(ctx)
		}
	}
}

func (w *Worker) drainOnce(ctx context.Context) {
	commands, err := w.repo.ClaimNextPending(ctx, w.botInstanceID, claimBatchSize)
	if err != nil {
		w.logger.Error("failed to claim pending commands", "bot_instance_id", w.botInstanceID, "error", err)
		return
	}
	for _, c := range commands {
		w.execute(ctx, c)
	}
}

func (w *Worker) execute(ctx context.Context, c *command.Command) {
	err := w.dispatch(ctx, c)
	if err == nil {
		if err := w.repo.Complete(ctx, c.ID); err != nil {
			w.logger.Error("failed to mark command completed", "command_id", c.ID, "error", err)
		}
		w.clearFailures(c.ID)
		return
	}

	attempts := w.recordFailure(c.ID)
	reason := truncate(err.Error(), errorTextLimit)
	if failErr := w.repo.Fail(ctx, c.ID, reason); failErr != nil {
		w.logger.Error("failed to mark command failed", "command_id", c.ID, "error", failErr)
	}
	if attempts >= maxFailures {
		w.logger.Error("command exceeded failure budget, leaving terminally failed", "command_id", c.ID, "type", c.Type, "attempts", attempts)
		w.clearFailures(c.ID)
	}
}

// dispatch executes one claimed command per its type (spec §4.7 step 3).
func (w *Worker) dispatch(ctx context.Context, c *command.Command) error {
	switch c.Type {
	case command.TypeBanUser:
		p, err := c.DecodeBanUserPayload()
		if err != nil {
			return err
		}
		return w.facade.BanChatMember(ctx, p.GroupID, p.UserID)

	case command.TypeUnbanUser:
		p, err := c.DecodeBanUserPayload()
		if err != nil {
			return err
		}
		return w.facade.UnbanChatMember(ctx, p.GroupID, p.UserID)

	case command.TypeResyncGroup:
		// Acknowledged only: the worker has no view of the group's
		// linked channels or of its recent users, so no cache keys are
		// invalidated and no user is re-verified. The group's cached
		// verdicts expire on their own TTLs.
		p, err := c.DecodeResyncPayload()
		if err != nil {
			return err
		}
		w.logger.Info("resync_group command acknowledged (no cache invalidation or re-verification)", "group_id", p.TargetID)
		return nil

	case command.TypeResyncChannel:
		p, err := c.DecodeResyncPayload()
		if err != nil {
			return err
		}
		return w.cache.InvalidateChannel(ctx, w.botInstanceID, p.TargetID)

	case command.TypeSendMessage:
		p, err := c.DecodeSendMessagePayload()
		if err != nil {
			return err
		}
		_, err = w.facade.SendMessage(ctx, p.ChatID, p.Text, nil)
		return err

	default:
		return shared.ErrCommandTypeUnknown
	}
}

func (w *Worker) recordFailure(id string) int {
	w.failuresMu.Lock()
	defer w.failuresMu.Unlock()
	w.failures[id]++
	return w.failures[id]
}

func (w *Worker) clearFailures(id string) {
	w.failuresMu.Lock()
	defer w.failuresMu.Unlock()
	delete(w.failures, id)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
