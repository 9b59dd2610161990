// Package telegram implements the interface layer's per-bot runtime: the
// Worker owns one bot.Instance's tgbotapi client, update pump, event
// dispatch, Command Worker (C7), and Status Writer (C8). The Bot
// Supervisor (C9) owns one Worker per startable bot.Instance.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nezuko-platform/nezuko-core/internal/application/commandworker"
	"github.com/nezuko-platform/nezuko-core/internal/application/enforcement"
	verificationapp "github.com/nezuko-platform/nezuko-core/internal/application/verification"
	"github.com/nezuko-platform/nezuko-core/internal/application/statuswriter"
	"github.com/nezuko-platform/nezuko-core/internal/domain/command"
	"github.com/nezuko-platform/nezuko-core/internal/domain/group"
	"github.com/nezuko-platform/nezuko-core/internal/domain/owner"
	"github.com/nezuko-platform/nezuko-core/internal/domain/status"
	infratelegram "github.com/nezuko-platform/nezuko-core/internal/infrastructure/external/telegram"
	"github.com/nezuko-platform/nezuko-core/internal/infrastructure/persistence/redis"
	"github.com/nezuko-platform/nezuko-core/internal/interface/telegram/event"
	"github.com/nezuko-platform/nezuko-core/internal/interface/telegram/middleware"
)

// MembershipCache is the subset of the Cache (C2) a Worker needs: it
// matches *redis.MembershipCache's actual signature (MembershipVerdict,
// not plain string) so that concrete type satisfies this interface
// without an adapter; membershipCacheAdapter below narrows it down to
// verificationapp.MembershipCache's plain-string convention.
type MembershipCache interface {
	Get(ctx context.Context, botInstanceID, channelID, userID int64) (redis.MembershipVerdict, bool)
	Set(ctx context.Context, botInstanceID, channelID, userID int64, verdict redis.MembershipVerdict) error
	Invalidate(ctx context.Context, botInstanceID, channelID, userID int64) error
	InvalidateChannel(ctx context.Context, botInstanceID, channelID int64) error
}

// APICallSink is the Verification Logger's (C10) RecordAPICall surface.
type APICallSink = infratelegram.APICallSink

// WorkerConfig bundles the per-process tunables a Worker needs - the
// scheduler intervals (spec §6) and the update-intake mode.
type WorkerConfig struct {
	UpdateMode     string // "polling" or "webhook"
	PollingTimeout time.Duration

	CommandPollInterval      time.Duration
	HeartbeatInterval        time.Duration
	ShutdownGrace            time.Duration
	StaleProcessingThreshold time.Duration
}

// WorkerDeps bundles every repository and cache a Worker needs to build
// its own Verification/Enforcement/Event/Command/Status stack for one
// bot instance.
type WorkerDeps struct {
	Groups    group.Repository
	Owners    owner.Repository
	Commands  command.Repository
	Status    status.Repository
	Cache     MembershipCache
	APISink   APICallSink
	VerifyLog verificationapp.LogSink

	// StatusPublisher is optional: when set, the Worker's Status Writer
	// fans every status transition out over it (spec §B's Redis pub/sub
	// dashboard fan-out). Nil means no live-update channel is wired.
	StatusPublisher statuswriter.Publisher
}

// Worker runs one bot.Instance: it owns the tgbotapi client, the
// Telegram Client Facade (C3), the Router (event dispatch + in-chat
// commands), the Command Worker (C7), and the Status Writer (C8).
type Worker struct {
	botInstanceID int64
	cfg           WorkerConfig
	logger        *slog.Logger

	client *tgbotapi.BotAPI
	facade *infratelegram.Facade
	router *Router

	commandWorker *commandworker.Worker
	statusWriter  *statuswriter.Writer
	recovery      *middleware.RecoveryMiddleware
	metrics       *middleware.MetricsMiddleware
	rateLimit     *middleware.RateLimiter

	wg sync.WaitGroup
}

// NewWorker constructs a Worker around an already-decrypted bot token.
// Token decryption (pkg/security.TokenCipher) happens one layer up, in
// the Bot Supervisor, since this package has no business handling the
// encryption key.
func NewWorker(botInstanceID int64, token string, cfg WorkerConfig, deps WorkerDeps, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: construct bot client: %w", err)
	}

	facade := infratelegram.NewFacade(botInstanceID, client, deps.APISink, logger)

	verifier := verificationapp.NewService(deps.Groups, membershipCacheAdapter{deps.Cache}, channelCheckerAdapter{facade}, deps.VerifyLog)
	enforcer := enforcement.NewService(facade)
	handlers := event.NewHandlers(botInstanceID, deps.Groups, verifier, enforcer, deps.Cache, logger)
	commands := NewCommandRouter(botInstanceID, deps.Groups, deps.Owners, chatResolverAdapter{facade}, facade, logger)
	router := NewRouter(handlers, commands)

	cmdWorker := commandworker.NewWorker(botInstanceID, deps.Commands, facade, deps.Cache, logger)

	statusWriter, err := statuswriter.NewWriter(botInstanceID, deps.Status, cfg.HeartbeatInterval, logger)
	if err != nil {
		return nil, fmt.Errorf("telegram: construct status writer: %w", err)
	}
	if deps.StatusPublisher != nil {
		statusWriter.SetPublisher(deps.StatusPublisher)
	}

	return &Worker{
		botInstanceID: botInstanceID,
		cfg:           cfg,
		logger:        logger.With("bot_instance_id", botInstanceID),
		client:        client,
		facade:        facade,
		router:        router,
		commandWorker: cmdWorker,
		statusWriter:  statusWriter,
		recovery:      middleware.NewRecoveryMiddleware(middleware.DefaultRecoveryConfig()),
		metrics:       middleware.NewMetricsMiddleware(middleware.DefaultMetricsConfig()),
		rateLimit:     middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()),
	}, nil
}

// Facade exposes the Worker's Telegram Client Facade. Webhook-delivered
// updates do not go through it: the HTTP interface layer calls
// HandleUpdate directly.
func (w *Worker) Facade() *infratelegram.Facade { return w.facade }

// ReportCrash writes a terminal "crashed" BotStatus row. Called by the
// Bot Supervisor (C9) once its restart policy gives up on this worker,
// so it satisfies the supervisor package's CrashReporter interface
// without that package needing to know about statuswriter.Writer.
func (w *Worker) ReportCrash(ctx context.Context, cause error) {
	w.statusWriter.Crashed(ctx, cause)
}

// HandleUpdate dispatches a single raw update through the Router,
// wrapped in panic recovery and metrics so one bad update cannot take
// down the Worker's update loop.
func (w *Worker) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	userID := updateUserID(update)
	if userID != 0 {
		if result := w.rateLimit.Check(ctx, userID); !result.Allowed {
			w.logger.Warn("dropping update, user rate limited", "user_id", userID, "banned", result.IsBanned)
			return
		}
	}

	label := updateLabel(update)
	rc := w.metrics.Start(label, userID)
	result := w.recovery.RecoverWithHandler(ctx, userID, label, func() error {
		w.router.Route(ctx, update, func(ctx context.Context, text string, showAlert bool) error {
			if update.CallbackQuery == nil {
				return nil
			}
			return w.facade.AnswerCallbackQuery(ctx, update.CallbackQuery.ID, text, showAlert)
		})
		return nil
	})
	if result.Recovered {
		w.logger.Error("recovered panic handling update", "update_id", update.UpdateID, "kind", label)
	}
	rc.EndSuccess()
}

// Run starts the update pump plus the Command Worker and Status Writer
// as sibling goroutines, and blocks until ctx is cancelled. Run honors
// cfg.ShutdownGrace: once ctx is done and the update loop has returned,
// it waits up to that long for the Command Worker and Status Writer
// goroutines to return before returning itself.
func (w *Worker) Run(ctx context.Context) error {
	if _, err := w.facade.GetMe(ctx); err != nil {
		return fmt.Errorf("telegram: verify bot token: %w", err)
	}

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.statusWriter.Run(ctx)
	}()
	go func() {
		defer w.wg.Done()
		w.commandWorker.Run(ctx)
	}()

	switch w.cfg.UpdateMode {
	case "webhook":
		// The HTTP interface layer owns the listener; it calls
		// HandleUpdate directly for every delivered update. Run simply
		// blocks here, supervising the sibling goroutines.
		<-ctx.Done()
	default:
		w.runPolling(ctx)
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.cfg.ShutdownGrace):
		w.logger.Warn("shutdown grace period elapsed with goroutines still running")
	}
	return nil
}

func (w *Worker) runPolling(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(w.cfg.PollingTimeout.Seconds())
	updates := w.client.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			w.client.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			w.HandleUpdate(ctx, update)
		}
	}
}

func updateLabel(u tgbotapi.Update) string {
	switch {
	case u.Message != nil && u.Message.IsCommand():
		return "/" + u.Message.Command()
	case u.Message != nil && len(u.Message.NewChatMembers) > 0:
		return "new_chat_member"
	case u.Message != nil:
		return "message"
	case u.ChatMember != nil:
		return "chat_member"
	case u.CallbackQuery != nil:
		return "callback_query"
	default:
		return "unknown"
	}
}

func updateUserID(u tgbotapi.Update) int64 {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID
	case u.ChatMember != nil && u.ChatMember.From != nil:
		return u.ChatMember.From.ID
	default:
		return 0
	}
}

// membershipCacheAdapter narrows MembershipCache down to
// verificationapp.MembershipCache's plain-string signature.
type membershipCacheAdapter struct{ c MembershipCache }

func (a membershipCacheAdapter) Get(ctx context.Context, botInstanceID, channelID, userID int64) (string, bool) {
	v, ok := a.c.Get(ctx, botInstanceID, channelID, userID)
	return string(v), ok
}

func (a membershipCacheAdapter) Set(ctx context.Context, botInstanceID, channelID, userID int64, verdict string) error {
	return a.c.Set(ctx, botInstanceID, channelID, userID, redis.MembershipVerdict(verdict))
}

// channelCheckerAdapter adapts *infratelegram.Facade's GetChatMember,
// which returns the infrastructure package's own MembershipStatus type,
// to verificationapp.ChannelChecker's locally-declared equivalent.
type channelCheckerAdapter struct{ f *infratelegram.Facade }

func (a channelCheckerAdapter) GetChatMember(ctx context.Context, chatID, userID int64) (verificationapp.MembershipStatus, error) {
	m, err := a.f.GetChatMember(ctx, chatID, userID)
	return verificationapp.MembershipStatus(m), err
}

// chatResolverAdapter adapts *infratelegram.Facade to this package's
// ChatResolver interface, converting between the infrastructure
// package's ChatInfo and this package's own.
type chatResolverAdapter struct{ f *infratelegram.Facade }

func (a chatResolverAdapter) GetChat(ctx context.Context, reference string) (ChatInfo, error) {
	info, err := a.f.GetChat(ctx, reference)
	return ChatInfo{ID: info.ID, Title: info.Title, Username: info.Username, InviteLink: info.InviteLink}, err
}

func (a chatResolverAdapter) IsGroupAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	return a.f.IsGroupAdmin(ctx, chatID, userID)
}
