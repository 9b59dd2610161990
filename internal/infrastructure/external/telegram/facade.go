// Package telegram implements the Telegram Client Facade (C3): the only
// component permitted to call the Telegram Bot API (spec §4.3). It owns
// rate limiting, retries, circuit breaking, and outbound-call
// instrumentation, and exposes a narrow, typed surface rather than the
// underlying client's full method set.
package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
	"github.com/nezuko-platform/nezuko-core/internal/domain/verification"
	"github.com/nezuko-platform/nezuko-core/pkg/circuitbreaker"
	"github.com/nezuko-platform/nezuko-core/pkg/retry"
)

// MembershipStatus is the facade's normalized view of a chat member's
// standing, collapsing Telegram's raw status strings per spec §4.4 step 2c.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active" // creator, administrator, member, or restricted-but-still-a-member
	MembershipInactive MembershipStatus = "left"   // left, kicked, or restricted-and-no-longer-a-member
)

// APICallSink receives one ApiCallLog row per outbound Telegram call, as
// spec §4.3 instrumentation requires. The Verification Logger (C10)
// implements this; a nil sink silently drops the rows.
type APICallSink interface {
	RecordAPICall(l *verification.APICallLog)
}

type noopSink struct{}

func (noopSink) RecordAPICall(*verification.APICallLog) {}

// Facade wraps a single bot's tgbotapi client with the resilience and
// instrumentation layers spec §4.3 requires. One Facade is owned per
// bot.Instance by the bot worker.
type Facade struct {
	botInstanceID int64
	client        *tgbotapi.BotAPI
	limiter       *RateLimiter
	retrier       *retry.Retrier
	sink          APICallSink
	logger        *slog.Logger

	breakersMu sync.Mutex
	breakers   map[string]*circuitbreaker.CircuitBreaker // keyed by Telegram method name
}

// NewFacade constructs a Facade around an already-authenticated tgbotapi
// client. Token decryption and client construction happen one layer up
// (the bot worker), since the facade itself has no business reading the
// ciphertext column.
func NewFacade(botInstanceID int64, client *tgbotapi.BotAPI, sink APICallSink, logger *slog.Logger) *Facade {
	if sink == nil {
		sink = noopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		botInstanceID: botInstanceID,
		client:        client,
		limiter:       NewRateLimiter(),
		retrier:       retry.TelegramRetrier(),
		sink:          sink,
		logger:        logger,
		breakers:      make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

func (f *Facade) breakerFor(method string) *circuitbreaker.CircuitBreaker {
	f.breakersMu.Lock()
	defer f.breakersMu.Unlock()
	cb, ok := f.breakers[method]
	if !ok {
		cb = circuitbreaker.TelegramAPIBreaker(method, func(name string, from, to circuitbreaker.State) {
			f.logger.Warn("telegram circuit breaker state change", "bot_instance_id", f.botInstanceID, "method", name, "from", from, "to", to)
		})
		f.breakers[method] = cb
	}
	return cb
}

// call runs op through the rate limiter, circuit breaker, and retrier for
// the given method/chat, and records an ApiCallLog regardless of outcome.
func (f *Facade) call(ctx context.Context, method string, chatID int64, isGroup bool, userID int64, op func(ctx context.Context) error) error {
	start := time.Now()

	err := f.breakerFor(method).Execute(ctx, func(ctx context.Context) error {
		if err := f.limiter.Allow(ctx, chatID, isGroup); err != nil {
			return err
		}
		return f.retrier.Do(ctx, func(ctx context.Context) error {
			rawErr := op(ctx)
			if rawErr == nil {
				return nil
			}
			classified := classify(rawErr)
			if wait := retryAfterSeconds(rawErr); wait > 0 {
				select {
				case <-ctx.Done():
					return retry.Permanent(ctx.Err())
				case <-time.After(time.Duration(wait) * time.Second):
				}
			}
			if shared.IsRetryable(classified) {
				return retry.Retryable(classified)
			}
			return retry.Permanent(classified)
		})
	})

	latency := time.Since(start).Milliseconds()
	success := err == nil
	errorCategory := ""
	if err != nil {
		errorCategory = errorCategoryOf(err)
	}
	f.sink.RecordAPICall(verification.NewAPICallLog(f.botInstanceID, method, chatID, userID, success, latency, errorCategory))

	return unwrapRetry(err)
}

// unwrapRetry strips the retry package's Retryable/Permanent wrappers so
// callers see only the §7 taxonomy, never pkg/retry's internal types.
func unwrapRetry(err error) error {
	if err == nil {
		return nil
	}
	if retry.IsRetryable(err) || retry.IsPermanent(err) {
		return unwrap(err)
	}
	return err
}

func unwrap(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		if inner := u.Unwrap(); inner != nil {
			return inner
		}
	}
	return err
}

func errorCategoryOf(err error) string {
	switch {
	case shared.IsRateLimited(err):
		return "rate_limited"
	case shared.IsTransient(err):
		return "transient"
	case shared.IsPermissionDenied(err):
		return "permission_denied"
	case shared.IsNotFound(err):
		return "not_found"
	case shared.IsFatal(err):
		return "fatal"
	default:
		return "invalid_input"
	}
}

// GetMe returns the bot's own user profile, used for health checks and
// startup validation (spec §4.3).
func (f *Facade) GetMe(ctx context.Context) (tgbotapi.User, error) {
	var me tgbotapi.User
	err := f.call(ctx, "getMe", 0, false, 0, func(ctx context.Context) error {
		u, err := f.client.GetMe()
		if err != nil {
			return err
		}
		me = u
		return nil
	})
	return me, err
}

// GetChatMember fetches a user's membership status in a chat and
// normalizes it per spec §4.4 step 2c.
func (f *Facade) GetChatMember(ctx context.Context, chatID, userID int64) (MembershipStatus, error) {
	var status MembershipStatus
	err := f.call(ctx, "getChatMember", chatID, false, userID, func(ctx context.Context) error {
		member, err := f.client.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
		})
		if err != nil {
			return err
		}
		status = normalizeMembership(member)
		return nil
	})
	return status, err
}

// IsGroupAdmin reports whether userID is the creator or an administrator
// of chatID, per the real distinction Telegram draws between those roles
// and a plain "member". Unlike GetChatMember - which only answers "is
// this user still present in the chat" for verification purposes and
// deliberately collapses creator/administrator/member into one active
// status - this is the check admin-gated group commands (/protect,
// /unprotect) must use.
func (f *Facade) IsGroupAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	var isAdmin bool
	err := f.call(ctx, "getChatMember", chatID, true, userID, func(ctx context.Context) error {
		member, err := f.client.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
		})
		if err != nil {
			return err
		}
		isAdmin = member.Status == "creator" || member.Status == "administrator"
		return nil
	})
	return isAdmin, err
}

func normalizeMembership(m tgbotapi.ChatMember) MembershipStatus {
	switch m.Status {
	case "creator", "administrator", "member":
		return MembershipActive
	case "restricted":
		if m.IsMember() {
			return MembershipActive
		}
		return MembershipInactive
	default: // "left", "kicked"
		return MembershipInactive
	}
}

// RestrictChatMember mutes (all permissions false) or unmutes (group
// defaults) a user in a group, per spec §4.5. untilUnixSeconds = 0 means
// permanent until explicitly lifted.
func (f *Facade) RestrictChatMember(ctx context.Context, chatID, userID int64, permissions tgbotapi.ChatPermissions, untilUnixSeconds int64) error {
	return f.call(ctx, "restrictChatMember", chatID, true, userID, func(ctx context.Context) error {
		_, err := f.client.Request(tgbotapi.RestrictChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
			UntilDate:        untilUnixSeconds,
			Permissions:      &permissions,
		})
		return err
	})
}

// BanChatMember removes a user from a group and prevents them rejoining
// until explicitly unbanned, per spec §4.5's ban_user enforcement action.
// Unlike RestrictChatMember, a banned user is actually removed from the
// chat rather than muted in place.
func (f *Facade) BanChatMember(ctx context.Context, chatID, userID int64) error {
	return f.call(ctx, "banChatMember", chatID, true, userID, func(ctx context.Context) error {
		_, err := f.client.Request(tgbotapi.BanChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		})
		return err
	})
}

// UnbanChatMember lifts a previous ban, per spec §4.5's unban_user
// enforcement action. OnlyIfBanned avoids erroring on a user who was
// never banned in the first place.
func (f *Facade) UnbanChatMember(ctx context.Context, chatID, userID int64) error {
	return f.call(ctx, "unbanChatMember", chatID, true, userID, func(ctx context.Context) error {
		_, err := f.client.Request(tgbotapi.UnbanChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
			OnlyIfBanned:     true,
		})
		return err
	})
}

// DeleteMessage removes a message from a chat.
func (f *Facade) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return f.call(ctx, "deleteMessage", chatID, false, 0, func(ctx context.Context) error {
		_, err := f.client.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
		return err
	})
}

// SendMessage sends a text message, optionally with an inline keyboard.
func (f *Facade) SendMessage(ctx context.Context, chatID int64, text string, replyMarkup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	var messageID int
	err := f.call(ctx, "sendMessage", chatID, chatID < 0, 0, func(ctx context.Context) error {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		if replyMarkup != nil {
			msg.ReplyMarkup = *replyMarkup
		}
		sent, err := f.client.Send(msg)
		if err != nil {
			return err
		}
		messageID = sent.MessageID
		return nil
	})
	return messageID, err
}

// AnswerCallbackQuery answers a callback query raised by an inline
// keyboard button press.
func (f *Facade) AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string, showAlert bool) error {
	return f.call(ctx, "answerCallbackQuery", 0, false, 0, func(ctx context.Context) error {
		cb := tgbotapi.NewCallback(callbackQueryID, text)
		cb.ShowAlert = showAlert
		_, err := f.client.Request(cb)
		return err
	})
}

// ChatInfo is the subset of Telegram's getChat response /protect needs to
// resolve a channel reference to its numeric id (SPEC_FULL.md Open
// Question 2).
type ChatInfo struct {
	ID         int64
	Title      string
	Username   string
	InviteLink string
}

// GetChat resolves a chat reference - either an "@handle" or a numeric
// chat id formatted as a string - to its numeric id and display
// metadata. Used once at /protect time; EnforcedChannel rows are always
// keyed by the resulting numeric id, never the handle.
func (f *Facade) GetChat(ctx context.Context, reference string) (ChatInfo, error) {
	var info ChatInfo
	err := f.call(ctx, "getChat", 0, false, 0, func(ctx context.Context) error {
		chat, err := f.client.GetChat(tgbotapi.ChatInfoConfig{
			ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: referenceAsUsername(reference), ChatID: referenceAsID(reference)},
		})
		if err != nil {
			return err
		}
		info = ChatInfo{ID: chat.ID, Title: chat.Title, Username: chat.UserName, InviteLink: chat.InviteLink}
		return nil
	})
	return info, err
}

// referenceAsUsername returns reference unchanged, leading "@" included,
// if it looks like a handle, else "".
func referenceAsUsername(reference string) string {
	if strings.HasPrefix(reference, "@") {
		return reference
	}
	return ""
}

// referenceAsID parses reference as a numeric chat id, returning 0 if it
// is a handle rather than a number.
func referenceAsID(reference string) int64 {
	if strings.HasPrefix(reference, "@") {
		return 0
	}
	id, err := strconv.ParseInt(reference, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
