// Package event implements the four Event Handlers (C6), one per
// Telegram update kind the core reacts to (spec §4.6). Each handler is
// fed by the bot worker's update dispatcher (router.go) and is
// reentrant: handlers must tolerate out-of-order updates, since
// Telegram's ordering is per-chat best-effort, not globally sequenced.
package event

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nezuko-platform/nezuko-core/internal/application/enforcement"
	verificationapp "github.com/nezuko-platform/nezuko-core/internal/application/verification"
	"github.com/nezuko-platform/nezuko-core/internal/domain/group"
	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
	"github.com/nezuko-platform/nezuko-core/internal/domain/verification"
)

// CacheInvalidator abstracts the membership cache's per-user
// invalidation, called on channel membership changes (spec §4.6, §4.2).
type CacheInvalidator interface {
	Invalidate(ctx context.Context, botInstanceID, channelID, userID int64) error
}

// Handlers bundles the four event handlers with the shared dependencies
// they all need: the group/channel reverse index, the Verification
// Service (C4), and the Enforcement Service (C5).
type Handlers struct {
	botInstanceID int64
	groups        group.Repository
	verifier      *verificationapp.Service
	enforcer      *enforcement.Service
	cache         CacheInvalidator
	logger        *slog.Logger
}

// NewHandlers constructs the event handler bundle for one bot instance.
func NewHandlers(botInstanceID int64, groups group.Repository, verifier *verificationapp.Service, enforcer *enforcement.Service, cache CacheInvalidator, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{botInstanceID: botInstanceID, groups: groups, verifier: verifier, enforcer: enforcer, cache: cache, logger: logger}
}

// HandleNewChatMember reacts to a user joining a protected group:
// verify then enforce, with no message to delete (spec §4.6 bullet 1).
func (h *Handlers) HandleNewChatMember(ctx context.Context, groupChatID, userID int64, displayName string) {
	g, err := h.groups.FindGroupByTelegramID(ctx, h.botInstanceID, shared.TelegramID(groupChatID))
	if err != nil {
		if !shared.IsNotFound(err) {
			h.logger.Error("failed to look up protected group for new_chat_member", "group_id", groupChatID, "error", err)
		}
		return
	}
	if !g.Enabled {
		return
	}

	v := h.verifier.Verify(ctx, h.botInstanceID, shared.TelegramID(groupChatID), shared.TelegramID(userID))
	h.applyVerdict(ctx, groupChatID, userID, displayName, 0, v)
}

// HandleMessage reacts to a text/media message in a protected group:
// verify, and only if Restricted invoke Enforcement, which deletes the
// offending message as part of its transition (spec §4.6 bullet 2). The
// message has necessarily already been delivered to other members by
// the time this runs; deletion only closes the window as fast as
// possible, it cannot prevent the initial delivery.
func (h *Handlers) HandleMessage(ctx context.Context, groupChatID, userID int64, displayName string, messageID int) {
	g, err := h.groups.FindGroupByTelegramID(ctx, h.botInstanceID, shared.TelegramID(groupChatID))
	if err != nil {
		if !shared.IsNotFound(err) {
			h.logger.Error("failed to look up protected group for message", "group_id", groupChatID, "error", err)
		}
		return
	}
	if !g.Enabled {
		return
	}

	v := h.verifier.Verify(ctx, h.botInstanceID, shared.TelegramID(groupChatID), shared.TelegramID(userID))
	if v.Kind == verification.VerdictVerified {
		return
	}
	h.applyVerdict(ctx, groupChatID, userID, displayName, messageID, v)
}

// HandleChannelMembership reacts to a chat_member update on one of this
// bot's EnforcedChannels: invalidate the cached verdict, and if the new
// status is left/kicked, eagerly re-verify every protected group that
// depends on this channel - the "strict leave detection" guarantee
// (spec §4.6 bullet 3).
func (h *Handlers) HandleChannelMembership(ctx context.Context, channelChatID, userID int64, newStatus string) {
	channel, err := h.groups.FindChannelByTelegramID(ctx, h.botInstanceID, shared.TelegramID(channelChatID))
	if err != nil {
		if !shared.IsNotFound(err) {
			h.logger.Error("failed to look up enforced channel for chat_member update", "channel_id", channelChatID, "error", err)
		}
		return
	}

	if err := h.cache.Invalidate(ctx, h.botInstanceID, channelChatID, userID); err != nil {
		h.logger.Warn("failed to invalidate membership cache", "channel_id", channelChatID, "user_id", userID, "error", err)
	}

	if newStatus != "left" && newStatus != "kicked" {
		return
	}

	groups, err := h.groups.ListGroupsByChannel(ctx, h.botInstanceID, shared.TelegramID(channelChatID))
	if err != nil {
		h.logger.Error("failed to list groups depending on channel", "channel_id", channelChatID, "error", err)
		return
	}

	for _, g := range groups {
		v := h.verifier.Verify(ctx, h.botInstanceID, g.GroupID, shared.TelegramID(userID))
		if v.Kind != verification.VerdictRestricted {
			continue
		}
		in := enforcement.Input{
			BotInstanceID: h.botInstanceID,
			GroupChatID:   g.GroupID.Int64(),
			UserID:        userID,
			Verdict:       v,
			Channel:       channel,
		}
		if err := h.enforcer.Apply(ctx, in); err != nil {
			h.logger.Error("failed to apply restricted verdict after channel leave", "group_id", g.GroupID, "user_id", userID, "error", err)
		}
	}
}

// HandleCallbackQuery reacts to a press of the challenge button's
// "I have joined - verify me" callback: re-verify and answer the
// callback according to the outcome (spec §4.6 bullet 4).
func (h *Handlers) HandleCallbackQuery(ctx context.Context, cq *tgbotapi.CallbackQuery, answer func(ctx context.Context, text string, showAlert bool) error) {
	if cq.Message == nil || cq.From == nil {
		return
	}
	groupChatID := cq.Message.Chat.ID
	userID := cq.From.ID

	v := h.verifier.Verify(ctx, h.botInstanceID, shared.TelegramID(groupChatID), shared.TelegramID(userID))

	switch v.Kind {
	case verification.VerdictVerified:
		_ = answer(ctx, "✅ Verified, welcome back!", false)
	case verification.VerdictRestricted:
		_ = answer(ctx, "❌ "+stillMissingText(h.missingChannel(ctx, v)), true)
	default:
		_ = answer(ctx, "⚠️ Could not verify right now, please try again.", true)
	}

	h.applyVerdict(ctx, groupChatID, userID, cq.From.FirstName, 0, v)
}

func (h *Handlers) applyVerdict(ctx context.Context, groupChatID, userID int64, displayName string, triggerMessageID int, v verification.Verdict) {
	if v.Kind == verification.VerdictError {
		h.logger.Warn("verification error, no enforcement action taken", "group_id", groupChatID, "user_id", userID, "error_kind", v.ErrorKind)
		return
	}

	var channel *group.EnforcedChannel
	if v.Kind == verification.VerdictRestricted {
		channel = h.missingChannel(ctx, v)
	}

	in := enforcement.Input{
		BotInstanceID:    h.botInstanceID,
		GroupChatID:      groupChatID,
		UserID:           userID,
		UserDisplayName:  displayName,
		TriggerMessageID: triggerMessageID,
		Verdict:          v,
		Channel:          channel,
	}
	if err := h.enforcer.Apply(ctx, in); err != nil {
		h.logger.Error("failed to apply enforcement", "group_id", groupChatID, "user_id", userID, "verdict", v.Kind, "error", err)
	}
}

// missingChannel resolves a Restricted verdict's MissingChannelID to the
// full EnforcedChannel row, used for the challenge message and the
// callback-query toast. Returns nil on lookup failure - the caller falls
// back to a generic "required channel" phrasing.
func (h *Handlers) missingChannel(ctx context.Context, v verification.Verdict) *group.EnforcedChannel {
	if v.MissingChannelID == 0 {
		return nil
	}
	channel, err := h.groups.FindChannelByTelegramID(ctx, h.botInstanceID, v.MissingChannelID)
	if err != nil {
		return nil
	}
	return channel
}

func stillMissingText(channel *group.EnforcedChannel) string {
	if channel == nil {
		return "Still not a member of the required channel."
	}
	name := channel.Title
	if channel.Username != "" {
		name = "@" + channel.Username
	}
	return "Still not a member of " + name + "."
}
