// Package enforcement implements the Enforcement Service (C5): applies
// a Verification verdict to a group, idempotently (spec §4.5).
package enforcement

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nezuko-platform/nezuko-core/internal/domain/group"
	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
	"github.com/nezuko-platform/nezuko-core/internal/domain/verification"
)

// DefaultPermissions is the standard "can talk" permission set restored
// on unmute, resolving SPEC_FULL.md's Open Question 1: change-info,
// invite-users, and pin-messages stay false since those are
// admin-granted, not enforcement-granted.
var DefaultPermissions = tgbotapi.ChatPermissions{
	CanSendMessages:       true,
	CanSendMediaMessages:  true,
	CanSendPolls:          true,
	CanSendOtherMessages:  true,
	CanAddWebPagePreviews: true,
}

// restrictedPermissions denies every communication right. UntilDate is
// always 0 (permanent until explicitly lifted), per spec §4.5.
var restrictedPermissions = tgbotapi.ChatPermissions{}

// Facade is the subset of the Telegram Client Facade (C3) the
// Enforcement Service calls.
type Facade interface {
	RestrictChatMember(ctx context.Context, chatID, userID int64, permissions tgbotapi.ChatPermissions, untilUnixSeconds int64) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendMessage(ctx context.Context, chatID int64, text string, replyMarkup *tgbotapi.InlineKeyboardMarkup) (int, error)
}

// Input is everything the Enforcement Service needs to act on one
// verdict.
type Input struct {
	BotInstanceID     int64
	GroupChatID       int64 // Telegram chat id of the protected group
	UserID            int64
	UserDisplayName   string // used in the challenge message, may be empty
	TriggerMessageID  int    // the message that triggered this check, 0 if none (e.g. new_chat_member)
	Verdict           verification.Verdict
	Channel           *group.EnforcedChannel // required when Verdict.Kind == Restricted
	SendVerifiedToast bool                   // config-flagged optional toast on unmute
}

// Service applies Verified/Restricted/Error verdicts to Telegram state.
type Service struct {
	facade  Facade
	tracker *challengeTracker
}

// NewService constructs an Enforcement Service.
func NewService(facade Facade) *Service {
	return &Service{facade: facade, tracker: newChallengeTracker()}
}

// Apply executes the transition described by in.Verdict, per spec §4.5.
func (s *Service) Apply(ctx context.Context, in Input) error {
	switch in.Verdict.Kind {
	case verification.VerdictVerified:
		return s.applyVerified(ctx, in)
	case verification.VerdictRestricted:
		return s.applyRestricted(ctx, in)
	case verification.VerdictError:
		// No state change on Telegram - avoid collateral damage on
		// transient API trouble. Nothing further to do here; the caller
		// logs the error.
		return nil
	default:
		return shared.NewDomainError("enforcement", "Apply", shared.ErrInvalidInput, fmt.Sprintf("unknown verdict kind %q", in.Verdict.Kind))
	}
}

// applyVerified implements: unmute + delete pending challenge + optional
// toast, but only if this (group, user) had a tracked challenge -
// otherwise it is an already-verified user and the call is a no-op, so
// the service can be invoked on every message without flooding
// Telegram.
func (s *Service) applyVerified(ctx context.Context, in Input) error {
	challengeMessageID, hadChallenge := s.tracker.take(in.GroupChatID, in.UserID)
	if !hadChallenge {
		return nil
	}

	if err := s.facade.RestrictChatMember(ctx, in.GroupChatID, in.UserID, DefaultPermissions, 0); err != nil {
		// Re-track the challenge so a later retry can still clean up.
		s.tracker.put(in.GroupChatID, in.UserID, challengeMessageID)
		return err
	}

	if challengeMessageID != 0 {
		if err := s.facade.DeleteMessage(ctx, in.GroupChatID, challengeMessageID); err != nil && !shared.IsNotFound(err) {
			return err
		}
	}

	if in.SendVerifiedToast {
		text := "✅ Verified. Welcome!"
		if in.UserDisplayName != "" {
			text = fmt.Sprintf("✅ %s is verified. Welcome!", in.UserDisplayName)
		}
		if _, err := s.facade.SendMessage(ctx, in.GroupChatID, text, nil); err != nil {
			// The toast is cosmetic; don't fail the whole transition over it.
			return nil
		}
	}
	return nil
}

// applyRestricted implements: mute + delete offending message (if any) +
// challenge message with invite link and verify button, tracked for a
// later unmute.
func (s *Service) applyRestricted(ctx context.Context, in Input) error {
	if err := s.facade.RestrictChatMember(ctx, in.GroupChatID, in.UserID, restrictedPermissions, 0); err != nil {
		return err
	}

	if in.TriggerMessageID != 0 {
		if err := s.facade.DeleteMessage(ctx, in.GroupChatID, in.TriggerMessageID); err != nil && !shared.IsNotFound(err) {
			return err
		}
	}

	challengeID, err := s.facade.SendMessage(ctx, in.GroupChatID, challengeText(in), challengeKeyboard(in.Channel))
	if err != nil {
		return err
	}
	s.tracker.put(in.GroupChatID, in.UserID, challengeID)
	return nil
}

func challengeText(in Input) string {
	name := in.UserDisplayName
	if name == "" {
		name = fmt.Sprintf("user %d", in.UserID)
	}
	channelName := "the required channel"
	if in.Channel != nil {
		if in.Channel.Username != "" {
			channelName = "@" + in.Channel.Username
		} else if in.Channel.Title != "" {
			channelName = in.Channel.Title
		}
	}
	return fmt.Sprintf("%s, please join %s to continue participating in this group.", name, channelName)
}

func challengeKeyboard(ch *group.EnforcedChannel) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if ch != nil && ch.InviteLink != "" {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonURL("Join channel", ch.InviteLink),
		})
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("I have joined — verify me", "verify"),
	})
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}
