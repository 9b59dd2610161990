package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nezuko-platform/nezuko-core/internal/interface/telegram/event"
)

// Router classifies a raw tgbotapi.Update and dispatches it to the Event
// Handlers (C6) or the in-chat command set, per spec §4.6. At most one of
// an update's fields is ever set, so dispatch is a simple priority switch.
type Router struct {
	events   *event.Handlers
	commands *CommandRouter
}

// NewRouter constructs a Router over an already-wired event handler
// bundle and in-chat command set.
func NewRouter(events *event.Handlers, commands *CommandRouter) *Router {
	return &Router{events: events, commands: commands}
}

// Route dispatches one update. answer is invoked for callback queries to
// answer the originating query (wired by the bot worker to
// Facade.AnswerCallbackQuery); it is ignored for every other update kind.
func (r *Router) Route(ctx context.Context, update tgbotapi.Update, answer func(ctx context.Context, text string, showAlert bool) error) {
	switch {
	case update.Message != nil && len(update.Message.NewChatMembers) > 0:
		r.routeNewChatMembers(ctx, update.Message)
	case update.Message != nil && update.Message.IsCommand():
		r.commands.Handle(ctx, update.Message)
	case update.Message != nil:
		r.events.HandleMessage(ctx, update.Message.Chat.ID, update.Message.From.ID, displayName(update.Message.From), update.Message.MessageID)
	case update.ChatMember != nil:
		r.routeChatMemberUpdate(ctx, update.ChatMember)
	case update.CallbackQuery != nil:
		r.events.HandleCallbackQuery(ctx, update.CallbackQuery, answer)
	}
}

func (r *Router) routeNewChatMembers(ctx context.Context, msg *tgbotapi.Message) {
	for _, member := range msg.NewChatMembers {
		if member.IsBot {
			continue
		}
		r.events.HandleNewChatMember(ctx, msg.Chat.ID, member.ID, displayNameOf(member.FirstName, member.LastName, member.UserName))
	}
}

// routeChatMemberUpdate forwards a chat_member update to the channel
// membership handler. It is only meaningful for updates on an
// EnforcedChannel; the handler itself no-ops on a chat id it doesn't
// recognize as a registered channel (spec §4.6).
func (r *Router) routeChatMemberUpdate(ctx context.Context, cm *tgbotapi.ChatMemberUpdated) {
	if cm.NewChatMember.User == nil {
		return
	}
	r.events.HandleChannelMembership(ctx, cm.Chat.ID, cm.NewChatMember.User.ID, cm.NewChatMember.Status)
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	return displayNameOf(u.FirstName, u.LastName, u.UserName)
}

func displayNameOf(firstName, lastName, username string) string {
	name := firstName
	if lastName != "" {
		if name != "" {
			name += " "
		}
		name += lastName
	}
	if name == "" {
		name = username
	}
	return name
}
