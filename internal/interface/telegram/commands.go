package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nezuko-platform/nezuko-core/internal/domain/group"
	"github.com/nezuko-platform/nezuko-core/internal/domain/owner"
	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// ChatResolver resolves a "@handle" or numeric chat reference to its
// numeric id and display metadata - the facade's getChat, narrowed to
// what /protect needs (SPEC_FULL.md Open Question 2).
type ChatResolver interface {
	GetChat(ctx context.Context, reference string) (ChatInfo, error)
	IsGroupAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// ChatInfo mirrors telegram.Facade's ChatInfo so this package does not
// need to import the infrastructure package directly for its return
// type - only the narrow ChatResolver interface crosses the boundary.
type ChatInfo struct {
	ID         int64
	Title      string
	Username   string
	InviteLink string
}

// Sender is the narrow facade surface CommandRouter needs to reply.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyMarkup *tgbotapi.InlineKeyboardMarkup) (int, error)
}

// CommandRouter implements the in-chat command set spec §4.6 names:
// /start, /help, /protect, /unprotect, /status, /settings.
type CommandRouter struct {
	botInstanceID int64
	groups        group.Repository
	owners        owner.Repository
	chats         ChatResolver
	sender        Sender
	logger        *slog.Logger
}

// NewCommandRouter constructs the in-chat command set for one bot instance.
func NewCommandRouter(botInstanceID int64, groups group.Repository, owners owner.Repository, chats ChatResolver, sender Sender, logger *slog.Logger) *CommandRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRouter{botInstanceID: botInstanceID, groups: groups, owners: owners, chats: chats, sender: sender, logger: logger}
}

// Handle dispatches msg by its command name.
func (r *CommandRouter) Handle(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	switch msg.Command() {
	case "start":
		r.handleStart(ctx, msg)
	case "help":
		r.handleHelp(ctx, msg)
	case "protect":
		r.handleProtect(ctx, msg)
	case "unprotect":
		r.handleUnprotect(ctx, msg)
	case "status":
		r.handleStatus(ctx, msg)
	case "settings":
		r.handleSettings(ctx, msg)
	}
}

func (r *CommandRouter) reply(ctx context.Context, chatID int64, text string) {
	if _, err := r.sender.SendMessage(ctx, chatID, text, nil); err != nil {
		r.logger.Error("failed to send command reply", "chat_id", chatID, "error", err)
	}
}

func (r *CommandRouter) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.Chat.IsPrivate() {
		r.reply(ctx, msg.Chat.ID, "Add me to a group and run /protect there to get started.")
		return
	}
	o, err := owner.NewOwner(shared.TelegramID(msg.From.ID), msg.From.UserName)
	if err != nil {
		r.logger.Error("failed to construct owner", "user_id", msg.From.ID, "error", err)
		return
	}
	if err := r.owners.Upsert(ctx, o); err != nil {
		r.logger.Error("failed to upsert owner", "user_id", msg.From.ID, "error", err)
		r.reply(ctx, msg.Chat.ID, "Something went wrong, please try again.")
		return
	}
	r.reply(ctx, msg.Chat.ID, "Welcome! Add me to a group you administer, then run /protect there with the channels members must join.")
}

func (r *CommandRouter) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	r.reply(ctx, msg.Chat.ID, ""+
		"/protect <@channel|channel_id>[, more…] - require membership in these channels to post here\n"+
		"/unprotect - stop enforcing membership in this group\n"+
		"/status - show this group's current protection state\n"+
		"/settings - show configurable options\n")
}

func (r *CommandRouter) handleProtect(ctx context.Context, msg *tgbotapi.Message) {
	if !r.requireGroupAdmin(ctx, msg) {
		return
	}

	refs := parseChannelRefs(msg.CommandArguments())
	if len(refs) == 0 {
		r.reply(ctx, msg.Chat.ID, "Usage: /protect @channel1, @channel2 (or numeric channel ids)")
		return
	}

	groupID := shared.TelegramID(msg.Chat.ID)
	pg, err := r.groups.FindGroupByTelegramID(ctx, r.botInstanceID, groupID)
	if shared.IsNotFound(err) {
		pg, err = group.NewProtectedGroup(group.NewProtectedGroupParams{
			GroupID:       groupID,
			OwnerUserID:   shared.TelegramID(msg.From.ID),
			BotInstanceID: r.botInstanceID,
			Title:         msg.Chat.Title,
		})
		if err != nil {
			r.logger.Error("failed to construct protected group", "group_id", groupID, "error", err)
			r.reply(ctx, msg.Chat.ID, "Something went wrong, please try again.")
			return
		}
		id, createErr := r.groups.CreateGroup(ctx, pg)
		if createErr != nil {
			r.logger.Error("failed to create protected group", "group_id", groupID, "error", createErr)
			r.reply(ctx, msg.Chat.ID, "Something went wrong, please try again.")
			return
		}
		pg.ID = id
	} else if err != nil {
		r.logger.Error("failed to look up protected group", "group_id", groupID, "error", err)
		r.reply(ctx, msg.Chat.ID, "Something went wrong, please try again.")
		return
	} else if !pg.Enabled {
		pg.Enable()
		if err := r.groups.UpdateGroup(ctx, pg); err != nil {
			r.logger.Error("failed to re-enable protected group", "group_id", groupID, "error", err)
		}
	}

	var linked []string
	for _, ref := range refs {
		channel, err := r.resolveChannel(ctx, ref)
		if err != nil {
			r.reply(ctx, msg.Chat.ID, fmt.Sprintf("Could not resolve %s, skipping.", ref))
			continue
		}
		if err := r.groups.LinkChannel(ctx, pg.ID, channel.ID); err != nil && !shared.IsConflict(err) {
			r.logger.Error("failed to link channel", "group_id", groupID, "channel_ref", ref, "error", err)
			continue
		}
		linked = append(linked, displayChannelEntity(channel))
	}

	if len(linked) == 0 {
		r.reply(ctx, msg.Chat.ID, "Could not resolve any of the given channels.")
		return
	}
	r.reply(ctx, msg.Chat.ID, "This group is now protected. Members must join: "+strings.Join(linked, ", "))
}

func (r *CommandRouter) handleUnprotect(ctx context.Context, msg *tgbotapi.Message) {
	if !r.requireGroupAdmin(ctx, msg) {
		return
	}
	groupID := shared.TelegramID(msg.Chat.ID)
	pg, err := r.groups.FindGroupByTelegramID(ctx, r.botInstanceID, groupID)
	if err != nil {
		r.reply(ctx, msg.Chat.ID, "This group is not currently protected.")
		return
	}
	pg.Disable()
	if err := r.groups.UpdateGroup(ctx, pg); err != nil {
		r.logger.Error("failed to disable protected group", "group_id", groupID, "error", err)
		r.reply(ctx, msg.Chat.ID, "Something went wrong, please try again.")
		return
	}
	r.reply(ctx, msg.Chat.ID, "Membership enforcement is now off for this group. Run /protect to re-enable it.")
}

func (r *CommandRouter) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	groupID := shared.TelegramID(msg.Chat.ID)
	withChannels, err := r.groups.GetWithChannels(ctx, r.botInstanceID, groupID)
	if err != nil {
		r.reply(ctx, msg.Chat.ID, "This group is not currently protected. Run /protect to enable it.")
		return
	}
	if len(withChannels.Channels) == 0 {
		r.reply(ctx, msg.Chat.ID, "Protected, but no channels are required yet. Run /protect to add one.")
		return
	}
	names := make([]string, 0, len(withChannels.Channels))
	for i := range withChannels.Channels {
		names = append(names, displayChannelEntity(&withChannels.Channels[i]))
	}
	r.reply(ctx, msg.Chat.ID, "Protected. Required channels: "+strings.Join(names, ", "))
}

func (r *CommandRouter) handleSettings(ctx context.Context, msg *tgbotapi.Message) {
	r.reply(ctx, msg.Chat.ID, "No per-group settings yet beyond the required channel list managed by /protect.")
}

// requireGroupAdmin enforces that only a group admin/creator may change
// this group's protection state; replies with a denial and returns false
// otherwise.
func (r *CommandRouter) requireGroupAdmin(ctx context.Context, msg *tgbotapi.Message) bool {
	if msg.Chat.IsPrivate() {
		r.reply(ctx, msg.Chat.ID, "This command only works inside a group.")
		return false
	}
	isAdmin, err := r.chats.IsGroupAdmin(ctx, msg.Chat.ID, msg.From.ID)
	if err != nil || !isAdmin {
		r.reply(ctx, msg.Chat.ID, "Only a group admin can do that.")
		return false
	}
	return true
}

// resolveChannel resolves ref (an "@handle" or numeric id) to an
// EnforcedChannel row, creating one on first reference. The channel is
// always looked up and stored by its numeric Telegram id, never by
// handle (SPEC_FULL.md Open Question 2).
func (r *CommandRouter) resolveChannel(ctx context.Context, ref string) (*group.EnforcedChannel, error) {
	info, err := r.chats.GetChat(ctx, ref)
	if err != nil {
		return nil, err
	}
	channel, lookupErr := r.groups.FindChannelByTelegramID(ctx, r.botInstanceID, shared.TelegramID(info.ID))
	if lookupErr == nil {
		return channel, nil
	}
	newChannel, err := group.NewEnforcedChannel(group.NewEnforcedChannelParams{
		ChannelID:     shared.TelegramID(info.ID),
		BotInstanceID: r.botInstanceID,
		Title:         info.Title,
		Username:      info.Username,
		InviteLink:    info.InviteLink,
	})
	if err != nil {
		return nil, err
	}
	id, err := r.groups.CreateChannel(ctx, newChannel)
	if err != nil {
		return nil, err
	}
	newChannel.ID = id
	return newChannel, nil
}

func parseChannelRefs(args string) []string {
	parts := strings.Split(args, ",")
	refs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			refs = append(refs, p)
		}
	}
	return refs
}

func displayChannelEntity(c *group.EnforcedChannel) string {
	if c.Username != "" {
		return "@" + c.Username
	}
	if c.Title != "" {
		return c.Title
	}
	return strconv.FormatInt(c.ChannelID.Int64(), 10)
}
