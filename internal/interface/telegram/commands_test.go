package telegram

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nezuko-platform/nezuko-core/internal/domain/group"
	"github.com/nezuko-platform/nezuko-core/internal/domain/owner"
	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// fakeGroupRepo is a minimal group.Repository stub for command tests.
type fakeGroupRepo struct {
	group.Repository

	groupsByTelegramID   map[shared.TelegramID]*group.ProtectedGroup
	channelsByTelegramID map[shared.TelegramID]*group.EnforcedChannel
	withChannels         map[shared.TelegramID]*group.WithChannels
	links                map[int64]map[int64]bool

	nextGroupID   int64
	nextChannelID int64
}

func newFakeGroupRepo() *fakeGroupRepo {
	return &fakeGroupRepo{
		groupsByTelegramID:   map[shared.TelegramID]*group.ProtectedGroup{},
		channelsByTelegramID: map[shared.TelegramID]*group.EnforcedChannel{},
		withChannels:         map[shared.TelegramID]*group.WithChannels{},
		links:                map[int64]map[int64]bool{},
	}
}

func (r *fakeGroupRepo) FindGroupByTelegramID(ctx context.Context, botInstanceID int64, groupID shared.TelegramID) (*group.ProtectedGroup, error) {
	g, ok := r.groupsByTelegramID[groupID]
	if !ok {
		return nil, shared.ErrGroupNotFound
	}
	return g, nil
}

func (r *fakeGroupRepo) CreateGroup(ctx context.Context, g *group.ProtectedGroup) (int64, error) {
	r.nextGroupID++
	g.ID = r.nextGroupID
	r.groupsByTelegramID[g.GroupID] = g
	return g.ID, nil
}

func (r *fakeGroupRepo) UpdateGroup(ctx context.Context, g *group.ProtectedGroup) error {
	r.groupsByTelegramID[g.GroupID] = g
	return nil
}

func (r *fakeGroupRepo) GetWithChannels(ctx context.Context, botInstanceID int64, groupID shared.TelegramID) (*group.WithChannels, error) {
	w, ok := r.withChannels[groupID]
	if !ok {
		return nil, shared.ErrGroupNotFound
	}
	return w, nil
}

func (r *fakeGroupRepo) FindChannelByTelegramID(ctx context.Context, botInstanceID int64, channelID shared.TelegramID) (*group.EnforcedChannel, error) {
	c, ok := r.channelsByTelegramID[channelID]
	if !ok {
		return nil, shared.ErrChannelNotFound
	}
	return c, nil
}

func (r *fakeGroupRepo) CreateChannel(ctx context.Context, c *group.EnforcedChannel) (int64, error) {
	r.nextChannelID++
	c.ID = r.nextChannelID
	r.channelsByTelegramID[c.ChannelID] = c
	return c.ID, nil
}

func (r *fakeGroupRepo) LinkChannel(ctx context.Context, groupID, channelID int64) error {
	if r.links[groupID] == nil {
		r.links[groupID] = map[int64]bool{}
	}
	if r.links[groupID][channelID] {
		return shared.ErrChannelLinkAlreadyExists
	}
	r.links[groupID][channelID] = true
	return nil
}

// fakeOwnerRepo implements owner.Repository.
type fakeOwnerRepo struct {
	upserted []*owner.Owner
}

func (r *fakeOwnerRepo) Upsert(ctx context.Context, o *owner.Owner) error {
	r.upserted = append(r.upserted, o)
	return nil
}

func (r *fakeOwnerRepo) FindByUserID(ctx context.Context, userID shared.TelegramID) (*owner.Owner, error) {
	return nil, shared.ErrOwnerNotFound
}

func (r *fakeOwnerRepo) Delete(ctx context.Context, userID shared.TelegramID) error { return nil }

// fakeChatResolver implements ChatResolver. isAdmin models the real
// creator/administrator-vs-member distinction IsGroupAdmin draws; tests
// that want to exercise "ordinary member" set it false rather than
// faking an impossible status string.
type fakeChatResolver struct {
	chatsByRef map[string]ChatInfo
	isAdmin    bool
	isAdminErr error
}

func (f *fakeChatResolver) GetChat(ctx context.Context, reference string) (ChatInfo, error) {
	info, ok := f.chatsByRef[reference]
	if !ok {
		return ChatInfo{}, shared.ErrChannelUnresolvable
	}
	return info, nil
}

func (f *fakeChatResolver) IsGroupAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	return f.isAdmin, f.isAdminErr
}

// fakeSender implements Sender.
type fakeSender struct {
	sentTexts []string
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID int64, text string, replyMarkup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	f.sentTexts = append(f.sentTexts, text)
	return len(f.sentTexts), nil
}

func newCommandRouterForTest(repo *fakeGroupRepo, owners *fakeOwnerRepo, chats *fakeChatResolver) (*CommandRouter, *fakeSender) {
	sender := &fakeSender{}
	return NewCommandRouter(1, repo, owners, chats, sender, nil), sender
}

func groupMessage(command, args string, userID, chatID int64) *tgbotapi.Message {
	text := "/" + command
	if args != "" {
		text += " " + args
	}
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, FirstName: "Alice"},
		Chat:      &tgbotapi.Chat{ID: chatID, Type: "supergroup", Title: "Test Group"},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command) + 1}},
	}
}

func TestHandleProtect_NonAdminIsDenied(t *testing.T) {
	repo := newFakeGroupRepo()
	owners := &fakeOwnerRepo{}
	chats := &fakeChatResolver{isAdmin: false}
	r, sender := newCommandRouterForTest(repo, owners, chats)

	msg := groupMessage("protect", "@announcements", 42, -200)
	r.Handle(context.Background(), msg)

	require.Len(t, sender.sentTexts, 1)
	assert.Contains(t, sender.sentTexts[0], "admin")
	assert.Empty(t, repo.groupsByTelegramID)
}

func TestHandleProtect_AdminCreatesGroupAndLinksChannel(t *testing.T) {
	repo := newFakeGroupRepo()
	owners := &fakeOwnerRepo{}
	chats := &fakeChatResolver{
		isAdmin: true,
		chatsByRef: map[string]ChatInfo{
			"@announcements": {ID: -300, Title: "Announcements", Username: "announcements"},
		},
	}
	r, sender := newCommandRouterForTest(repo, owners, chats)

	msg := groupMessage("protect", "@announcements", 42, -200)
	r.Handle(context.Background(), msg)

	pg, ok := repo.groupsByTelegramID[-200]
	require.True(t, ok)
	assert.True(t, pg.Enabled)
	assert.True(t, repo.links[pg.ID][repo.channelsByTelegramID[-300].ID])
	require.Len(t, sender.sentTexts, 1)
	assert.Contains(t, sender.sentTexts[0], "@announcements")
}

func TestHandleProtect_UnresolvableChannelIsSkipped(t *testing.T) {
	repo := newFakeGroupRepo()
	owners := &fakeOwnerRepo{}
	chats := &fakeChatResolver{isAdmin: true, chatsByRef: map[string]ChatInfo{}}
	r, sender := newCommandRouterForTest(repo, owners, chats)

	msg := groupMessage("protect", "@doesnotexist", 42, -200)
	r.Handle(context.Background(), msg)

	require.Len(t, sender.sentTexts, 2)
	assert.Contains(t, sender.sentTexts[0], "Could not resolve @doesnotexist")
	assert.Contains(t, sender.sentTexts[1], "Could not resolve any")
}

func TestHandleUnprotect_DisablesExistingGroup(t *testing.T) {
	repo := newFakeGroupRepo()
	repo.groupsByTelegramID[-200] = &group.ProtectedGroup{ID: 1, GroupID: -200, Enabled: true}
	owners := &fakeOwnerRepo{}
	chats := &fakeChatResolver{isAdmin: true}
	r, sender := newCommandRouterForTest(repo, owners, chats)

	msg := groupMessage("unprotect", "", 42, -200)
	r.Handle(context.Background(), msg)

	assert.False(t, repo.groupsByTelegramID[-200].Enabled)
	require.Len(t, sender.sentTexts, 1)
	assert.Contains(t, sender.sentTexts[0], "off")
}

func TestHandleStatus_ReportsRequiredChannels(t *testing.T) {
	repo := newFakeGroupRepo()
	repo.withChannels[-200] = &group.WithChannels{
		Group:    group.ProtectedGroup{GroupID: -200, Enabled: true},
		Channels: []group.EnforcedChannel{{ChannelID: -300, Username: "announcements"}},
	}
	owners := &fakeOwnerRepo{}
	chats := &fakeChatResolver{}
	r, sender := newCommandRouterForTest(repo, owners, chats)

	msg := groupMessage("status", "", 42, -200)
	r.Handle(context.Background(), msg)

	require.Len(t, sender.sentTexts, 1)
	assert.Contains(t, sender.sentTexts[0], "@announcements")
}

func TestHandleStart_PrivateChatUpsertsOwner(t *testing.T) {
	repo := newFakeGroupRepo()
	owners := &fakeOwnerRepo{}
	chats := &fakeChatResolver{}
	r, sender := newCommandRouterForTest(repo, owners, chats)

	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: 42, UserName: "alice"},
		Chat: &tgbotapi.Chat{ID: 42, Type: "private"},
		Text: "/start",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
	}
	r.Handle(context.Background(), msg)

	require.Len(t, owners.upserted, 1)
	assert.Equal(t, shared.TelegramID(42), owners.upserted[0].UserID)
	require.Len(t, sender.sentTexts, 1)
}
