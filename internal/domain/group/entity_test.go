package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

func TestNewProtectedGroup_RejectsPositiveGroupID(t *testing.T) {
	groupID, _ := shared.NewTelegramID(123) // positive: looks like a user id, not a chat
	ownerID, _ := shared.NewTelegramID(1)
	_, err := NewProtectedGroup(NewProtectedGroupParams{
		GroupID: groupID, OwnerUserID: ownerID, BotInstanceID: 1,
	})
	assert.Error(t, err)
}

func TestNewProtectedGroup_OK(t *testing.T) {
	groupID, _ := shared.NewTelegramID(-1001234567890)
	ownerID, _ := shared.NewTelegramID(1)
	g, err := NewProtectedGroup(NewProtectedGroupParams{
		GroupID: groupID, OwnerUserID: ownerID, BotInstanceID: 7, Title: "Alumni Chat",
	})
	require.NoError(t, err)
	assert.True(t, g.Enabled)
	assert.Equal(t, "Alumni Chat", g.Title)
}

func TestProtectedGroup_DisableEnable(t *testing.T) {
	groupID, _ := shared.NewTelegramID(-100)
	ownerID, _ := shared.NewTelegramID(1)
	g, _ := NewProtectedGroup(NewProtectedGroupParams{GroupID: groupID, OwnerUserID: ownerID, BotInstanceID: 1})

	g.Disable()
	assert.False(t, g.Enabled)

	g.Enable()
	assert.True(t, g.Enabled)
}

func TestProtectedGroup_RecordSync(t *testing.T) {
	groupID, _ := shared.NewTelegramID(-100)
	ownerID, _ := shared.NewTelegramID(1)
	g, _ := NewProtectedGroup(NewProtectedGroupParams{GroupID: groupID, OwnerUserID: ownerID, BotInstanceID: 1})

	g.RecordSync(42)
	assert.Equal(t, 42, g.MemberCount)
	require.NotNil(t, g.LastSyncAt)
}

func TestWithChannels_RequiredChannelIDs(t *testing.T) {
	ch1, _ := shared.NewTelegramID(-200)
	ch2, _ := shared.NewTelegramID(-201)
	w := WithChannels{
		Channels: []EnforcedChannel{{ChannelID: ch1}, {ChannelID: ch2}},
	}
	assert.ElementsMatch(t, []shared.TelegramID{ch1, ch2}, w.RequiredChannelIDs())
}

func TestNewLink_RejectsZeroIDs(t *testing.T) {
	_, err := NewLink(0, 5)
	assert.Error(t, err)
}
