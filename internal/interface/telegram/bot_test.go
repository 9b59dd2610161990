package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func TestUpdateLabel(t *testing.T) {
	cases := []struct {
		name   string
		update tgbotapi.Update
		want   string
	}{
		{
			name: "command",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				Text:     "/protect @x",
				Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 8}},
			}},
			want: "/protect",
		},
		{
			name:   "new chat member",
			update: tgbotapi.Update{Message: &tgbotapi.Message{NewChatMembers: []tgbotapi.User{{ID: 1}}}},
			want:   "new_chat_member",
		},
		{
			name:   "plain message",
			update: tgbotapi.Update{Message: &tgbotapi.Message{Text: "hello"}},
			want:   "message",
		},
		{
			name:   "chat member",
			update: tgbotapi.Update{ChatMember: &tgbotapi.ChatMemberUpdated{}},
			want:   "chat_member",
		},
		{
			name:   "callback query",
			update: tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{}},
			want:   "callback_query",
		},
		{
			name:   "unknown",
			update: tgbotapi.Update{},
			want:   "unknown",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, updateLabel(c.update))
		})
	}
}

func TestUpdateUserID(t *testing.T) {
	assert.Equal(t, int64(42), updateUserID(tgbotapi.Update{Message: &tgbotapi.Message{From: &tgbotapi.User{ID: 42}}}))
	assert.Equal(t, int64(7), updateUserID(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: 7}}}))
	assert.Equal(t, int64(9), updateUserID(tgbotapi.Update{ChatMember: &tgbotapi.ChatMemberUpdated{From: &tgbotapi.User{ID: 9}}}))
	assert.Equal(t, int64(0), updateUserID(tgbotapi.Update{}))
}
