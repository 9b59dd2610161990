package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nezuko-platform/nezuko-core/internal/domain/verification"
)

// defaultGetMeResponse satisfies the getMe call tgbotapi.NewBotAPIWithAPIEndpoint
// issues as part of construction, so callers only need to supply the
// responses for the methods they actually exercise.
const defaultGetMeResponse = `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"nezuko"}}`

// fakeTelegramServer serves canned "ok" responses for whichever Bot API
// method the request path names, keyed by the method name Telegram uses
// (e.g. "getChat", "sendMessage").
func fakeTelegramServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		body, ok := responses[method]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"ok":false,"description":"unexpected method %s"}`, method)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
}

func newTestFacade(t *testing.T, responses map[string]string, sink APICallSink) (*Facade, *httptest.Server) {
	t.Helper()
	merged := make(map[string]string, len(responses)+1)
	merged["getMe"] = defaultGetMeResponse
	for method, body := range responses {
		merged[method] = body
	}
	srv := fakeTelegramServer(t, merged)
	endpoint := srv.URL + "/bot%s/%s"
	client, err := tgbotapi.NewBotAPIWithAPIEndpoint("test-token", endpoint)
	require.NoError(t, err)
	return NewFacade(1, client, sink, nil), srv
}

type recordingSink struct {
	calls []*verification.APICallLog
}

func (s *recordingSink) RecordAPICall(l *verification.APICallLog) {
	s.calls = append(s.calls, l)
}

func TestFacade_GetChat_ResolvesByUsername(t *testing.T) {
	responses := map[string]string{
		"getChat": `{"ok":true,"result":{"id":-1001234567890,"type":"channel",
			"title":"Announcements","username":"nezuko_channel","invite_link":"https://t.me/+abc"}}`,
	}
	sink := &recordingSink{}
	facade, srv := newTestFacade(t, responses, sink)
	defer srv.Close()

	info, err := facade.GetChat(context.Background(), "@nezuko_channel")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234567890), info.ID)
	assert.Equal(t, "Announcements", info.Title)
	assert.Equal(t, "nezuko_channel", info.Username)
	assert.Equal(t, "https://t.me/+abc", info.InviteLink)

	require.Len(t, sink.calls, 1)
	assert.Equal(t, "getChat", sink.calls[0].Method)
	assert.True(t, sink.calls[0].Success)
}

func TestFacade_GetChat_ResolvesByNumericID(t *testing.T) {
	responses := map[string]string{
		"getChat": `{"ok":true,"result":{"id":-100999,"type":"supergroup","title":"Group"}}`,
	}
	facade, srv := newTestFacade(t, responses, nil)
	defer srv.Close()

	info, err := facade.GetChat(context.Background(), "-100999")
	require.NoError(t, err)
	assert.Equal(t, int64(-100999), info.ID)
	assert.Equal(t, "Group", info.Title)
}

func TestFacade_GetChat_NotFoundIsNotRetried(t *testing.T) {
	responses := map[string]string{
		"getChat": `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
	}
	sink := &recordingSink{}
	facade, srv := newTestFacade(t, responses, sink)
	defer srv.Close()

	_, err := facade.GetChat(context.Background(), "@missing")
	require.Error(t, err)

	require.Len(t, sink.calls, 1)
	assert.False(t, sink.calls[0].Success)
	assert.Equal(t, "not_found", sink.calls[0].ErrorCategory)
}

func TestFacade_BanChatMember_CallsBanChatMember(t *testing.T) {
	responses := map[string]string{
		"banChatMember": `{"ok":true,"result":true}`,
	}
	sink := &recordingSink{}
	facade, srv := newTestFacade(t, responses, sink)
	defer srv.Close()

	err := facade.BanChatMember(context.Background(), -200, 42)
	require.NoError(t, err)

	require.Len(t, sink.calls, 1)
	assert.Equal(t, "banChatMember", sink.calls[0].Method)
	assert.True(t, sink.calls[0].Success)
}

func TestFacade_UnbanChatMember_CallsUnbanChatMember(t *testing.T) {
	responses := map[string]string{
		"unbanChatMember": `{"ok":true,"result":true}`,
	}
	sink := &recordingSink{}
	facade, srv := newTestFacade(t, responses, sink)
	defer srv.Close()

	err := facade.UnbanChatMember(context.Background(), -200, 42)
	require.NoError(t, err)

	require.Len(t, sink.calls, 1)
	assert.Equal(t, "unbanChatMember", sink.calls[0].Method)
	assert.True(t, sink.calls[0].Success)
}

func TestFacade_IsGroupAdmin_DistinguishesAdminFromMember(t *testing.T) {
	cases := []struct {
		status string
		want   bool
	}{
		{"creator", true},
		{"administrator", true},
		{"member", false},
		{"restricted", false},
		{"left", false},
	}
	for _, c := range cases {
		t.Run(c.status, func(t *testing.T) {
			responses := map[string]string{
				"getChatMember": fmt.Sprintf(`{"ok":true,"result":{"status":%q,"user":{"id":42,"is_bot":false,"first_name":"A"}}}`, c.status),
			}
			facade, srv := newTestFacade(t, responses, nil)
			defer srv.Close()

			isAdmin, err := facade.IsGroupAdmin(context.Background(), -200, 42)
			require.NoError(t, err)
			assert.Equal(t, c.want, isAdmin)
		})
	}
}

func TestFacade_SendMessage_ReturnsMessageID(t *testing.T) {
	responses := map[string]string{
		"sendMessage": `{"ok":true,"result":{"message_id":55,"date":0,"chat":{"id":42,"type":"private"}}}`,
	}
	facade, srv := newTestFacade(t, responses, nil)
	defer srv.Close()

	id, err := facade.SendMessage(context.Background(), 42, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, 55, id)
}
