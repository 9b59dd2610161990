package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nezuko-platform/nezuko-core/internal/interface/http/handlers"
)

type fakeUpdateHandler struct {
	received []tgbotapi.Update
}

func (f *fakeUpdateHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	f.received = append(f.received, update)
}

func newTestServer(webhookSecret string) (*Server, *handlers.WebhookRegistry) {
	registry := handlers.NewWebhookRegistry()
	cfg := DefaultConfig()
	cfg.WebhookSecret = webhookSecret
	cfg.RateLimitPerMinute = 0
	s := NewServer(cfg, Dependencies{Webhooks: registry})
	return s, registry
}

func TestHandleHealth_DefaultsHealthy(t *testing.T) {
	s, _ := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleWebhook_RejectsMissingSecret(t *testing.T) {
	s, _ := newTestServer("shh")
	req := httptest.NewRequest(http.MethodPost, "/webhook/42", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebhook_DispatchesToRegisteredWorker(t *testing.T) {
	s, registry := newTestServer("shh")
	worker := &fakeUpdateHandler{}
	registry.Register(42, worker)

	body := `{"update_id":100,"message":{"message_id":1,"text":"hello","chat":{"id":-200,"type":"supergroup"}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/42", strings.NewReader(body))
	req.Header.Set(s.config.WebhookSecretHeader, "shh")
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, worker.received, 1)
	assert.Equal(t, 100, worker.received[0].UpdateID)
}

func TestHandleWebhook_UnregisteredBotStillAcknowledges(t *testing.T) {
	s, _ := newTestServer("")
	req := httptest.NewRequest(http.MethodPost, "/webhook/999", strings.NewReader(`{"update_id":1}`))
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
