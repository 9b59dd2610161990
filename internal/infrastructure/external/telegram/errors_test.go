package telegram

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
	"github.com/stretchr/testify/assert"
)

func TestClassify_RateLimited(t *testing.T) {
	err := &tgbotapi.Error{Code: 429, Message: "Too Many Requests: retry after 5", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 5}}
	got := classify(err)
	assert.True(t, shared.IsRateLimited(got))
	assert.Equal(t, 5, retryAfterSeconds(err))
}

func TestClassify_ServerError_IsTransient(t *testing.T) {
	err := &tgbotapi.Error{Code: 502, Message: "Bad Gateway"}
	assert.True(t, shared.IsTransient(classify(err)))
}

func TestClassify_PermissionDenied(t *testing.T) {
	err := &tgbotapi.Error{Code: 400, Message: "Forbidden: not enough rights to restrict/unrestrict chat member"}
	assert.True(t, shared.IsPermissionDenied(classify(err)))
}

func TestClassify_ChatNotFound(t *testing.T) {
	err := &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}
	assert.True(t, shared.IsNotFound(classify(err)))
}

func TestClassify_InvalidToken_IsFatal(t *testing.T) {
	err := &tgbotapi.Error{Code: 401, Message: "Unauthorized: invalid token"}
	assert.True(t, shared.IsFatal(classify(err)))
}

func TestClassify_NetworkError_IsTransient(t *testing.T) {
	err := errors.New("dial tcp: connection refused")
	assert.True(t, shared.IsTransient(classify(err)))
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, classify(nil))
}
