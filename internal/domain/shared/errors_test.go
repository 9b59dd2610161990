package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_ErrorMessage(t *testing.T) {
	err := NewDomainError("bot", "Find", ErrNotFound, "bot instance not found")
	assert.Equal(t, "bot.Find: bot instance not found", err.Error())
}

func TestDomainError_ErrorMessageWithCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError("telegram", "Call", ErrTransient, "sendMessage failed", cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestDomainError_IsMatchesKind(t *testing.T) {
	err := ErrBotInstanceNotFound
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestDomainError_IsMatchesWrappedCause(t *testing.T) {
	sentinel := errors.New("pool exhausted")
	err := WrapError("db", "Query", ErrTransient, "query failed", sentinel)
	assert.True(t, errors.Is(err, sentinel))
	assert.True(t, errors.Is(err, ErrTransient))
}

func TestPredicateHelpers(t *testing.T) {
	assert.True(t, IsNotFound(ErrGroupNotFound))
	assert.True(t, IsConflict(ErrCommandAlreadyClaimed))
	assert.True(t, IsPermissionDenied(ErrBotNotAdminInGroup))
	assert.True(t, IsRateLimited(ErrTelegramAPIRateLimited))
	assert.True(t, IsFatal(ErrBotTokenInvalid))
	assert.True(t, IsTransient(ErrTelegramAPIFailed))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrTelegramAPIFailed))
	assert.True(t, IsRetryable(ErrTelegramAPIRateLimited))
	assert.False(t, IsRetryable(ErrBotNotAdminInGroup))
	assert.False(t, IsRetryable(ErrCommandAlreadyClaimed))
}
