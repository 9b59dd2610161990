package telegram

import (
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// classify maps a raw error from the tgbotapi transport onto the
// platform's §7 error taxonomy. Everything the facade returns to its
// callers has already passed through here - callers never inspect
// tgbotapi types directly.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || apiErr.RetryAfter > 0:
			return shared.WrapError("telegram", "Call", shared.ErrRateLimited, apiErr.Message, err)
		case apiErr.Code >= 500:
			return shared.WrapError("telegram", "Call", shared.ErrTransient, apiErr.Message, err)
		case apiErr.Code == 403 || containsAny(apiErr.Message, "bot was blocked", "user is deactivated", "not enough rights", "CHAT_ADMIN_REQUIRED"):
			return shared.WrapError("telegram", "Call", shared.ErrPermissionDenied, apiErr.Message, err)
		case containsAny(apiErr.Message, "chat not found", "user not found", "message to delete not found", "message to edit not found"):
			return shared.WrapError("telegram", "Call", shared.ErrNotFound, apiErr.Message, err)
		case containsAny(apiErr.Message, "invalid token", "unauthorized", "bot was kicked"):
			return shared.WrapError("telegram", "Call", shared.ErrFatal, apiErr.Message, err)
		default:
			// Remaining 4xx responses (bad argument, malformed request) are
			// caller mistakes, never resolved by a retry.
			return shared.WrapError("telegram", "Call", shared.ErrInvalidInput, apiErr.Message, err)
		}
	}

	if containsAny(err.Error(), "timeout", "deadline exceeded", "connection refused", "connection reset", "EOF", "no such host") {
		return shared.WrapError("telegram", "Call", shared.ErrTransient, "network error calling Telegram", err)
	}

	return shared.WrapError("telegram", "Call", shared.ErrTransient, "unclassified Telegram client error", err)
}

// retryAfterSeconds extracts the Telegram-advertised retry_after seconds from a
// 429 response, or 0 if not present / not a rate-limit error.
func retryAfterSeconds(err error) int {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

func containsAny(s string, substrings ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
