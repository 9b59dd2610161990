// Package verification models verification verdicts and the append-only
// log rows the platform records for analytics and audit (spec §3, §4.4,
// §4.10). Nothing in this package is read on the hot path - VerificationLog
// and ApiCallLog exist only for the live feed, analytics, and audit.
package verification

import (
	"time"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// VerdictKind enumerates the outcome of a membership verification pass.
type VerdictKind string

const (
	VerdictVerified   VerdictKind = "verified"
	VerdictRestricted VerdictKind = "restricted"
	VerdictError      VerdictKind = "error"
)

// Verdict is the typed result of one verification pass against a user,
// returned by the Verification Service (C4) to its caller.
type Verdict struct {
	Kind             VerdictKind
	MissingChannelID shared.TelegramID // set only when Kind == VerdictRestricted
	ErrorKind        string            // set only when Kind == VerdictError
	Cached           bool
	LatencyMS        int64
}

// Verified reports whether the verdict authorizes the user.
func (v Verdict) Verified() bool {
	return v.Kind == VerdictVerified
}

// Log is an append-only record of one verification verdict.
type Log struct {
	UserID        shared.TelegramID
	GroupID       shared.TelegramID
	ChannelID     shared.TelegramID // 0 when not applicable to a single channel
	BotInstanceID int64
	Status        VerdictKind
	LatencyMS     int64
	Cached        bool
	ErrorType     string
	Timestamp     time.Time
}

// NewLog constructs a VerificationLog row from a completed Verdict.
func NewLog(botInstanceID int64, groupID, userID shared.TelegramID, v Verdict) *Log {
	return &Log{
		UserID:        userID,
		GroupID:       groupID,
		ChannelID:     v.MissingChannelID,
		BotInstanceID: botInstanceID,
		Status:        v.Kind,
		LatencyMS:     v.LatencyMS,
		Cached:        v.Cached,
		ErrorType:     v.ErrorKind,
		Timestamp:     time.Now().UTC(),
	}
}

// APICallLog is an append-only record of one Telegram Bot API call.
type APICallLog struct {
	Method        string
	BotInstanceID int64
	ChatID        int64 // 0 when not chat-scoped
	UserID        int64 // 0 when not user-scoped
	Success       bool
	LatencyMS     int64
	ErrorCategory string
	Timestamp     time.Time
}

// NewAPICallLog constructs an ApiCallLog row.
func NewAPICallLog(botInstanceID int64, method string, chatID, userID int64, success bool, latencyMS int64, errorCategory string) *APICallLog {
	return &APICallLog{
		Method:        method,
		BotInstanceID: botInstanceID,
		ChatID:        chatID,
		UserID:        userID,
		Success:       success,
		LatencyMS:     latencyMS,
		ErrorCategory: errorCategory,
		Timestamp:     time.Now().UTC(),
	}
}
