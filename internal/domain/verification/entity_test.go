package verification

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

func TestVerdict_Verified(t *testing.T) {
	assert.True(t, Verdict{Kind: VerdictVerified}.Verified())
	assert.False(t, Verdict{Kind: VerdictRestricted}.Verified())
	assert.False(t, Verdict{Kind: VerdictError}.Verified())
}

func TestNewLog_CarriesVerdictFields(t *testing.T) {
	groupID, _ := shared.NewTelegramID(-100)
	userID, _ := shared.NewTelegramID(42)
	channelID, _ := shared.NewTelegramID(-200)

	v := Verdict{Kind: VerdictRestricted, MissingChannelID: channelID, Cached: true, LatencyMS: 12}
	log := NewLog(1, groupID, userID, v)

	assert.Equal(t, VerdictRestricted, log.Status)
	assert.Equal(t, channelID, log.ChannelID)
	assert.True(t, log.Cached)
	assert.Equal(t, int64(12), log.LatencyMS)
}

func TestNewAPICallLog(t *testing.T) {
	log := NewAPICallLog(1, "sendMessage", -100, 0, false, 340, "rate_limited")
	assert.Equal(t, "sendMessage", log.Method)
	assert.False(t, log.Success)
	assert.Equal(t, "rate_limited", log.ErrorCategory)
}
