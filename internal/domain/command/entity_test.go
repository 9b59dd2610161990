package command

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

func TestNewCommand_RejectsUnknownType(t *testing.T) {
	_, err := NewCommand(NewCommandParams{
		ID: "cmd-1", BotInstanceID: 1, Type: "not_a_type", Payload: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, shared.ErrCommandTypeUnknown)
}

func TestNewCommand_RejectsEmptyPayload(t *testing.T) {
	_, err := NewCommand(NewCommandParams{
		ID: "cmd-1", BotInstanceID: 1, Type: TypeBanUser,
	})
	assert.ErrorIs(t, err, shared.ErrCommandPayloadInvalid)
}

func TestNewCommand_OK(t *testing.T) {
	payload, _ := json.Marshal(BanUserPayload{GroupID: -100, UserID: 42})
	c, err := NewCommand(NewCommandParams{
		ID: "cmd-1", BotInstanceID: 1, Type: TypeBanUser, Payload: payload,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, c.Status)
}

func TestCommand_DecodeBanUserPayload(t *testing.T) {
	payload, _ := json.Marshal(BanUserPayload{GroupID: -100, UserID: 42, Reason: "spam"})
	c, err := NewCommand(NewCommandParams{ID: "cmd-1", BotInstanceID: 1, Type: TypeBanUser, Payload: payload})
	require.NoError(t, err)

	decoded, err := c.DecodeBanUserPayload()
	require.NoError(t, err)
	assert.Equal(t, int64(-100), decoded.GroupID)
	assert.Equal(t, int64(42), decoded.UserID)
	assert.Equal(t, "spam", decoded.Reason)
}

func TestCommand_LifecycleTransitions(t *testing.T) {
	payload, _ := json.Marshal(ResyncPayload{TargetID: -100})
	c, err := NewCommand(NewCommandParams{ID: "cmd-1", BotInstanceID: 1, Type: TypeResyncGroup, Payload: payload})
	require.NoError(t, err)

	require.NoError(t, c.MarkProcessing())
	assert.Equal(t, StatusProcessing, c.Status)
	require.NotNil(t, c.ClaimedAt)

	require.NoError(t, c.Complete())
	assert.Equal(t, StatusCompleted, c.Status)
	require.NotNil(t, c.CompletedAt)
}

func TestCommand_Fail_RequiresProcessing(t *testing.T) {
	payload, _ := json.Marshal(ResyncPayload{TargetID: -100})
	c, err := NewCommand(NewCommandParams{ID: "cmd-1", BotInstanceID: 1, Type: TypeResyncGroup, Payload: payload})
	require.NoError(t, err)

	err = c.Fail("boom")
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestCommand_MarkProcessing_RejectsNonPending(t *testing.T) {
	payload, _ := json.Marshal(ResyncPayload{TargetID: -100})
	c, err := NewCommand(NewCommandParams{ID: "cmd-1", BotInstanceID: 1, Type: TypeResyncGroup, Payload: payload})
	require.NoError(t, err)
	require.NoError(t, c.MarkProcessing())

	err = c.MarkProcessing()
	assert.ErrorIs(t, err, shared.ErrConflict)
}
