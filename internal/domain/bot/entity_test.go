package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

func validParams() NewInstanceParams {
	ownerID, _ := shared.NewTelegramID(1)
	return NewInstanceParams{
		OwnerUserID:     ownerID,
		BotID:           1001,
		BotUsername:     "@my_bot",
		TokenCiphertext: []byte("ciphertext"),
	}
}

func TestNewInstance_OK(t *testing.T) {
	b, err := NewInstance(validParams())
	require.NoError(t, err)
	assert.True(t, b.IsActive)
	assert.False(t, b.IsDeleted())
	assert.Equal(t, "my_bot", b.BotUsername, "leading @ is stripped")
	assert.True(t, b.Startable())
}

func TestNewInstance_RejectsMissingToken(t *testing.T) {
	p := validParams()
	p.TokenCiphertext = nil
	_, err := NewInstance(p)
	assert.ErrorIs(t, err, shared.ErrFatal)
}

func TestNewInstance_RejectsZeroBotID(t *testing.T) {
	p := validParams()
	p.BotID = 0
	_, err := NewInstance(p)
	assert.Error(t, err)
}

func TestInstance_SoftDelete_NotStartable(t *testing.T) {
	b, _ := NewInstance(validParams())
	b.SoftDelete()
	assert.True(t, b.IsDeleted())
	assert.False(t, b.Startable())
	assert.False(t, b.IsActive)
}

func TestInstance_Activate_RejectsDeleted(t *testing.T) {
	b, _ := NewInstance(validParams())
	b.SoftDelete()
	err := b.Activate()
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestInstance_Deactivate(t *testing.T) {
	b, _ := NewInstance(validParams())
	b.Deactivate()
	assert.False(t, b.IsActive)
	assert.False(t, b.Startable())
}
