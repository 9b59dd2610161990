// Package bot models a single Telegram bot instance controlled by the
// platform: its identity, its encrypted token, and its active/soft-deleted
// lifecycle.
package bot

import (
	"strings"
	"time"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// Instance is one Telegram bot controlled by the platform. A single
// owner may control many instances; each instance is started, stopped,
// and supervised independently (spec §4.9).
type Instance struct {
	ID              int64             // surrogate primary key
	OwnerUserID     shared.TelegramID
	BotID           int64             // Telegram-assigned bot user id, globally unique
	BotUsername     string            // without leading "@"
	DisplayName     string            // optional
	TokenCiphertext []byte            // chacha20poly1305 ciphertext, never plaintext
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time // soft-delete; nil means live
}

// IsDeleted reports whether the instance has been soft-deleted. A
// deleted instance must never be started by the Bot Supervisor (spec
// §3 invariant).
func (b *Instance) IsDeleted() bool {
	return b.DeletedAt != nil
}

// Startable reports whether the supervisor is allowed to spawn a worker
// for this instance.
func (b *Instance) Startable() bool {
	return b.IsActive && !b.IsDeleted()
}

// NewInstanceParams carries the fields needed to register a new bot.
// TokenCiphertext is produced by the caller (application layer) via
// pkg/security.TokenCipher after the plaintext token has already been
// verified against Telegram's getMe - this package never sees plaintext.
type NewInstanceParams struct {
	OwnerUserID     shared.TelegramID
	BotID           int64
	BotUsername     string
	DisplayName     string
	TokenCiphertext []byte
}

// NewInstance validates and constructs a new bot Instance, active by
// default.
func NewInstance(p NewInstanceParams) (*Instance, error) {
	if !p.OwnerUserID.IsValid() {
		return nil, shared.NewDomainError("bot", "New", shared.ErrInvalidInput, "owner_user_id cannot be zero")
	}
	if p.BotID == 0 {
		return nil, shared.NewDomainError("bot", "New", shared.ErrInvalidInput, "bot_id cannot be zero")
	}
	if strings.TrimSpace(p.BotUsername) == "" {
		return nil, shared.NewDomainError("bot", "New", shared.ErrInvalidInput, "bot_username is required")
	}
	if len(p.TokenCiphertext) == 0 {
		return nil, shared.ErrBotTokenInvalid
	}
	now := time.Now().UTC()
	return &Instance{
		OwnerUserID:     p.OwnerUserID,
		BotID:           p.BotID,
		BotUsername:     strings.TrimPrefix(p.BotUsername, "@"),
		DisplayName:     p.DisplayName,
		TokenCiphertext: p.TokenCiphertext,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Activate flips IsActive on, allowing the supervisor to (re)start it.
func (b *Instance) Activate() error {
	if b.IsDeleted() {
		return shared.NewDomainError("bot", "Activate", shared.ErrConflict, "cannot activate a soft-deleted bot instance")
	}
	b.IsActive = true
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// Deactivate flips IsActive off; the supervisor must stop the running
// worker, if any, on the next sync tick.
func (b *Instance) Deactivate() {
	b.IsActive = false
	b.UpdatedAt = time.Now().UTC()
}

// SoftDelete marks the instance deleted. Deleted instances are retained
// (never hard-deleted) because VerificationLog/ApiCallLog rows reference
// them (spec §3).
func (b *Instance) SoftDelete() {
	now := time.Now().UTC()
	b.DeletedAt = &now
	b.IsActive = false
	b.UpdatedAt = now
}

// Rename updates the bot's display name.
func (b *Instance) Rename(displayName string) {
	b.DisplayName = displayName
	b.UpdatedAt = time.Now().UTC()
}
