// Package command models AdminCommand, the queued instruction channel
// from the dashboard to a running bot worker, polled and executed by the
// Command Worker (spec §4.7).
package command

import (
	"encoding/json"
	"time"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// Type enumerates the admin command kinds the Command Worker knows how
// to dispatch.
type Type string

const (
	TypeBanUser       Type = "ban_user"
	TypeUnbanUser     Type = "unban_user"
	TypeResyncGroup   Type = "resync_group"
	TypeResyncChannel Type = "resync_channel"
	TypeSendMessage   Type = "send_message"
)

// IsKnown reports whether t is one of the recognized command types.
func (t Type) IsKnown() bool {
	switch t {
	case TypeBanUser, TypeUnbanUser, TypeResyncGroup, TypeResyncChannel, TypeSendMessage:
		return true
	default:
		return false
	}
}

// Status enumerates the lifecycle states an AdminCommand moves through.
// Movement is monotonic (pending -> processing -> completed|failed)
// except that a worker crash may strand a row in processing past a
// staleness threshold, which recovery reaps back to pending (spec §3
// invariant).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// BanUserPayload is the typed payload for TypeBanUser / TypeUnbanUser.
type BanUserPayload struct {
	GroupID int64  `json:"group_id"`
	UserID  int64  `json:"user_id"`
	Reason  string `json:"reason,omitempty"`
}

// ResyncPayload is the typed payload for TypeResyncGroup / TypeResyncChannel.
type ResyncPayload struct {
	TargetID int64 `json:"target_id"` // group_id or channel_id depending on command type
}

// SendMessagePayload is the typed payload for TypeSendMessage.
type SendMessagePayload struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// Command is a single queued instruction from the dashboard to a bot.
type Command struct {
	ID            string // UUID
	BotInstanceID int64
	Type          Type
	Payload       json.RawMessage
	Status        Status
	Error         string
	CreatedAt     time.Time
	ClaimedAt     *time.Time
	CompletedAt   *time.Time
}

// NewCommandParams carries the fields needed to enqueue a command.
type NewCommandParams struct {
	ID            string
	BotInstanceID int64
	Type          Type
	Payload       json.RawMessage
}

// NewCommand validates and constructs a Command in the pending state.
func NewCommand(p NewCommandParams) (*Command, error) {
	if p.ID == "" {
		return nil, shared.NewDomainError("command", "New", shared.ErrInvalidInput, "command id is required")
	}
	if p.BotInstanceID == 0 {
		return nil, shared.NewDomainError("command", "New", shared.ErrInvalidInput, "bot_instance_id cannot be zero")
	}
	if !p.Type.IsKnown() {
		return nil, shared.ErrCommandTypeUnknown
	}
	if len(p.Payload) == 0 {
		return nil, shared.ErrCommandPayloadInvalid
	}
	return &Command{
		ID:            p.ID,
		BotInstanceID: p.BotInstanceID,
		Type:          p.Type,
		Payload:       p.Payload,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// DecodeBanUserPayload decodes c.Payload as a BanUserPayload. Returns
// shared.ErrCommandPayloadInvalid on malformed JSON.
func (c *Command) DecodeBanUserPayload() (BanUserPayload, error) {
	var p BanUserPayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return p, shared.WrapError("command", "DecodeBanUserPayload", shared.ErrInvalidInput, "malformed payload", err)
	}
	return p, nil
}

// DecodeResyncPayload decodes c.Payload as a ResyncPayload.
func (c *Command) DecodeResyncPayload() (ResyncPayload, error) {
	var p ResyncPayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return p, shared.WrapError("command", "DecodeResyncPayload", shared.ErrInvalidInput, "malformed payload", err)
	}
	return p, nil
}

// DecodeSendMessagePayload decodes c.Payload as a SendMessagePayload.
func (c *Command) DecodeSendMessagePayload() (SendMessagePayload, error) {
	var p SendMessagePayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return p, shared.WrapError("command", "DecodeSendMessagePayload", shared.ErrInvalidInput, "malformed payload", err)
	}
	return p, nil
}

// MarkProcessing transitions pending -> processing, normally performed
// atomically by the repository's claim query rather than in-memory, but
// exposed here so callers can mutate a freshly-claimed row consistently.
func (c *Command) MarkProcessing() error {
	if c.Status != StatusPending {
		return shared.NewDomainError("command", "MarkProcessing", shared.ErrConflict, "command is not pending")
	}
	now := time.Now().UTC()
	c.Status = StatusProcessing
	c.ClaimedAt = &now
	return nil
}

// Complete transitions processing -> completed.
func (c *Command) Complete() error {
	if c.Status != StatusProcessing {
		return shared.NewDomainError("command", "Complete", shared.ErrConflict, "command is not processing")
	}
	now := time.Now().UTC()
	c.Status = StatusCompleted
	c.CompletedAt = &now
	return nil
}

// Fail transitions processing -> failed, recording the error message.
func (c *Command) Fail(reason string) error {
	if c.Status != StatusProcessing {
		return shared.NewDomainError("command", "Fail", shared.ErrConflict, "command is not processing")
	}
	now := time.Now().UTC()
	c.Status = StatusFailed
	c.Error = reason
	c.CompletedAt = &now
	return nil
}
