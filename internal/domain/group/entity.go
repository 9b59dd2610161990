// Package group models protected Telegram groups, the channels they
// require subscription to, and the many-to-many link between them.
package group

import (
	"time"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// ProtectedGroup is a Telegram group in which enforcement runs. GroupID
// is the Telegram chat id (negative for supergroups) and is treated as
// an opaque identifier - never arithmetic, only equality.
type ProtectedGroup struct {
	ID            int64
	GroupID       shared.TelegramID
	OwnerUserID   shared.TelegramID
	BotInstanceID int64
	Title         string
	Enabled       bool
	Params        map[string]string
	MemberCount   int
	LastSyncAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewProtectedGroupParams carries the fields needed to protect a group,
// created when /protect succeeds inside it (spec §3).
type NewProtectedGroupParams struct {
	GroupID       shared.TelegramID
	OwnerUserID   shared.TelegramID
	BotInstanceID int64
	Title         string
}

// NewProtectedGroup validates and constructs a ProtectedGroup, enabled
// by default.
func NewProtectedGroup(p NewProtectedGroupParams) (*ProtectedGroup, error) {
	if !p.GroupID.IsValid() || !p.GroupID.IsGroupOrChannel() {
		return nil, shared.NewDomainError("group", "New", shared.ErrInvalidInput, "group_id must be a negative telegram chat id")
	}
	if !p.OwnerUserID.IsValid() {
		return nil, shared.NewDomainError("group", "New", shared.ErrInvalidInput, "owner_user_id cannot be zero")
	}
	if p.BotInstanceID == 0 {
		return nil, shared.NewDomainError("group", "New", shared.ErrInvalidInput, "bot_instance_id cannot be zero")
	}
	now := time.Now().UTC()
	return &ProtectedGroup{
		GroupID:       p.GroupID,
		OwnerUserID:   p.OwnerUserID,
		BotInstanceID: p.BotInstanceID,
		Title:         p.Title,
		Enabled:       true,
		Params:        map[string]string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Disable implements /unprotect: the row survives, enforcement stops.
func (g *ProtectedGroup) Disable() {
	g.Enabled = false
	g.UpdatedAt = time.Now().UTC()
}

// Enable re-protects a previously-unprotected group.
func (g *ProtectedGroup) Enable() {
	g.Enabled = true
	g.UpdatedAt = time.Now().UTC()
}

// RecordSync updates the cached member count after a Telegram sync.
func (g *ProtectedGroup) RecordSync(memberCount int) {
	now := time.Now().UTC()
	g.MemberCount = memberCount
	g.LastSyncAt = &now
	g.UpdatedAt = now
}

// EnforcedChannel is a Telegram channel whose subscription is required
// by one or more protected groups of the same bot.
type EnforcedChannel struct {
	ID              int64
	ChannelID       shared.TelegramID
	BotInstanceID   int64
	Title           string
	Username        string // optional, without leading "@"
	InviteLink      string // optional
	SubscriberCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewEnforcedChannelParams carries the fields needed to register a
// required channel against a bot.
type NewEnforcedChannelParams struct {
	ChannelID     shared.TelegramID
	BotInstanceID int64
	Title         string
	Username      string
	InviteLink    string
}

// NewEnforcedChannel validates and constructs an EnforcedChannel.
func NewEnforcedChannel(p NewEnforcedChannelParams) (*EnforcedChannel, error) {
	if !p.ChannelID.IsValid() {
		return nil, shared.NewDomainError("group", "NewChannel", shared.ErrInvalidInput, "channel_id cannot be zero")
	}
	if p.BotInstanceID == 0 {
		return nil, shared.NewDomainError("group", "NewChannel", shared.ErrInvalidInput, "bot_instance_id cannot be zero")
	}
	now := time.Now().UTC()
	return &EnforcedChannel{
		ChannelID:     p.ChannelID,
		BotInstanceID: p.BotInstanceID,
		Title:         p.Title,
		Username:      p.Username,
		InviteLink:    p.InviteLink,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// RecordSubscriberCount updates the cached subscriber count.
func (c *EnforcedChannel) RecordSubscriberCount(n int) {
	c.SubscriberCount = n
	c.UpdatedAt = time.Now().UTC()
}

// Link is the many-to-many binding of a protected group to a required
// channel. A user is authorized in a group iff they are a current
// member of every channel linked to that group (spec §3 semantic).
type Link struct {
	GroupID   int64 // ProtectedGroup.ID
	ChannelID int64 // EnforcedChannel.ID
	CreatedAt time.Time
}

// NewLink constructs a Link between a protected group row and an
// enforced channel row (both surrogate ids, not Telegram ids).
func NewLink(groupID, channelID int64) (*Link, error) {
	if groupID == 0 || channelID == 0 {
		return nil, shared.NewDomainError("group", "Link", shared.ErrInvalidInput, "group and channel ids are required")
	}
	return &Link{GroupID: groupID, ChannelID: channelID, CreatedAt: time.Now().UTC()}, nil
}

// WithChannels is the single-join query result described in spec §4.1:
// a protected group together with every channel currently linked to it,
// fetched in one round trip on the verification hot path.
type WithChannels struct {
	Group    ProtectedGroup
	Channels []EnforcedChannel
}

// RequiredChannelIDs returns the Telegram channel ids a member must
// belong to in order to pass verification for this group.
func (w WithChannels) RequiredChannelIDs() []shared.TelegramID {
	ids := make([]shared.TelegramID, 0, len(w.Channels))
	for _, c := range w.Channels {
		ids = append(ids, c.ChannelID)
	}
	return ids
}
