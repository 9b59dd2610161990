package group

import (
	"context"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// Repository persists ProtectedGroup, EnforcedChannel, and Link
// aggregates. GetWithChannels is the hot-path query: a single join
// fetching a group and every channel currently linked to it, used by
// the Verification Service (C4) once per verification pass (spec
// §4.1, §4.4).
type Repository interface {
	CreateGroup(ctx context.Context, g *ProtectedGroup) (int64, error)
	UpdateGroup(ctx context.Context, g *ProtectedGroup) error

	// FindGroupByID returns shared.ErrNotFound if no row matches.
	FindGroupByID(ctx context.Context, id int64) (*ProtectedGroup, error)

	// FindGroupByTelegramID looks up a protected group by
	// (bot_instance_id, group_id), the invariant's unique key.
	FindGroupByTelegramID(ctx context.Context, botInstanceID int64, groupID shared.TelegramID) (*ProtectedGroup, error)

	// GetWithChannels fetches a group and its linked channels in one
	// round trip. Returns shared.ErrNotFound if the group does not exist;
	// a disabled group is returned with Enabled set to false.
	GetWithChannels(ctx context.Context, botInstanceID int64, groupID shared.TelegramID) (*WithChannels, error)

	ListGroupsByOwner(ctx context.Context, ownerUserID shared.TelegramID, opts ListOptions) ([]*ProtectedGroup, error)
	ListGroupsByBot(ctx context.Context, botInstanceID int64) ([]*ProtectedGroup, error)

	// ListGroupsByChannel is the reverse index spec §4.6 requires: every
	// enabled protected group of this bot that currently requires
	// channelID, used to eagerly re-verify members when a "left|kicked"
	// chat_member update arrives for an EnforcedChannel.
	ListGroupsByChannel(ctx context.Context, botInstanceID int64, channelID shared.TelegramID) ([]*ProtectedGroup, error)

	CreateChannel(ctx context.Context, c *EnforcedChannel) (int64, error)
	UpdateChannel(ctx context.Context, c *EnforcedChannel) error

	// FindChannelByID returns shared.ErrNotFound if no row matches.
	FindChannelByID(ctx context.Context, id int64) (*EnforcedChannel, error)

	// FindChannelByTelegramID looks up by (bot_instance_id, channel_id).
	FindChannelByTelegramID(ctx context.Context, botInstanceID int64, channelID shared.TelegramID) (*EnforcedChannel, error)

	ListChannelsByBot(ctx context.Context, botInstanceID int64) ([]*EnforcedChannel, error)

	// LinkChannel creates a Link; returns shared.ErrChannelLinkAlreadyExists
	// if (group_id, channel_id) already exists.
	LinkChannel(ctx context.Context, groupID, channelID int64) error

	// UnlinkChannel deletes a Link. Returns shared.ErrChannelLinkNotFound
	// if no such link exists.
	UnlinkChannel(ctx context.Context, groupID, channelID int64) error
}

// ListOptions configures the List* queries.
type ListOptions struct {
	Offset      int
	Limit       int
	OnlyEnabled bool
}

// WithOffset sets the offset and returns the options for chaining.
func (o ListOptions) WithOffset(offset int) ListOptions {
	o.Offset = offset
	return o
}

// WithLimit sets the limit and returns the options for chaining.
func (o ListOptions) WithLimit(limit int) ListOptions {
	o.Limit = limit
	return o
}

// WithOnlyEnabled restricts results to enabled groups.
func (o ListOptions) WithOnlyEnabled() ListOptions {
	o.OnlyEnabled = true
	return o
}

// DefaultListOptions returns sane defaults matching shared.DefaultPageSize.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: shared.DefaultPageSize}
}
