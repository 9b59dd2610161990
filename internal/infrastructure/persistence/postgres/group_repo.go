package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nezuko-platform/nezuko-core/internal/domain/group"
	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// GroupRepository implements group.Repository for PostgreSQL.
type GroupRepository struct {
	conn *Connection
}

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(conn *Connection) *GroupRepository {
	return &GroupRepository{conn: conn}
}

const groupColumns = `id, group_id, owner_user_id, bot_instance_id, title, enabled, params,
	member_count, last_sync_at, created_at, updated_at`

// CreateGroup implements group.Repository.
func (r *GroupRepository) CreateGroup(ctx context.Context, g *group.ProtectedGroup) (int64, error) {
	paramsJSON, err := json.Marshal(g.Params)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal group params: %w", err)
	}
	query := `
		INSERT INTO protected_groups (group_id, owner_user_id, bot_instance_id, title, enabled, params, member_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	var id int64
	err = r.conn.QueryRow(ctx, query,
		g.GroupID.Int64(), g.OwnerUserID.Int64(), g.BotInstanceID, g.Title, g.Enabled, paramsJSON,
		g.MemberCount, g.CreatedAt, g.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if IsUniqueViolation(err) {
			return 0, shared.ErrGroupAlreadyProtected
		}
		return 0, fmt.Errorf("failed to create protected group: %w", err)
	}
	return id, nil
}

// UpdateGroup implements group.Repository.
func (r *GroupRepository) UpdateGroup(ctx context.Context, g *group.ProtectedGroup) error {
	paramsJSON, err := json.Marshal(g.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal group params: %w", err)
	}
	query := `
		UPDATE protected_groups SET
			title = $1, enabled = $2, params = $3, member_count = $4, last_sync_at = $5, updated_at = $6
		WHERE id = $7
	`
	result, err := r.conn.Exec(ctx, query, g.Title, g.Enabled, paramsJSON, g.MemberCount, g.LastSyncAt, g.UpdatedAt, g.ID)
	if err != nil {
		return fmt.Errorf("failed to update protected group: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrGroupNotFound
	}
	return nil
}

// FindGroupByID implements group.Repository.
func (r *GroupRepository) FindGroupByID(ctx context.Context, id int64) (*group.ProtectedGroup, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+groupColumns+` FROM protected_groups WHERE id = $1`, id)
	return r.scanGroup(row)
}

// FindGroupByTelegramID implements group.Repository.
func (r *GroupRepository) FindGroupByTelegramID(ctx context.Context, botInstanceID int64, groupID shared.TelegramID) (*group.ProtectedGroup, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM protected_groups WHERE bot_instance_id = $1 AND group_id = $2`,
		botInstanceID, groupID.Int64())
	return r.scanGroup(row)
}

// GetWithChannels implements group.Repository. This is the hot-path
// single-join query (spec §4.1, §4.4): one round trip returning the
// group row and every channel currently linked to it. Deliberately does
// NOT filter on pg.enabled: a disabled group must still come back (with
// Enabled: false) so the Verification Service can apply its "disabled
// group => Verified immediately" rule itself, rather than the caller
// seeing ErrGroupNotFound for a group that does in fact exist.
func (r *GroupRepository) GetWithChannels(ctx context.Context, botInstanceID int64, groupID shared.TelegramID) (*group.WithChannels, error) {
	query := `
		SELECT
			pg.id, pg.group_id, pg.owner_user_id, pg.bot_instance_id, pg.title, pg.enabled, pg.params,
			pg.member_count, pg.last_sync_at, pg.created_at, pg.updated_at,
			ec.id, ec.channel_id, ec.bot_instance_id, ec.title, ec.username, ec.invite_link,
			ec.subscriber_count
		FROM protected_groups pg
		LEFT JOIN group_channel_links gcl ON gcl.group_id = pg.id
		LEFT JOIN enforced_channels ec ON ec.id = gcl.channel_id
		WHERE pg.bot_instance_id = $1 AND pg.group_id = $2
	`
	rows, err := r.conn.Query(ctx, query, botInstanceID, groupID.Int64())
	if err != nil {
		return nil, fmt.Errorf("failed to query group with channels: %w", err)
	}
	defer rows.Close()

	var result *group.WithChannels
	for rows.Next() {
		var g group.ProtectedGroup
		var ownerUserID, groupTelegramID int64
		var paramsJSON []byte

		var chanID, chanTelegramID, chanBotID *int64
		var chanTitle, chanUsername, chanInviteLink *string
		var chanSubCount *int

		if err := rows.Scan(
			&g.ID, &groupTelegramID, &ownerUserID, &g.BotInstanceID, &g.Title, &g.Enabled, &paramsJSON,
			&g.MemberCount, &g.LastSyncAt, &g.CreatedAt, &g.UpdatedAt,
			&chanID, &chanTelegramID, &chanBotID, &chanTitle, &chanUsername, &chanInviteLink,
			&chanSubCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan group with channels row: %w", err)
		}

		if result == nil {
			g.GroupID = shared.TelegramID(groupTelegramID)
			g.OwnerUserID = shared.TelegramID(ownerUserID)
			_ = json.Unmarshal(paramsJSON, &g.Params)
			result = &group.WithChannels{Group: g}
		}
		if chanID != nil {
			result.Channels = append(result.Channels, group.EnforcedChannel{
				ID:              *chanID,
				ChannelID:       shared.TelegramID(*chanTelegramID),
				BotInstanceID:   *chanBotID,
				Title:           deref(chanTitle),
				Username:        deref(chanUsername),
				InviteLink:      deref(chanInviteLink),
				SubscriberCount: derefInt(chanSubCount),
			})
		}
	}
	if result == nil {
		return nil, shared.ErrGroupNotFound
	}
	return result, rows.Err()
}

// ListGroupsByOwner implements group.Repository.
func (r *GroupRepository) ListGroupsByOwner(ctx context.Context, ownerUserID shared.TelegramID, opts group.ListOptions) ([]*group.ProtectedGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM protected_groups WHERE owner_user_id = $1`
	if opts.OnlyEnabled {
		query += ` AND enabled = TRUE`
	}
	query += ` ORDER BY created_at DESC OFFSET $2 LIMIT $3`

	rows, err := r.conn.Query(ctx, query, ownerUserID.Int64(), opts.Offset, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list protected groups: %w", err)
	}
	defer rows.Close()
	return r.scanGroups(rows)
}

// ListGroupsByBot implements group.Repository.
func (r *GroupRepository) ListGroupsByBot(ctx context.Context, botInstanceID int64) ([]*group.ProtectedGroup, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+groupColumns+` FROM protected_groups WHERE bot_instance_id = $1`, botInstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list protected groups for bot: %w", err)
	}
	defer rows.Close()
	return r.scanGroups(rows)
}

// ListGroupsByChannel implements group.Repository - the reverse index
// used to eagerly re-verify members when a channel membership goes
// stale (spec §4.6).
func (r *GroupRepository) ListGroupsByChannel(ctx context.Context, botInstanceID int64, channelID shared.TelegramID) ([]*group.ProtectedGroup, error) {
	query := `
		SELECT pg.id, pg.group_id, pg.owner_user_id, pg.bot_instance_id, pg.title, pg.enabled, pg.params,
			pg.member_count, pg.last_sync_at, pg.created_at, pg.updated_at
		FROM protected_groups pg
		JOIN group_channel_links gcl ON gcl.group_id = pg.id
		JOIN enforced_channels ec ON ec.id = gcl.channel_id
		WHERE pg.bot_instance_id = $1 AND ec.channel_id = $2 AND pg.enabled = TRUE
	`
	rows, err := r.conn.Query(ctx, query, botInstanceID, channelID.Int64())
	if err != nil {
		return nil, fmt.Errorf("failed to list groups by channel: %w", err)
	}
	defer rows.Close()
	return r.scanGroups(rows)
}

const channelColumns = `id, channel_id, bot_instance_id, title, username, invite_link, subscriber_count, created_at, updated_at`

// CreateChannel implements group.Repository.
func (r *GroupRepository) CreateChannel(ctx context.Context, c *group.EnforcedChannel) (int64, error) {
	query := `
		INSERT INTO enforced_channels (channel_id, bot_instance_id, title, username, invite_link, subscriber_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	var id int64
	err := r.conn.QueryRow(ctx, query,
		c.ChannelID.Int64(), c.BotInstanceID, c.Title, c.Username, c.InviteLink, c.SubscriberCount, c.CreatedAt, c.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create enforced channel: %w", err)
	}
	return id, nil
}

// UpdateChannel implements group.Repository.
func (r *GroupRepository) UpdateChannel(ctx context.Context, c *group.EnforcedChannel) error {
	query := `
		UPDATE enforced_channels SET
			title = $1, username = $2, invite_link = $3, subscriber_count = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := r.conn.Exec(ctx, query, c.Title, c.Username, c.InviteLink, c.SubscriberCount, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update enforced channel: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrChannelNotFound
	}
	return nil
}

// FindChannelByID implements group.Repository.
func (r *GroupRepository) FindChannelByID(ctx context.Context, id int64) (*group.EnforcedChannel, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+channelColumns+` FROM enforced_channels WHERE id = $1`, id)
	return r.scanChannel(row)
}

// FindChannelByTelegramID implements group.Repository.
func (r *GroupRepository) FindChannelByTelegramID(ctx context.Context, botInstanceID int64, channelID shared.TelegramID) (*group.EnforcedChannel, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM enforced_channels WHERE bot_instance_id = $1 AND channel_id = $2`,
		botInstanceID, channelID.Int64())
	return r.scanChannel(row)
}

// ListChannelsByBot implements group.Repository.
func (r *GroupRepository) ListChannelsByBot(ctx context.Context, botInstanceID int64) ([]*group.EnforcedChannel, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+channelColumns+` FROM enforced_channels WHERE bot_instance_id = $1`, botInstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enforced channels: %w", err)
	}
	defer rows.Close()

	var out []*group.EnforcedChannel
	for rows.Next() {
		c, err := scanChannelRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LinkChannel implements group.Repository.
func (r *GroupRepository) LinkChannel(ctx context.Context, groupID, channelID int64) error {
	_, err := r.conn.Exec(ctx, `INSERT INTO group_channel_links (group_id, channel_id) VALUES ($1, $2)`, groupID, channelID)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrChannelLinkAlreadyExists
		}
		return fmt.Errorf("failed to link channel: %w", err)
	}
	return nil
}

// UnlinkChannel implements group.Repository.
func (r *GroupRepository) UnlinkChannel(ctx context.Context, groupID, channelID int64) error {
	result, err := r.conn.Exec(ctx, `DELETE FROM group_channel_links WHERE group_id = $1 AND channel_id = $2`, groupID, channelID)
	if err != nil {
		return fmt.Errorf("failed to unlink channel: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrChannelLinkNotFound
	}
	return nil
}

func (r *GroupRepository) scanGroup(row pgx.Row) (*group.ProtectedGroup, error) {
	var g group.ProtectedGroup
	var ownerUserID, groupTelegramID int64
	var paramsJSON []byte
	if err := row.Scan(
		&g.ID, &groupTelegramID, &ownerUserID, &g.BotInstanceID, &g.Title, &g.Enabled, &paramsJSON,
		&g.MemberCount, &g.LastSyncAt, &g.CreatedAt, &g.UpdatedAt,
	); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to scan protected group: %w", err)
	}
	g.GroupID = shared.TelegramID(groupTelegramID)
	g.OwnerUserID = shared.TelegramID(ownerUserID)
	_ = json.Unmarshal(paramsJSON, &g.Params)
	return &g, nil
}

func (r *GroupRepository) scanGroups(rows pgx.Rows) ([]*group.ProtectedGroup, error) {
	var out []*group.ProtectedGroup
	for rows.Next() {
		var g group.ProtectedGroup
		var ownerUserID, groupTelegramID int64
		var paramsJSON []byte
		if err := rows.Scan(
			&g.ID, &groupTelegramID, &ownerUserID, &g.BotInstanceID, &g.Title, &g.Enabled, &paramsJSON,
			&g.MemberCount, &g.LastSyncAt, &g.CreatedAt, &g.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan protected group row: %w", err)
		}
		g.GroupID = shared.TelegramID(groupTelegramID)
		g.OwnerUserID = shared.TelegramID(ownerUserID)
		_ = json.Unmarshal(paramsJSON, &g.Params)
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (r *GroupRepository) scanChannel(row pgx.Row) (*group.EnforcedChannel, error) {
	var c group.EnforcedChannel
	var channelID int64
	if err := row.Scan(&c.ID, &channelID, &c.BotInstanceID, &c.Title, &c.Username, &c.InviteLink, &c.SubscriberCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrChannelNotFound
		}
		return nil, fmt.Errorf("failed to scan enforced channel: %w", err)
	}
	c.ChannelID = shared.TelegramID(channelID)
	return &c, nil
}

func scanChannelRow(rows pgx.Rows) (*group.EnforcedChannel, error) {
	var c group.EnforcedChannel
	var channelID int64
	if err := rows.Scan(&c.ID, &channelID, &c.BotInstanceID, &c.Title, &c.Username, &c.InviteLink, &c.SubscriberCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan enforced channel row: %w", err)
	}
	c.ChannelID = shared.TelegramID(channelID)
	return &c, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
