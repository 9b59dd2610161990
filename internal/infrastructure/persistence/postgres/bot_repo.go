package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nezuko-platform/nezuko-core/internal/domain/bot"
	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// BotRepository implements bot.Repository for PostgreSQL.
type BotRepository struct {
	conn *Connection
}

// NewBotRepository creates a new BotRepository.
func NewBotRepository(conn *Connection) *BotRepository {
	return &BotRepository{conn: conn}
}

const botColumns = `id, owner_user_id, bot_id, bot_username, display_name, token_ciphertext,
	is_active, created_at, updated_at, deleted_at`

// Create implements bot.Repository.
func (r *BotRepository) Create(ctx context.Context, b *bot.Instance) (int64, error) {
	query := `
		INSERT INTO bot_instances (owner_user_id, bot_id, bot_username, display_name, token_ciphertext, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	var id int64
	err := r.conn.QueryRow(ctx, query,
		b.OwnerUserID.Int64(), b.BotID, b.BotUsername, b.DisplayName, b.TokenCiphertext,
		b.IsActive, b.CreatedAt, b.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if IsUniqueViolation(err) {
			return 0, shared.ErrBotAlreadyRegistered
		}
		return 0, fmt.Errorf("failed to create bot instance: %w", err)
	}
	return id, nil
}

// Update implements bot.Repository.
func (r *BotRepository) Update(ctx context.Context, b *bot.Instance) error {
	query := `
		UPDATE bot_instances SET
			bot_username = $1, display_name = $2, is_active = $3, updated_at = $4, deleted_at = $5
		WHERE id = $6
	`
	result, err := r.conn.Exec(ctx, query, b.BotUsername, b.DisplayName, b.IsActive, b.UpdatedAt, b.DeletedAt, b.ID)
	if err != nil {
		return fmt.Errorf("failed to update bot instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrBotInstanceNotFound
	}
	return nil
}

// FindByID implements bot.Repository.
func (r *BotRepository) FindByID(ctx context.Context, id int64) (*bot.Instance, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+botColumns+` FROM bot_instances WHERE id = $1`, id)
	return r.scan(row)
}

// FindByBotID implements bot.Repository.
func (r *BotRepository) FindByBotID(ctx context.Context, botID int64) (*bot.Instance, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+botColumns+` FROM bot_instances WHERE bot_id = $1`, botID)
	return r.scan(row)
}

// ListByOwner implements bot.Repository.
func (r *BotRepository) ListByOwner(ctx context.Context, ownerUserID shared.TelegramID, opts bot.ListOptions) ([]*bot.Instance, error) {
	query := `SELECT ` + botColumns + ` FROM bot_instances WHERE owner_user_id = $1`
	if !opts.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY created_at DESC OFFSET $2 LIMIT $3`

	rows, err := r.conn.Query(ctx, query, ownerUserID.Int64(), opts.Offset, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bot instances: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// ListStartable implements bot.Repository.
func (r *BotRepository) ListStartable(ctx context.Context) ([]*bot.Instance, error) {
	query := `SELECT ` + botColumns + ` FROM bot_instances WHERE is_active = TRUE AND deleted_at IS NULL ORDER BY id`
	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list startable bot instances: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// SoftDelete implements bot.Repository.
func (r *BotRepository) SoftDelete(ctx context.Context, id int64) error {
	result, err := r.conn.Exec(ctx, `UPDATE bot_instances SET deleted_at = NOW(), is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to soft delete bot instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrBotInstanceNotFound
	}
	return nil
}

func (r *BotRepository) scan(row pgx.Row) (*bot.Instance, error) {
	var b bot.Instance
	var ownerUserID int64
	if err := row.Scan(
		&b.ID, &ownerUserID, &b.BotID, &b.BotUsername, &b.DisplayName, &b.TokenCiphertext,
		&b.IsActive, &b.CreatedAt, &b.UpdatedAt, &b.DeletedAt,
	); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrBotInstanceNotFound
		}
		return nil, fmt.Errorf("failed to scan bot instance: %w", err)
	}
	b.OwnerUserID = shared.TelegramID(ownerUserID)
	return &b, nil
}

func (r *BotRepository) scanAll(rows pgx.Rows) ([]*bot.Instance, error) {
	var out []*bot.Instance
	for rows.Next() {
		var b bot.Instance
		var ownerUserID int64
		if err := rows.Scan(
			&b.ID, &ownerUserID, &b.BotID, &b.BotUsername, &b.DisplayName, &b.TokenCiphertext,
			&b.IsActive, &b.CreatedAt, &b.UpdatedAt, &b.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bot instance row: %w", err)
		}
		b.OwnerUserID = shared.TelegramID(ownerUserID)
		out = append(out, &b)
	}
	return out, rows.Err()
}
