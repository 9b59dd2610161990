package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nezuko-platform/nezuko-core/internal/domain/owner"
	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// OwnerRepository implements owner.Repository for PostgreSQL.
type OwnerRepository struct {
	conn *Connection
}

// NewOwnerRepository creates a new OwnerRepository.
func NewOwnerRepository(conn *Connection) *OwnerRepository {
	return &OwnerRepository{conn: conn}
}

// Upsert implements owner.Repository.
func (r *OwnerRepository) Upsert(ctx context.Context, o *owner.Owner) error {
	query := `
		INSERT INTO owners (user_id, username, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.conn.Exec(ctx, query, o.UserID.Int64(), o.Username, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert owner: %w", err)
	}
	return nil
}

// FindByUserID implements owner.Repository.
func (r *OwnerRepository) FindByUserID(ctx context.Context, userID shared.TelegramID) (*owner.Owner, error) {
	query := `SELECT user_id, username, created_at, updated_at FROM owners WHERE user_id = $1`
	row := r.conn.QueryRow(ctx, query, userID.Int64())
	return r.scan(row)
}

// Delete implements owner.Repository.
func (r *OwnerRepository) Delete(ctx context.Context, userID shared.TelegramID) error {
	result, err := r.conn.Exec(ctx, `DELETE FROM owners WHERE user_id = $1`, userID.Int64())
	if err != nil {
		return fmt.Errorf("failed to delete owner: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrOwnerNotFound
	}
	return nil
}

func (r *OwnerRepository) scan(row pgx.Row) (*owner.Owner, error) {
	var o owner.Owner
	var userID int64
	if err := row.Scan(&userID, &o.Username, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrOwnerNotFound
		}
		return nil, fmt.Errorf("failed to scan owner: %w", err)
	}
	o.UserID = shared.TelegramID(userID)
	return &o, nil
}
