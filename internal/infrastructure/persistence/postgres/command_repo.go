package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nezuko-platform/nezuko-core/internal/domain/command"
	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// CommandRepository implements command.Repository for PostgreSQL.
type CommandRepository struct {
	conn *Connection
}

// NewCommandRepository creates a new CommandRepository.
func NewCommandRepository(conn *Connection) *CommandRepository {
	return &CommandRepository{conn: conn}
}

const commandColumns = `id, bot_instance_id, type, payload, status, error, created_at, claimed_at, completed_at`

// Create implements command.Repository.
func (r *CommandRepository) Create(ctx context.Context, c *command.Command) error {
	query := `
		INSERT INTO admin_commands (id, bot_instance_id, type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.conn.Exec(ctx, query, c.ID, c.BotInstanceID, string(c.Type), c.Payload, string(c.Status), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create admin command: %w", err)
	}
	return nil
}

// FindByID implements command.Repository.
func (r *CommandRepository) FindByID(ctx context.Context, id string) (*command.Command, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+commandColumns+` FROM admin_commands WHERE id = $1`, id)
	return r.scan(row)
}

// ClaimNextPending implements command.Repository using SELECT ... FOR
// UPDATE SKIP LOCKED so concurrently-polling Command Workers never claim
// the same row twice (spec §4.7, §5).
func (r *CommandRepository) ClaimNextPending(ctx context.Context, botInstanceID int64, limit int) ([]*command.Command, error) {
	var claimed []*command.Command

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		selectQuery := `
			SELECT id FROM admin_commands
			WHERE bot_instance_id = $1 AND status = 'pending'
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`
		rows, err := tx.Query(ctx, selectQuery, botInstanceID, limit)
		if err != nil {
			return fmt.Errorf("failed to select pending commands: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan pending command id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		updateQuery := `
			UPDATE admin_commands SET status = 'processing', claimed_at = NOW()
			WHERE id = ANY($1)
			RETURNING ` + commandColumns
		updated, err := tx.Query(ctx, updateQuery, ids)
		if err != nil {
			return fmt.Errorf("failed to claim pending commands: %w", err)
		}
		defer updated.Close()
		for updated.Next() {
			c, err := scanCommandRow(updated)
			if err != nil {
				return err
			}
			claimed = append(claimed, c)
		}
		return updated.Err()
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete implements command.Repository.
func (r *CommandRepository) Complete(ctx context.Context, id string) error {
	result, err := r.conn.Exec(ctx,
		`UPDATE admin_commands SET status = 'completed', completed_at = NOW() WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return fmt.Errorf("failed to complete admin command: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrCommandNotFound
	}
	return nil
}

// Fail implements command.Repository.
func (r *CommandRepository) Fail(ctx context.Context, id string, reason string) error {
	result, err := r.conn.Exec(ctx,
		`UPDATE admin_commands SET status = 'failed', error = $1, completed_at = NOW() WHERE id = $2 AND status = 'processing'`,
		reason, id)
	if err != nil {
		return fmt.Errorf("failed to fail admin command: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrCommandNotFound
	}
	return nil
}

// ReapStaleProcessing implements command.Repository: resets rows stuck
// in processing longer than olderThan back to pending, recovering from
// a worker crash that left rows claimed but never completed (spec §3
// invariant).
func (r *CommandRepository) ReapStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := r.conn.Exec(ctx,
		`UPDATE admin_commands SET status = 'pending', claimed_at = NULL WHERE status = 'processing' AND claimed_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale processing commands: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (r *CommandRepository) scan(row pgx.Row) (*command.Command, error) {
	var c command.Command
	var typ, status string
	if err := row.Scan(&c.ID, &c.BotInstanceID, &typ, &c.Payload, &status, &c.Error, &c.CreatedAt, &c.ClaimedAt, &c.CompletedAt); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCommandNotFound
		}
		return nil, fmt.Errorf("failed to scan admin command: %w", err)
	}
	c.Type = command.Type(typ)
	c.Status = command.Status(status)
	return &c, nil
}

func scanCommandRow(rows pgx.Rows) (*command.Command, error) {
	var c command.Command
	var typ, status string
	if err := rows.Scan(&c.ID, &c.BotInstanceID, &typ, &c.Payload, &status, &c.Error, &c.CreatedAt, &c.ClaimedAt, &c.CompletedAt); err != nil {
		return nil, fmt.Errorf("failed to scan admin command row: %w", err)
	}
	c.Type = command.Type(typ)
	c.Status = command.Status(status)
	return &c, nil
}
