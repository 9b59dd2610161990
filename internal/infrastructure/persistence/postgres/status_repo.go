package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
	"github.com/nezuko-platform/nezuko-core/internal/domain/status"
)

// StatusRepository implements status.Repository for PostgreSQL.
type StatusRepository struct {
	conn *Connection
}

// NewStatusRepository creates a new StatusRepository.
func NewStatusRepository(conn *Connection) *StatusRepository {
	return &StatusRepository{conn: conn}
}

const statusColumns = `bot_instance_id, status, started_at, last_heartbeat, uptime_seconds, last_error`

// Upsert implements status.Repository - BotStatus is exactly one row
// per bot, always written via upsert (spec §3).
func (r *StatusRepository) Upsert(ctx context.Context, s *status.BotStatus) error {
	query := `
		INSERT INTO bot_statuses (bot_instance_id, status, started_at, last_heartbeat, uptime_seconds, last_error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bot_instance_id) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			last_heartbeat = EXCLUDED.last_heartbeat,
			uptime_seconds = EXCLUDED.uptime_seconds,
			last_error = EXCLUDED.last_error
	`
	_, err := r.conn.Exec(ctx, query, s.BotInstanceID, string(s.Status), s.StartedAt, s.LastHeartbeat, s.UptimeSeconds, s.LastError)
	if err != nil {
		return fmt.Errorf("failed to upsert bot status: %w", err)
	}
	return nil
}

// FindByBotInstanceID implements status.Repository.
func (r *StatusRepository) FindByBotInstanceID(ctx context.Context, botInstanceID int64) (*status.BotStatus, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+statusColumns+` FROM bot_statuses WHERE bot_instance_id = $1`, botInstanceID)
	return r.scan(row)
}

// ListAll implements status.Repository.
func (r *StatusRepository) ListAll(ctx context.Context) ([]*status.BotStatus, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+statusColumns+` FROM bot_statuses`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bot statuses: %w", err)
	}
	defer rows.Close()

	var out []*status.BotStatus
	for rows.Next() {
		var s status.BotStatus
		var st string
		if err := rows.Scan(&s.BotInstanceID, &st, &s.StartedAt, &s.LastHeartbeat, &s.UptimeSeconds, &s.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan bot status row: %w", err)
		}
		s.Status = status.State(st)
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *StatusRepository) scan(row pgx.Row) (*status.BotStatus, error) {
	var s status.BotStatus
	var st string
	if err := row.Scan(&s.BotInstanceID, &st, &s.StartedAt, &s.LastHeartbeat, &s.UptimeSeconds, &s.LastError); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan bot status: %w", err)
	}
	s.Status = status.State(st)
	return &s, nil
}
