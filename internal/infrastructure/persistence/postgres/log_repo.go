package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
	"github.com/nezuko-platform/nezuko-core/internal/domain/verification"
)

// LogRepository implements verification.Repository for PostgreSQL. Every
// write here is append-only and batched by the Verification Logger
// (C10) - nothing in this package is read on the hot path (spec §3).
type LogRepository struct {
	conn *Connection
}

// NewLogRepository creates a new LogRepository.
func NewLogRepository(conn *Connection) *LogRepository {
	return &LogRepository{conn: conn}
}

// RecordVerifications implements verification.Repository, inserting the
// batch the Verification Logger buffered (spec §4.10) one row per INSERT
// inside a single transaction.
func (r *LogRepository) RecordVerifications(ctx context.Context, logs []*verification.Log) error {
	if len(logs) == 0 {
		return nil
	}
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		for _, l := range logs {
			_, err := tx.Exec(ctx, `
				INSERT INTO verification_logs (user_id, group_id, channel_id, bot_instance_id, status, latency_ms, cached, error_type, "timestamp")
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, l.UserID.Int64(), l.GroupID.Int64(), l.ChannelID.Int64(), l.BotInstanceID, string(l.Status), l.LatencyMS, l.Cached, l.ErrorType, l.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to insert verification log: %w", err)
			}
		}
		return nil
	})
}

// RecordAPICalls implements verification.Repository.
func (r *LogRepository) RecordAPICalls(ctx context.Context, logs []*verification.APICallLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		for _, l := range logs {
			_, err := tx.Exec(ctx, `
				INSERT INTO api_call_logs (method, bot_instance_id, chat_id, user_id, success, latency_ms, error_category, "timestamp")
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, l.Method, l.BotInstanceID, l.ChatID, l.UserID, l.Success, l.LatencyMS, l.ErrorCategory, l.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to insert api call log: %w", err)
			}
		}
		return nil
	})
}

// ListRecentVerifications implements verification.Repository, powering
// the dashboard's live feed.
func (r *LogRepository) ListRecentVerifications(ctx context.Context, botInstanceID int64, limit int) ([]*verification.Log, error) {
	query := `
		SELECT user_id, group_id, channel_id, bot_instance_id, status, latency_ms, cached, error_type, "timestamp"
		FROM verification_logs
		WHERE bot_instance_id = $1
		ORDER BY "timestamp" DESC
		LIMIT $2
	`
	rows, err := r.conn.Query(ctx, query, botInstanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent verifications: %w", err)
	}
	defer rows.Close()

	var out []*verification.Log
	for rows.Next() {
		var l verification.Log
		var userID, groupID, channelID int64
		var st string
		if err := rows.Scan(&userID, &groupID, &channelID, &l.BotInstanceID, &st, &l.LatencyMS, &l.Cached, &l.ErrorType, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan verification log row: %w", err)
		}
		l.UserID = shared.TelegramID(userID)
		l.GroupID = shared.TelegramID(groupID)
		l.ChannelID = shared.TelegramID(channelID)
		l.Status = verification.VerdictKind(st)
		out = append(out, &l)
	}
	return out, rows.Err()
}

// DeleteVerificationsOlderThan implements verification.Repository,
// deleting rows timestamped before window.From. No job in this
// repository calls it.
func (r *LogRepository) DeleteVerificationsOlderThan(ctx context.Context, window shared.TimeRange) (int64, error) {
	result, err := r.conn.Exec(ctx, `DELETE FROM verification_logs WHERE "timestamp" < $1`, window.From)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old verification logs: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteAPICallsOlderThan implements verification.Repository.
func (r *LogRepository) DeleteAPICallsOlderThan(ctx context.Context, window shared.TimeRange) (int64, error) {
	result, err := r.conn.Exec(ctx, `DELETE FROM api_call_logs WHERE "timestamp" < $1`, window.From)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old api call logs: %w", err)
	}
	return result.RowsAffected(), nil
}
