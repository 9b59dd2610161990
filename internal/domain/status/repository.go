package status

import "context"

// Repository persists the singleton-per-bot BotStatus row. Every write
// is an upsert keyed on BotInstanceID (spec §3).
type Repository interface {
	Upsert(ctx context.Context, s *BotStatus) error

	// FindByBotInstanceID returns shared.ErrNotFound if no row exists yet
	// (a bot that has never started).
	FindByBotInstanceID(ctx context.Context, botInstanceID int64) (*BotStatus, error)

	// ListAll returns every bot's current status, for the dashboard
	// fleet-overview query. The Bot Supervisor does not read it.
	ListAll(ctx context.Context) ([]*BotStatus, error)
}
