package command

import (
	"context"
	"time"
)

// Repository persists AdminCommand rows and implements the claim/reap
// semantics the Command Worker (C7) relies on.
type Repository interface {
	Create(ctx context.Context, c *Command) error

	// FindByID returns shared.ErrCommandNotFound if no row matches.
	FindByID(ctx context.Context, id string) (*Command, error)

	// ClaimNextPending atomically selects and marks up to limit pending
	// commands for botInstanceID as processing, returning the claimed
	// rows. Implemented with `SELECT ... FOR UPDATE SKIP LOCKED` so
	// concurrent workers never claim the same row twice (spec §4.7,
	// §5 concurrency model).
	ClaimNextPending(ctx context.Context, botInstanceID int64, limit int) ([]*Command, error)

	// Complete marks a claimed command completed.
	Complete(ctx context.Context, id string) error

	// Fail marks a claimed command failed, recording reason.
	Fail(ctx context.Context, id string, reason string) error

	// ReapStaleProcessing resets rows stuck in processing longer than
	// olderThan back to pending, recovering from a worker crash
	// that left rows claimed but never completed (spec §3 invariant).
	// Returns the number of rows reaped.
	ReapStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error)
}
