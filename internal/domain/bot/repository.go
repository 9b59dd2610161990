package bot

import (
	"context"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// ListOptions configures ListByOwner / ListActive queries.
type ListOptions struct {
	Offset         int
	Limit          int
	IncludeDeleted bool
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

// WithDeleted includes soft-deleted instances in the results.
func (o ListOptions) WithDeleted() ListOptions {
	o.IncludeDeleted = true
	return o
}

// DefaultListOptions returns sane defaults matching shared.DefaultPageSize.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: shared.DefaultPageSize}
}

// Repository persists bot Instance aggregates.
type Repository interface {
	Create(ctx context.Context, b *Instance) (int64, error)
	Update(ctx context.Context, b *Instance) error

	// FindByID returns shared.ErrNotFound if no row matches.
	FindByID(ctx context.Context, id int64) (*Instance, error)

	// FindByBotID looks up by Telegram's own bot user id, used when the
	// Supervisor needs to resolve a running worker back to its row, or
	// when registering a new bot to check the (bot_id) uniqueness
	// invariant from spec §3.
	FindByBotID(ctx context.Context, botID int64) (*Instance, error)

	// ListByOwner lists every instance (active, inactive, and optionally
	// soft-deleted) belonging to an owner.
	ListByOwner(ctx context.Context, ownerUserID shared.TelegramID, opts ListOptions) ([]*Instance, error)

	// ListStartable returns every instance the Bot Supervisor should have
	// a running worker for: IsActive && !IsDeleted.
	ListStartable(ctx context.Context) ([]*Instance, error)

	// SoftDelete marks the instance deleted without removing the row.
	SoftDelete(ctx context.Context, id int64) error
}
