package owner

import (
	"context"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// Repository persists Owner aggregates. Deleting an owner cascades to
// their bot instances (and transitively their protected groups) per
// spec §3 - that cascade is a database-level concern implemented by the
// Postgres adapter's foreign keys, not by this interface.
type Repository interface {
	// Upsert inserts the owner on first contact or updates Username/
	// UpdatedAt on repeat contact.
	Upsert(ctx context.Context, o *Owner) error

	// FindByUserID returns shared.ErrNotFound if no owner exists with
	// this user id.
	FindByUserID(ctx context.Context, userID shared.TelegramID) (*Owner, error)

	// Delete removes the owner and cascades to all owned bot instances.
	Delete(ctx context.Context, userID shared.TelegramID) error
}
