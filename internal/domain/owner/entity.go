// Package owner models the human operators who register bots and protect
// groups on the platform.
package owner

import (
	"time"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// Owner is a human operator identified by a Telegram user id. Owners are
// implicitly created on first interaction with the platform (e.g. the
// first /start to any bot, or the first dashboard login) and are never
// explicitly "registered" by a separate signup step.
type Owner struct {
	UserID    shared.TelegramID
	Username  string // optional, Telegram @handle without the leading "@"
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOwner constructs an Owner for first-contact upsert. Username may be
// empty - not every Telegram user has one set.
func NewOwner(userID shared.TelegramID, username string) (*Owner, error) {
	if !userID.IsValid() {
		return nil, shared.NewDomainError("owner", "New", shared.ErrInvalidInput, "owner user_id cannot be zero")
	}
	now := time.Now().UTC()
	return &Owner{
		UserID:    userID,
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Touch updates Username and UpdatedAt, used on repeat contact when the
// operator's Telegram profile may have changed since last seen.
func (o *Owner) Touch(username string) {
	o.Username = username
	o.UpdatedAt = time.Now().UTC()
}
