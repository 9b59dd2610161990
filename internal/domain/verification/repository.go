package verification

import (
	"context"

	"github.com/nezuko-platform/nezuko-core/internal/domain/shared"
)

// Repository persists the append-only VerificationLog and ApiCallLog
// rows. All writes are expected to be buffered and batched by the
// Verification Logger (C10) rather than issued one row per call - this
// interface accepts batches for that reason.
type Repository interface {
	RecordVerifications(ctx context.Context, logs []*Log) error
	RecordAPICalls(ctx context.Context, logs []*APICallLog) error

	// ListRecentVerifications powers the dashboard's live feed, most
	// recent first.
	ListRecentVerifications(ctx context.Context, botInstanceID int64, limit int) ([]*Log, error)

	// DeleteVerificationsOlderThan deletes rows outside the retention
	// window, returning the count deleted.
	DeleteVerificationsOlderThan(ctx context.Context, window shared.TimeRange) (int64, error)

	// DeleteAPICallsOlderThan deletes rows outside the retention window.
	DeleteAPICallsOlderThan(ctx context.Context, window shared.TimeRange) (int64, error)
}
