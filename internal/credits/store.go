package credits

import (
	"context"
	"time"
)

// Store persists ledger rows. Settle and Refund must be atomic per job.
type Store interface {
	Insert(ctx context.Context, c Credit) (Credit, error)
	Settle(ctx context.Context, jobID string, actual int, now time.Time) (Settlement, error)
	Refund(ctx context.Context, jobID string, now time.Time) (Credit, error)
	Balance(ctx context.Context, tenantID string) (int, error)
	ListForJob(ctx context.Context, jobID string) ([]Credit, error)
}
