package credits

import (
	"errors"
	"time"
)

// Ledger row reasons.
const (
	ReasonEstimate         = "estimate"
	ReasonEstimateReversal = "estimate_reversal"
	ReasonActual           = "actual"
	ReasonRefundFailure    = "refund_failure"
)

var (
	// ErrNoOpenEstimate is returned when a job has no estimate left to reconcile.
	ErrNoOpenEstimate = errors.New("no open estimate for job")
	ErrInvalidAmount  = errors.New("credit amount must be positive")
)

// Credit is one signed ledger row. A tenant's balance is the sum of Delta.
type Credit struct {
	ID         int64
	TenantID   string
	UserID     string
	Delta      int
	Reason     string
	JobID      *string
	IsEstimate bool
	CreatedAt  time.Time
}

// Settlement reports the rows written by Settle.
type Settlement struct {
	JobID    string
	Estimate int
	Actual   int
}
