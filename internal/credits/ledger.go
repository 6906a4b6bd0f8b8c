// Package credits is the per-tenant credit ledger: signed rows whose sum per
// tenant is the balance, with an estimate written at enqueue time and later
// replaced by the actual charge or refunded.
package credits

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Ledger records and reconciles credit rows.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger wraps a store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// NewMemoryLedger returns a ledger over a fresh MemoryStore.
func NewMemoryLedger() *Ledger {
	return NewLedger(NewMemoryStore())
}

// Estimate is the input of RecordEstimate.
type Estimate struct {
	TenantID string
	UserID   string
	JobID    string
	Credits  int
}

// RecordEstimate writes the provisional charge for a job.
func (l *Ledger) RecordEstimate(ctx context.Context, e Estimate) (Credit, error) {
	if e.Credits <= 0 {
		return Credit{}, ErrInvalidAmount
	}
	if strings.TrimSpace(e.JobID) == "" {
		return Credit{}, fmt.Errorf("estimate requires a job id")
	}
	jobID := e.JobID
	return l.store.Insert(ctx, Credit{
		TenantID:   e.TenantID,
		UserID:     e.UserID,
		Delta:      -e.Credits,
		Reason:     ReasonEstimate,
		JobID:      &jobID,
		IsEstimate: true,
		CreatedAt:  l.now(),
	})
}

// Settle replaces the job's open estimate with the actual charge.
func (l *Ledger) Settle(ctx context.Context, jobID string, actual int) (Settlement, error) {
	return l.store.Settle(ctx, jobID, actual, l.now())
}

// Refund zeroes the job's net: whatever was charged for it is credited back.
// The returned row is zero when the job already nets to 0.
func (l *Ledger) Refund(ctx context.Context, jobID string) (Credit, error) {
	return l.store.Refund(ctx, jobID, l.now())
}

// Balance is the tenant's sum of deltas.
func (l *Ledger) Balance(ctx context.Context, tenantID string) (int, error) {
	return l.store.Balance(ctx, tenantID)
}

// ListForJob returns the job's rows in insertion order.
func (l *Ledger) ListForJob(ctx context.Context, jobID string) ([]Credit, error) {
	return l.store.ListForJob(ctx, jobID)
}

// JobNet sums the job's rows.
func (l *Ledger) JobNet(ctx context.Context, jobID string) (int, error) {
	rows, err := l.store.ListForJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	net := 0
	for _, r := range rows {
		net += r.Delta
	}
	return net, nil
}
