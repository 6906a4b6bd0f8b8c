package jobs

import (
	"context"
	"errors"
	"time"

	"docpipe-backend/internal/shared/metrics"
	"docpipe-backend/internal/shared/telemetry"
)

// DefaultStaleAfter is how long a job may stay running before it is swept.
const DefaultStaleAfter = 30 * time.Minute

// Refunder credits back a job's charges.
type Refunder interface {
	RefundJob(ctx context.Context, jobID string) error
}

// RefunderFunc adapts a function to Refunder.
type RefunderFunc func(ctx context.Context, jobID string) error

func (f RefunderFunc) RefundJob(ctx context.Context, jobID string) error { return f(ctx, jobID) }

// Sweeper fails jobs stuck in running and refunds them.
type Sweeper struct {
	Jobs       Repo
	Refunder   Refunder
	StaleAfter time.Duration
	Limit      int
	Metrics    *metrics.Worker
}

// Sweep processes one batch of stuck jobs and returns how many it failed.
// Jobs that finish between listing and failing are skipped.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	stale := s.StaleAfter
	if stale <= 0 {
		stale = DefaultStaleAfter
	}
	stuck, err := s.Jobs.ListStuck(ctx, now.Add(-stale), s.Limit)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, job := range stuck {
		fields := map[string]any{"job_id": job.ID, "document_id": job.DocumentID, "status_transition": "running->failed"}
		if job.StartedAt != nil {
			fields["started_at"] = job.StartedAt.UTC().Format(time.RFC3339)
		}
		if err := s.Jobs.MarkFailed(ctx, job.ID, ErrorTimeout, now); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				continue
			}
			return swept, err
		}
		swept++
		s.Metrics.JobSwept()
		s.Metrics.JobFinished(StatusFailed)
		telemetry.Warn("job.swept", fields)

		if s.Refunder != nil {
			if err := s.Refunder.RefundJob(ctx, job.ID); err != nil {
				s.Metrics.LedgerFailure("refund")
				telemetry.Error("ledger.refund_failed", telemetry.Merge(fields, map[string]any{"error": err}))
			}
		}
	}
	return swept, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			if n, err := s.Sweep(ctx, t.UTC()); err != nil {
				telemetry.Error("job.sweep_failed", map[string]any{"error": err})
			} else if n > 0 {
				telemetry.Info("job.sweep", map[string]any{"swept": n})
			}
		}
	}
}
