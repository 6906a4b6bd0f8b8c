package jobs

import (
	"context"
	"time"
)

// Repo persists jobs. Transition methods are conditional on the current
// status and return ErrInvalidTransition when it does not match.
type Repo interface {
	Create(ctx context.Context, job Job) error
	GetByID(ctx context.Context, jobID string) (Job, error)
	MarkRunning(ctx context.Context, jobID string, steps []string, at time.Time) error
	MarkSucceeded(ctx context.Context, jobID string, at time.Time) error
	MarkFailed(ctx context.Context, jobID, errMsg string, at time.Time) error
	// ListStuck returns running jobs started before cutoff, oldest first.
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]Job, error)
}
