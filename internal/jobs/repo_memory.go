package jobs

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores jobs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Job
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Job)}
}

func (r *MemoryRepo) Create(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[job.ID] = job
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.byID[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	job.Steps = slices.Clone(job.Steps)
	return job, nil
}

func (r *MemoryRepo) MarkRunning(ctx context.Context, jobID string, steps []string, at time.Time) error {
	return r.transition(ctx, jobID, StatusRunning, func(j *Job) {
		j.StartedAt = &at
		j.Steps = slices.Clone(steps)
	})
}

func (r *MemoryRepo) MarkSucceeded(ctx context.Context, jobID string, at time.Time) error {
	return r.transition(ctx, jobID, StatusSucceeded, func(j *Job) {
		j.FinishedAt = &at
	})
}

func (r *MemoryRepo) MarkFailed(ctx context.Context, jobID, errMsg string, at time.Time) error {
	return r.transition(ctx, jobID, StatusFailed, func(j *Job) {
		msg := errMsg
		j.Error = &msg
		j.FinishedAt = &at
	})
}

func (r *MemoryRepo) transition(ctx context.Context, jobID, to string, apply func(*Job)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(job.Status, to) {
		return ErrInvalidTransition
	}
	job.Status = to
	apply(&job)
	r.byID[jobID] = job
	return nil
}

func (r *MemoryRepo) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Job
	for _, j := range r.byID {
		if j.Status == StatusRunning && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(*out[k].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Repo = (*MemoryRepo)(nil)
