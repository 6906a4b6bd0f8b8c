package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// invalidTextRepresentation is raised when an id is not a valid UUID.
const invalidTextRepresentation = "22P02"

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) Create(ctx context.Context, job Job) error {
	const query = `
INSERT INTO processing_jobs (id, document_id, status, steps, created_at)
VALUES ($1, $2, $3, $4, $5)`
	status := job.Status
	if status == "" {
		status = StatusQueued
	}
	steps, err := json.Marshal(nonNil(job.Steps))
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query, job.ID, job.DocumentID, status, steps, job.CreatedAt)
	return err
}

func (r *PGRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	const query = `
SELECT id, document_id, status, steps, error, started_at, finished_at, created_at
FROM processing_jobs
WHERE id = $1`
	job, err := scanJob(r.DB.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
		return Job{}, ErrNotFound
	}
	return job, err
}

func (r *PGRepo) MarkRunning(ctx context.Context, jobID string, steps []string, at time.Time) error {
	payload, err := json.Marshal(nonNil(steps))
	if err != nil {
		return err
	}
	return r.conditional(ctx, jobID, `
UPDATE processing_jobs
SET status = 'running', started_at = $2, steps = $3
WHERE id = $1 AND status = 'queued'`, at, payload)
}

func (r *PGRepo) MarkSucceeded(ctx context.Context, jobID string, at time.Time) error {
	return r.conditional(ctx, jobID, `
UPDATE processing_jobs
SET status = 'succeeded', finished_at = $2
WHERE id = $1 AND status = 'running'`, at)
}

func (r *PGRepo) MarkFailed(ctx context.Context, jobID, errMsg string, at time.Time) error {
	return r.conditional(ctx, jobID, `
UPDATE processing_jobs
SET status = 'failed', finished_at = $2, error = $3
WHERE id = $1 AND status = 'running'`, at, errMsg)
}

// conditional runs a guarded UPDATE; zero rows means the job is missing or
// not in the expected state.
func (r *PGRepo) conditional(ctx context.Context, jobID, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, append([]any{jobID}, args...)...)
	if isInvalidID(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM processing_jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func (r *PGRepo) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
SELECT id, document_id, status, steps, error, started_at, finished_at, created_at
FROM processing_jobs
WHERE status = 'running' AND started_at < $1
ORDER BY started_at
LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var job Job
	var steps []byte
	var errMsg sql.NullString
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(&job.ID, &job.DocumentID, &job.Status, &steps, &errMsg, &startedAt, &finishedAt, &job.CreatedAt); err != nil {
		return Job{}, err
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &job.Steps); err != nil {
			return Job{}, err
		}
	}
	if errMsg.Valid {
		job.Error = &errMsg.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	return job, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Repo = (*PGRepo)(nil)

// isInvalidID reports whether Postgres rejected an id that cannot exist.
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}
