package credits

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"docpipe-backend/internal/shared/storage/db"
)

// PGStore implements Store on Postgres. Per-job reconciliation takes a row
// lock on the job's estimate so concurrent Settle/Refund calls serialize.
type PGStore struct {
	DB *sql.DB
}

// NewPGStore constructs a Postgres-backed ledger store.
func NewPGStore(database *sql.DB) *PGStore {
	return &PGStore{DB: database}
}

const insertCredit = `
INSERT INTO credits (tenant_id, user_id, delta, reason, job_id, is_estimate, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertWith(ctx context.Context, q queryRower, c Credit) (Credit, error) {
	var jobID any
	if c.JobID != nil {
		jobID = *c.JobID
	}
	if err := q.QueryRowContext(ctx, insertCredit,
		c.TenantID, c.UserID, c.Delta, c.Reason, jobID, c.IsEstimate, c.CreatedAt,
	).Scan(&c.ID); err != nil {
		return Credit{}, err
	}
	return c, nil
}

func (s *PGStore) Insert(ctx context.Context, c Credit) (Credit, error) {
	return insertWith(ctx, s.DB, c)
}

func (s *PGStore) Settle(ctx context.Context, jobID string, actual int, now time.Time) (Settlement, error) {
	var out Settlement
	err := db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var (
			estID            int64
			tenantID, userID string
			delta            int
		)
		err := tx.QueryRowContext(ctx, `
SELECT id, tenant_id, user_id, delta FROM credits
WHERE job_id = $1 AND is_estimate
ORDER BY id
LIMIT 1
FOR UPDATE`, jobID).Scan(&estID, &tenantID, &userID, &delta)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoOpenEstimate
			}
			return err
		}

		estimate := abs(delta)
		charged := abs(actual)
		if _, err := insertWith(ctx, tx, Credit{TenantID: tenantID, UserID: userID, Delta: estimate, Reason: ReasonEstimateReversal, JobID: &jobID, CreatedAt: now}); err != nil {
			return err
		}
		if _, err := insertWith(ctx, tx, Credit{TenantID: tenantID, UserID: userID, Delta: -charged, Reason: ReasonActual, JobID: &jobID, CreatedAt: now}); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE credits SET is_estimate = false WHERE id = $1`, estID); err != nil {
			return err
		}
		out = Settlement{JobID: jobID, Estimate: estimate, Actual: charged}
		return nil
	})
	return out, err
}

func (s *PGStore) Refund(ctx context.Context, jobID string, now time.Time) (Credit, error) {
	var out Credit
	err := db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var tenantID, userID string
		err := tx.QueryRowContext(ctx, `
SELECT tenant_id, user_id FROM credits
WHERE job_id = $1
ORDER BY id
LIMIT 1
FOR UPDATE`, jobID).Scan(&tenantID, &userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoOpenEstimate
			}
			return err
		}

		var net int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(delta), 0) FROM credits WHERE job_id = $1`, jobID).Scan(&net); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE credits SET is_estimate = false WHERE job_id = $1 AND is_estimate`, jobID); err != nil {
			return err
		}
		if net == 0 {
			return nil
		}
		out, err = insertWith(ctx, tx, Credit{TenantID: tenantID, UserID: userID, Delta: -net, Reason: ReasonRefundFailure, JobID: &jobID, CreatedAt: now})
		return err
	})
	return out, err
}

func (s *PGStore) Balance(ctx context.Context, tenantID string) (int, error) {
	var sum int
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(delta), 0) FROM credits WHERE tenant_id = $1`, tenantID).Scan(&sum)
	return sum, err
}

func (s *PGStore) ListForJob(ctx context.Context, jobID string) ([]Credit, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, tenant_id, user_id, delta, reason, job_id, is_estimate, created_at
FROM credits
WHERE job_id = $1
ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credit
	for rows.Next() {
		var c Credit
		var job sql.NullString
		if err := rows.Scan(&c.ID, &c.TenantID, &c.UserID, &c.Delta, &c.Reason, &job, &c.IsEstimate, &c.CreatedAt); err != nil {
			return nil, err
		}
		if job.Valid {
			id := job.String
			c.JobID = &id
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ Store = (*PGStore)(nil)
