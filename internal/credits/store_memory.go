package credits

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps ledger rows in memory and is safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []Credit
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, c Credit) (Credit, error) {
	if err := ctx.Err(); err != nil {
		return Credit{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(c), nil
}

func (s *MemoryStore) insertLocked(c Credit) Credit {
	s.nextID++
	c.ID = s.nextID
	if c.JobID != nil {
		id := *c.JobID
		c.JobID = &id
	}
	s.rows = append(s.rows, c)
	return c
}

func (s *MemoryStore) Settle(ctx context.Context, jobID string, actual int, now time.Time) (Settlement, error) {
	if err := ctx.Err(); err != nil {
		return Settlement{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.openEstimateLocked(jobID)
	if idx < 0 {
		return Settlement{}, ErrNoOpenEstimate
	}
	est := s.rows[idx]
	estimate := abs(est.Delta)
	actual = abs(actual)
	s.insertLocked(Credit{TenantID: est.TenantID, UserID: est.UserID, Delta: estimate, Reason: ReasonEstimateReversal, JobID: &jobID, CreatedAt: now})
	s.insertLocked(Credit{TenantID: est.TenantID, UserID: est.UserID, Delta: -actual, Reason: ReasonActual, JobID: &jobID, CreatedAt: now})
	s.rows[idx].IsEstimate = false
	return Settlement{JobID: jobID, Estimate: estimate, Actual: actual}, nil
}

func (s *MemoryStore) Refund(ctx context.Context, jobID string, now time.Time) (Credit, error) {
	if err := ctx.Err(); err != nil {
		return Credit{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var first *Credit
	net := 0
	for i := range s.rows {
		r := &s.rows[i]
		if r.JobID == nil || *r.JobID != jobID {
			continue
		}
		if first == nil {
			first = r
		}
		net += r.Delta
		r.IsEstimate = false
	}
	if first == nil {
		return Credit{}, ErrNoOpenEstimate
	}
	if net == 0 {
		return Credit{}, nil
	}
	return s.insertLocked(Credit{TenantID: first.TenantID, UserID: first.UserID, Delta: -net, Reason: ReasonRefundFailure, JobID: &jobID, CreatedAt: now}), nil
}

func (s *MemoryStore) Balance(ctx context.Context, tenantID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, r := range s.rows {
		if r.TenantID == tenantID {
			sum += r.Delta
		}
	}
	return sum, nil
}

func (s *MemoryStore) ListForJob(ctx context.Context, jobID string) ([]Credit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Credit
	for _, r := range s.rows {
		if r.JobID != nil && *r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) openEstimateLocked(jobID string) int {
	for i, r := range s.rows {
		if r.IsEstimate && r.JobID != nil && *r.JobID == jobID {
			return i
		}
	}
	return -1
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var _ Store = (*MemoryStore)(nil)
