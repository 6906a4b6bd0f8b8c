package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"docpipe-backend/internal/shared/metrics"
)

func TestSweepFailsAndRefundsStaleJobs(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"stale", "recent"} {
		if err := repo.Create(ctx, Job{ID: id, DocumentID: "doc"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := repo.MarkRunning(ctx, "stale", DefaultSteps, now.Add(-45*time.Minute)); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := repo.MarkRunning(ctx, "recent", DefaultSteps, now.Add(-5*time.Minute)); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	var refunded []string
	m := metrics.NewWorker(prometheus.NewRegistry())
	s := &Sweeper{
		Jobs:     repo,
		Metrics:  m,
		Refunder: RefunderFunc(func(ctx context.Context, jobID string) error { refunded = append(refunded, jobID); return nil }),
	}
	n, err := s.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 || len(refunded) != 1 || refunded[0] != "stale" {
		t.Fatalf("swept %d, refunded %v", n, refunded)
	}

	job, _ := repo.GetByID(ctx, "stale")
	if job.Status != StatusFailed || job.Error == nil || *job.Error != ErrorTimeout {
		t.Fatalf("unexpected stale job %+v", job)
	}
	recent, _ := repo.GetByID(ctx, "recent")
	if recent.Status != StatusRunning {
		t.Fatalf("recent job status = %s", recent.Status)
	}

	n, err = s.Sweep(ctx, now)
	if err != nil || n != 0 {
		t.Fatalf("second Sweep = %d, %v", n, err)
	}
}

func TestSweepContinuesWhenRefundFails(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Now().UTC()
	for _, id := range []string{"a", "b"} {
		_ = repo.Create(ctx, Job{ID: id})
		_ = repo.MarkRunning(ctx, id, nil, now.Add(-time.Hour))
	}
	s := &Sweeper{
		Jobs:       repo,
		StaleAfter: 10 * time.Minute,
		Refunder:   RefunderFunc(func(context.Context, string) error { return errors.New("ledger down") }),
	}
	n, err := s.Sweep(ctx, now)
	if err != nil || n != 2 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	s := &Sweeper{Jobs: NewMemoryRepo()}
	go func() { done <- s.Run(ctx, 10*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop")
	}
}
