package ocr

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy retries a failing operation with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	// Sleep waits for d or until ctx is done; nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy makes one retry after 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond, Multiplier: 2}
}

// Delay returns the wait before attempt n (1-based, n >= 2).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 2 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 2; i < n; i++ {
		d *= mult
	}
	return time.Duration(d)
}

// Do runs op until it succeeds or attempts are exhausted. The error of the
// last attempt is returned, annotated with the attempt count.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if serr := p.sleep(ctx, p.Delay(attempt)); serr != nil {
				return fmt.Errorf("retry interrupted after %d attempt(s): %w", attempt-1, err)
			}
		}
		if err = op(ctx, attempt); err == nil {
			return nil
		}
	}
	return fmt.Errorf("failed after %d attempt(s): %w", attempts, err)
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
