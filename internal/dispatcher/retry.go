package dispatcher

import (
	"context"
	"time"
)

// RetryPolicy is the dispatcher's own attempt budget for one processing run.
// It is deliberately independent of the ledger's retry_count ceiling: this
// policy bounds attempts within a run, the ledger bounds runs.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 60 * time.Second}
}

// Wait blocks for the backoff delay before the next attempt, or returns the
// context error if cancelled first.
func (p RetryPolicy) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
