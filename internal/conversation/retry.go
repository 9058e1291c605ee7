package conversation

import (
	"context"
	"time"
)

// RetryPolicy bounds the attempts made against the provider.
type RetryPolicy struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts int
	// Unit is the time unit of the 2^attempt backoff.
	Unit time.Duration
}

// Backoff is the wait after the given failed attempt, counting from 1.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	return time.Duration(1<<uint(attempt)) * p.Unit
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryResult describes one run of retry.
type RetryResult struct {
	Attempts  int
	Waited    time.Duration
	LastError error
}

// retry calls fn until it succeeds, returns an error that retryable rejects,
// or the attempts run out.
func retry(ctx context.Context, p RetryPolicy, sleep SleepFunc, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) RetryResult {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	var res RetryResult
	for attempt := 1; attempt <= max; attempt++ {
		res.Attempts = attempt
		err := fn(ctx, attempt)
		if err == nil {
			res.LastError = nil
			return res
		}
		res.LastError = err
		if !retryable(err) || attempt == max {
			return res
		}

		wait := p.Backoff(attempt)
		if err := sleep(ctx, wait); err != nil {
			res.LastError = err
			return res
		}
		res.Waited += wait
	}
	return res
}
