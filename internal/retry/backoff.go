// Package retry provides exponential backoff with jitter for bounded retries.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	// Values below 1 are treated as 1.
	Attempts int

	// Backoff is the delay before the second attempt.
	Backoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
}

// Delay returns the wait before the given attempt (1-based, attempt 0 has no
// wait): Backoff doubled per attempt, capped at MaxBackoff, with jitter in
// [0.5, 1.5).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.Backoff <= 0 {
		return 0
	}
	backoff := p.Backoff * time.Duration(1<<uint(attempt-1))
	if p.MaxBackoff > 0 && (backoff > p.MaxBackoff || backoff <= 0) {
		backoff = p.MaxBackoff
	}
	return time.Duration(float64(backoff) * (0.5 + rand.Float64()))
}

// Wait sleeps for Delay(attempt) or until ctx is done.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
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

// Do calls fn until it succeeds, retryable reports false for its error, or
// the attempts are exhausted. The last error is returned.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if werr := p.Wait(ctx, attempt); werr != nil {
				return err
			}
		}
		err = fn(ctx)
		if err == nil || (retryable != nil && !retryable(err)) {
			return err
		}
	}
	return err
}
