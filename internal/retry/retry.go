// Package retry runs an operation a bounded number of times with exponential
// backoff between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retry loop. Delay before retry n is Initial*2^(n-1), capped
// at Max.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	// Retryable reports whether err should be retried. Nil retries every error.
	Retryable func(error) bool
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Delay returns the wait before retry attempt n (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.Initial <= 0 {
		return 0
	}
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Do calls op until it succeeds, returns a non-retryable error, the policy's
// attempts are used up, or ctx is done. op receives the 1-indexed attempt.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, lastErr)
		}
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		}
	}
	return errors.Join(ErrExhausted, lastErr)
}
