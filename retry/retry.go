// Package retry runs an operation again with exponential backoff while its
// error is classified as transient.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// Retryable reports whether err is worth another attempt. A nil
	// Retryable retries every error.
	Retryable func(err error) bool
	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Delay returns the backoff before retry number attempt (1 based):
// BaseDelay, BaseDelay*Multiplier, ... capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}
	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
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

// Do calls fn until it succeeds, returns a non-retryable error, or
// MaxAttempts calls have been made. The last error is returned.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == attempts || !p.retryable(err) {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}
