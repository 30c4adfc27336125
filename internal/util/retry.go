package util

import (
	"context"
	"errors"
	"time"
)

// Retry calls fn up to maxTries times until it returns a nil error.
// If maxTries <= 0, it defaults to 1. Returns the last error if all attempts fail.
func Retry[T any](maxTries int, fn func() (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for range maxTries {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return zero, lastErr
}

// RetryErr is Retry for functions without a result.
func RetryErr(maxTries int, fn func() error) error {
	_, err := Retry(maxTries, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithContext calls fn up to maxTries times until it returns a nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
// Context errors returned by fn stop the loop immediately.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	return RetryWithBackoff(ctx, Backoff{MaxTries: maxTries}, nil, fn)
}

func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	_, err := RetryWithContext(ctx, maxTries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Backoff configures RetryWithBackoff. A zero Initial disables sleeping
// between attempts.
type Backoff struct {
	MaxTries int
	Initial  time.Duration
	Max      time.Duration
}

func (b Backoff) delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	d := b.Initial << attempt
	if d <= 0 || (b.Max > 0 && d > b.Max) {
		d = b.Max
	}
	return d
}

// RetryWithBackoff retries fn with exponentially growing pauses. When
// retryable is non-nil, errors it rejects are returned without further
// attempts.
func RetryWithBackoff[T any](
	ctx context.Context,
	policy Backoff,
	retryable func(error) bool,
	fn func(context.Context) (T, error),
) (T, error) {
	maxTries := policy.MaxTries
	if maxTries <= 0 {
		maxTries = 1
	}

	var lastErr error
	var zero T
	for attempt := range maxTries {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if retryable != nil && !retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == maxTries-1 {
			break
		}
		if d := policy.delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return zero, lastErr
}
