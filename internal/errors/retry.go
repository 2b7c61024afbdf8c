package errors

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	MaxRetries        = 3
	InitialBackoff    = 100 * time.Millisecond
	MaxBackoff        = 5 * time.Second
	BackoffMultiplier = 2.0
)

// WithRetry runs fn until it succeeds, returns a non-retryable error or the
// retry budget is spent. Backoff waits honor ctx.
func WithRetry(ctx context.Context, fn func() error) error {
	if fn == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}

		if !IsRetryable(err) || attempt == MaxRetries {
			return err
		}

		timer := time.NewTimer(Backoff(attempt+1, InitialBackoff, MaxBackoff))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return err
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Retryable
	}

	return false
}

// Backoff returns initial·2^attempt capped at limit. Attempt 0 yields initial.
func Backoff(attempt int, initial, limit time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(initial) * math.Pow(BackoffMultiplier, float64(attempt))
	if delay > float64(limit) || math.IsInf(delay, 1) {
		return limit
	}

	return time.Duration(delay)
}
