// Package retry provides bounded retry loops for transient failures.
//
// Attempts are spaced a fixed Interval apart. The relay uses it to poll the
// browser's DevTools endpoint while it boots:
//
//	err := retry.Do(ctx, retry.Config{
//	    MaxAttempts: 20,
//	    Interval:    500 * time.Millisecond,
//	    Abort:       exited,
//	}, func() error {
//	    return probe(ctx)
//	}, nil)
//
// The loop ends early when ctx is done (returning the context error), when
// Abort is closed (ErrAborted), or when fn returns an error shouldRetry
// rejects (that error, unwrapped). Exhausting every attempt yields an
// *ExhaustedError wrapping the last failure.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAborted is returned when Config.Abort is closed.
var ErrAborted = errors.New("retry aborted")

// Config defines the retry behavior.
type Config struct {
	// MaxAttempts bounds the number of calls to fn. Values below 1 mean 1.
	MaxAttempts int

	// Interval is the wait before every attempt but the first.
	Interval time.Duration

	// Abort, if non-nil, stops the loop as soon as it is closed, including
	// in the middle of a wait.
	Abort <-chan struct{}

	// OnRetry, if set, is called after a failed attempt that will be retried.
	// attempt is 1-based.
	OnRetry func(attempt int, err error)
}

// ShouldRetryFunc is a function that determines if an error should trigger a retry.
//
// Return true to retry the operation, or false to fail immediately with the error.
// If this function is nil when passed to Do, all errors will be retried.
type ShouldRetryFunc func(error) bool

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do executes fn until it succeeds or one of the stop conditions described
// in the package documentation is met.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	attempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, cfg.Interval, cfg.Abort); err != nil {
				return err
			}
		}

		if aborted(cfg.Abort) {
			return ErrAborted
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}

		lastErr = err
		if cfg.OnRetry != nil && attempt < attempts {
			cfg.OnRetry(attempt, err)
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func wait(ctx context.Context, d time.Duration, abort <-chan struct{}) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-abort:
		return ErrAborted
	case <-timer.C:
		return nil
	}
}

func aborted(abort <-chan struct{}) bool {
	select {
	case <-abort:
		return true
	default:
		return false
	}
}
