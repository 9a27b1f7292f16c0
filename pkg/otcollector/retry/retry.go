// Package retry wraps an operation with bounded retries and a per-attempt
// timeout. The backoff curve is exponential with a 1 s initial interval,
// delegated to cenkalti/backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultInitialBackoff is the delay before the first retry.
const DefaultInitialBackoff = 1 * time.Second

// Predicate reports whether an error is worth retrying. A nil Predicate
// retries every error.
type Predicate func(error) bool

// Runner executes operations with up to Retries additional attempts after
// the first, each attempt bounded by Timeout. The zero value retries nothing
// and applies no per-attempt deadline.
type Runner struct {
	// Retries is the number of additional attempts after the first.
	Retries int

	// Timeout is the per-attempt deadline. Zero disables the deadline.
	Timeout time.Duration

	// InitialBackoff overrides the delay before the first retry.
	InitialBackoff time.Duration

	// Retryable filters which errors are retried. nil retries all.
	Retryable Predicate

	// DetachAttempts, when true, shields an in-flight attempt from
	// cancellation of the outer context: the attempt still runs under its
	// own Timeout deadline, but only the waits between attempts observe
	// ctx. Used so that stopping a collector never aborts an RPC mid-
	// flight.
	DetachAttempts bool

	// Logger, when set, records each failed attempt at debug level.
	Logger *slog.Logger
}

// Do runs op until it succeeds, the attempt budget is exhausted, ctx is
// cancelled, or the error is ruled non-retryable. The error of the last
// attempt is returned.
func (r Runner) Do(ctx context.Context, op func(context.Context) error) error {
	initial := r.InitialBackoff
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	retries := r.Retries
	if retries < 0 {
		retries = 0
	}

	attempt := 0
	wrapped := func() error {
		attempt++
		err := r.attempt(ctx, op)
		if err == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(err) {
			return backoff.Permanent(err)
		}
		if r.Logger != nil {
			r.Logger.Debug("retry: attempt failed",
				"attempt", attempt,
				"max_attempts", retries+1,
				"error", err.Error(),
			)
		}
		return err
	}

	err := backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Unwrap()
		}
	}
	return err
}

// attempt runs op once under the per-attempt deadline.
func (r Runner) attempt(ctx context.Context, op func(context.Context) error) error {
	base := ctx
	if r.DetachAttempts {
		base = context.WithoutCancel(ctx)
	}
	if r.Timeout <= 0 {
		return op(base)
	}
	attemptCtx, cancel := context.WithTimeout(base, r.Timeout)
	defer cancel()

	err := op(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("retry: attempt timed out after %s: %w", r.Timeout, err)
	}
	return err
}
