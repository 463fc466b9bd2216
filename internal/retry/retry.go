// Package retry runs an operation a bounded number of times with a fixed
// delay between failures.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of invocations, the first included.
	// Values below one are treated as one.
	MaxAttempts int

	// Delay is slept after every failed attempt except the last.
	Delay time.Duration

	// OnRetry is called after a failed attempt that will be retried, before
	// sleeping. attempt is 1-based.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return backoff.Permanent(err)
}

// Do invokes op until it succeeds, returns a Permanent error, the context is
// cancelled or MaxAttempts is reached. The last error is returned as is.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(p.MaxAttempts, 1)
	attempt := 0

	operation := func() (T, error) {
		attempt++

		return op(ctx)
	}

	notify := func(err error, delay time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)

	if permanent, ok := err.(*backoff.PermanentError); ok {
		err = permanent.Err
	}

	return res, err
}
