// Package retry runs a single remote operation up to a bounded number of
// attempts with a fixed delay between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is wrapped around the last error once every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy configures Do. Attempts counts the first call, so Attempts of 1
// means no retry. Retryable decides whether an error is worth another
// attempt; nil retries every error.
type Policy struct {
	Attempts  int
	Delay     time.Duration
	Retryable func(err error) bool
}

// Do calls op until it succeeds, returns a non-retryable error, ctx is done or
// the attempts run out. Non-retryable errors are returned unchanged.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	attempts := max(policy.Attempts, 1)

	var (
		calls   int
		lastErr error
	)

	operation := func() error {
		calls++

		err := op(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if policy.Retryable != nil && !policy.Retryable(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	schedule := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Delay), uint64(attempts-1)),
		ctx,
	)

	err := backoff.Retry(operation, schedule)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return fmt.Errorf("retry cancelled after %d attempts: %w", calls, errors.Join(ctxErr, lastErr))
	}

	if policy.Retryable != nil && !policy.Retryable(err) {
		return err
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, calls, lastErr)
}
