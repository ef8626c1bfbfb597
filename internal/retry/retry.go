// Package retry wraps an operation with a fixed-delay retry policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy retries an operation up to MaxRetries times after the first
// attempt, waiting Delay between attempts. Only errors accepted by Retryable
// are retried.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
	Retryable  func(error) bool
	// OnRetry runs before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Do runs op and returns how many attempts were made together with the last
// error. Context cancellation stops further attempts.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) (int, error) {
	retries := uint64(max(p.MaxRetries, 0))
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), retries), ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempts, err, wait)
		}
	})
	return attempts, err
}
