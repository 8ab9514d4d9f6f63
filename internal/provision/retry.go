package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the retry of PIN-gated reads.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts" default:"10"`
	Delay       time.Duration `yaml:"delay" default:"2s"`
}

// DefaultRetryPolicy matches the pairing dialog timeout of common hosts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10, Delay: 2 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// Retry runs op until it succeeds, fails with an error other than ErrPending,
// or has been attempted policy.MaxAttempts times. onPending, if set, is called
// with the 1-based attempt number after each pending result.
// Exhaustion yields ErrPinTimeout.
func Retry[T any](ctx context.Context, policy RetryPolicy, onPending func(attempt int), op func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.normalized()

	attempt := 0
	res, err := retryWhile(ctx, policy.MaxAttempts, policy.Delay, func(err error) bool {
		return errors.Is(err, ErrPending)
	}, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if errors.Is(err, ErrPending) && onPending != nil {
			onPending(attempt)
		}
		return v, err
	})

	if errors.Is(err, ErrPending) {
		var zero T
		return zero, fmt.Errorf("%w after %d attempts", ErrPinTimeout, attempt)
	}
	return res, err
}

// retryWhile retries op with a constant delay for as long as retryable accepts its error.
func retryWhile[T any](ctx context.Context, maxAttempts int, delay time.Duration, retryable func(error) bool, op func() (T, error)) (T, error) {
	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, err
}
