package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"poerelay/internal/logging"
)

// RetryPolicy bounds how often and how patiently an upstream call is retried.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Retryable decides whether an error deserves another attempt. Nil means
	// IsRetryable.
	Retryable func(error) bool
	// OnRetry, when set, runs before each backoff wait.
	OnRetry func(op string, attempt int, err error)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     8 * time.Second,
		Multiplier:      2,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = 0
	return b
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// Retry runs op until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. Failures come back as *UpstreamError except for
// ErrEmptyResponse and context errors, which are returned as is.
func Retry[T any](ctx context.Context, p RetryPolicy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	attempts := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err != nil && !p.retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.FromContext(ctx).Warn("upstream call failed, retrying",
				"op", name, "attempt", attempts, "backoff", next, "err", err)
			if p.OnRetry != nil {
				p.OnRetry(name, attempts, err)
			}
		}),
	)
	if err == nil {
		return res, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, context.Canceled) {
		return res, err
	}
	return res, &UpstreamError{Attempts: attempts, StatusCode: StatusCode(err), Err: err}
}
