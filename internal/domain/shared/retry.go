package shared

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a blocking operation is attempted and how
// long to wait between attempts. A zero InitialInterval retries immediately,
// which is what tests use.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy returns three attempts with a short exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
	}
}

// NoWaitRetryPolicy retries up to attempts times without sleeping.
func NoWaitRetryPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts}
}

// Do runs op until it succeeds, returns an error for which retryable reports
// false, the attempts are used up, or ctx is done. The attempt number passed
// to op starts at 1. The last error from op is returned.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, op func(attempt int) error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op(attempt)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff
	if p.InitialInterval <= 0 {
		b = &backoff.ZeroBackOff{}
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.InitialInterval
		exp.MaxElapsedTime = 0
		if p.MaxInterval > 0 {
			exp.MaxInterval = p.MaxInterval
		}
		if p.Multiplier > 1 {
			exp.Multiplier = p.Multiplier
		}
		b = exp
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}
