package provider

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds retries of retryable provider errors.
type RetryPolicy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryPolicy keeps a chat turn well inside its deadline.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:   2,
	BaseDelay:    500 * time.Millisecond,
	MaxDelay:     4 * time.Second,
	JitterFactor: 0.3,
}

// do runs fn until it succeeds, fails with a non-retryable error, the
// retry budget is spent or ctx is done.
func (rp RetryPolicy) do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= rp.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(rp.backoff(attempt)):
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		var pe *ProviderError
		if !errors.As(err, &pe) || !pe.IsRetryable || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// backoff returns BaseDelay * 2^(attempt-1) capped at MaxDelay, with jitter.
func (rp RetryPolicy) backoff(attempt int) time.Duration {
	shift := min(max(attempt-1, 0), 30)
	delay := rp.BaseDelay << shift
	if rp.MaxDelay > 0 && (delay > rp.MaxDelay || delay <= 0) {
		delay = rp.MaxDelay
	}
	jitter := time.Duration(float64(delay) * rp.JitterFactor * (rand.Float64()*2 - 1))
	return delay + jitter
}
