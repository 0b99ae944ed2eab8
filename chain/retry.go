package chain

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy is the exponential-backoff-with-jitter policy shared by the
// chain, bundle, and llm packages for their respective retryable error
// kinds (spec section 7).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the "three consecutive failures" health-bit
// threshold named in spec section 4.2.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Do runs fn up to MaxAttempts times, sleeping with exponential backoff and
// full jitter between attempts. It returns the last error if every attempt
// fails, or nil as soon as one succeeds.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		jittered := time.Duration(rand.Int63n(int64(delay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}
