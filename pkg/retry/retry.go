package retry

import (
	"context"
	"time"
)

// Policy is a bounded exponential backoff.
type Policy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps every delay.
	Max time.Duration
}

// Default returns three attempts with delays of 200ms and 400ms.
func Default() Policy {
	return Policy{Attempts: 3, Initial: 200 * time.Millisecond, Max: 2 * time.Second}
}

// None returns a policy that tries exactly once.
func None() Policy {
	return Policy{Attempts: 1}
}

// Delays returns the wait before each retry. Each delay doubles the previous one.
func (p Policy) Delays() []time.Duration {
	if p.Attempts <= 1 {
		return nil
	}
	delays := make([]time.Duration, p.Attempts-1)
	d := p.Initial
	for i := range delays {
		if p.Max > 0 && d > p.Max {
			d = p.Max
		}
		delays[i] = d
		d *= 2
	}
	return delays
}

// Do calls fn until it succeeds, returns an error for which retryable is false,
// or the policy is exhausted. onRetry, if not nil, is called before each wait.
// The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, retryable func(error) bool, onRetry func(attempt int, err error), fn func(context.Context) (T, error)) (T, error) {
	delays := p.Delays()

	var zero T
	var lastErr error
	for attempt := 0; attempt <= len(delays); attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == len(delays) || !retryable(err) {
			break
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if onRetry != nil {
			onRetry(attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delays[attempt]):
		}
	}

	return zero, lastErr
}
