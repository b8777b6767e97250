package settlement

import (
	"context"
	"time"
)

// Clock abstracts time for deterministic retry tests
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy bounds leg retries and shapes the backoff between attempts
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Clock       Clock
}

// DefaultRetryPolicy retries up to 5 times with exponential backoff capped
// at two minutes
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff:     ExponentialBackoff(2*time.Second, 2*time.Minute),
		Clock:       realClock{},
	}
}

// ExponentialBackoff doubles the delay each attempt up to max
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		if d > max {
			return max
		}
		return d
	}
}

func (p RetryPolicy) clock() Clock {
	if p.Clock == nil {
		return realClock{}
	}
	return p.Clock
}
