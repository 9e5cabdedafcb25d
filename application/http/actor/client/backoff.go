package client

import (
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffFunc returns how long to wait before retry number attempt, starting at 1.
type BackoffFunc func(attempt int) time.Duration

// ConstantBackoff waits d before every retry.
func ConstantBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// LinearBackoff waits base times the retry number.
func LinearBackoff(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return base * time.Duration(max(attempt, 0))
	}
}

// ExponentialBackoff doubles the wait from base on every retry, up to limit.
// Zero limit means no limit.
func ExponentialBackoff(base, limit time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			if d > math.MaxInt64/2 {
				d = math.MaxInt64
				break
			}
			d *= 2
			if limit > 0 && d >= limit {
				break
			}
		}
		if limit > 0 && d > limit {
			return limit
		}
		return d
	}
}

// BackOffFrom takes the waits from b. b is reset on the first retry.
// A stopped b means no wait.
//
// b is shared by every request using the returned function,
// so policies with state, like jitter growth, are best used per request.
func BackOffFrom(b backoff.BackOff) BackoffFunc {
	var mu sync.Mutex
	return func(attempt int) time.Duration {
		mu.Lock()
		defer mu.Unlock()

		if attempt <= 1 {
			b.Reset()
		}
		d := b.NextBackOff()
		if d == backoff.Stop {
			return 0
		}
		return d
	}
}
