package retry

import "time"

// MaxDelay caps every backoff so re-enqueued ensemble jobs stay within a caller's patience.
const MaxDelay = 30 * time.Second

// ExponentialBackoff returns delay based on attempt number.
// The delay doubles with each attempt: base * 2^attempt, capped at MaxDelay.
func ExponentialBackoff(attempt int, base time.Duration) time.Duration {
	return CappedBackoff(attempt, base, MaxDelay)
}

// CappedBackoff is ExponentialBackoff with an explicit ceiling. Negative attempts count as zero.
func CappedBackoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if d >= ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
