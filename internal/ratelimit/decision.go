package ratelimit

import "time"

// Decision is the outcome of one admission attempt against a WindowCounter.
type Decision struct {
	Allowed bool
	// Count is the number of requests seen in the current window, including
	// this one and any rejected ones.
	Count   int
	Limit   int
	ResetAt time.Time
}

// Remaining is how many more requests the current window will admit.
func (d Decision) Remaining() int {
	if d.Count >= d.Limit {
		return 0
	}
	return d.Limit - d.Count
}

// RetryAfter is the wait until the window resets, rounded up to whole seconds.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return (wait + time.Second - 1) / time.Second * time.Second
}
