package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the fixed window every counter uses.
const DefaultWindow = time.Minute

// WindowCounter is a fixed-window request counter.
//
// The window starts at the first request and restarts at the first request
// arriving once it has fully elapsed. Every request is counted, including the
// rejected ones, so a window admits exactly limit requests however many
// arrive.
type WindowCounter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	limit       int
	window      time.Duration
}

// NewWindowCounter returns a counter whose first window opens at its first
// TryAdmit call.
func NewWindowCounter(limit int, window time.Duration) *WindowCounter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &WindowCounter{
		limit:  limit,
		window: window,
	}
}

// TryAdmit counts one request at now and reports whether it fits the limit.
func (w *WindowCounter) TryAdmit(now time.Time) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	if now.Sub(w.windowStart) >= w.window {
		w.count = 0
		w.windowStart = now
	}

	w.count++

	return Decision{
		Allowed: w.count <= w.limit,
		Count:   w.count,
		Limit:   w.limit,
		ResetAt: w.windowStart.Add(w.window),
	}
}

func (w *WindowCounter) Limit() int {
	return w.limit
}

func (w *WindowCounter) Window() time.Duration {
	return w.window
}

// Count returns the number of requests in the window as of the last admission.
func (w *WindowCounter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
