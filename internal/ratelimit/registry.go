package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// DefaultMaxKeys bounds the registry when no explicit size is configured.
const DefaultMaxKeys = 100_000

// Registry owns one WindowCounter per route key. Counters are created on
// first use and live until the registry is full, at which point the least
// recently used key is evicted.
type Registry struct {
	mu        sync.Mutex
	counters  *lru.Cache[string, *WindowCounter]
	window    time.Duration
	evictions atomic.Uint64
	logger    *slog.Logger
	evictLog  rate.Sometimes
}

func NewRegistry(maxKeys int, window time.Duration, logger *slog.Logger) (*Registry, error) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		window:   window,
		logger:   logger,
		evictLog: rate.Sometimes{First: 1, Interval: time.Minute},
	}

	counters, err := lru.NewWithEvict(maxKeys, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter registry: %w", err)
	}
	r.counters = counters

	return r, nil
}

// GetOrCreate returns the counter for key, creating it with limit if the key
// has not been seen.
func (r *Registry) GetOrCreate(key string, limit int) *WindowCounter {
	if c, ok := r.counters.Get(key); ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another request may have created it while we waited for the lock.
	if c, ok := r.counters.Get(key); ok {
		return c
	}

	c := NewWindowCounter(limit, r.window)
	r.counters.Add(key, c)
	return c
}

// Len is the number of live counters.
func (r *Registry) Len() int {
	return r.counters.Len()
}

// Evictions is the number of counters dropped to keep the registry bounded.
func (r *Registry) Evictions() uint64 {
	return r.evictions.Load()
}

func (r *Registry) Window() time.Duration {
	return r.window
}

func (r *Registry) onEvict(key string, _ *WindowCounter) {
	n := r.evictions.Add(1)
	r.evictLog.Do(func() {
		r.logger.Warn("limiter registry full, evicting least recently used route key",
			slog.String("route_key", key),
			slog.Uint64("evictions", n),
		)
	})
}
