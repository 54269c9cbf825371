package stats

import (
	"context"
	"sync"
	"time"
)

type memoryBucket struct {
	allowed  map[string]int64
	rejected map[string]int64
	routes   map[string]int64
}

// Memory keeps buckets in process. Used when no redis is configured.
type Memory struct {
	mu      sync.Mutex
	buckets map[int64]*memoryBucket
}

func NewMemory() *Memory {
	return &Memory{buckets: make(map[int64]*memoryBucket)}
}

func (m *Memory) Record(_ context.Context, ev Event) error {
	minute := minuteOf(ev.At)

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[minute]
	if !ok {
		b = &memoryBucket{
			allowed:  make(map[string]int64),
			rejected: make(map[string]int64),
			routes:   make(map[string]int64),
		}
		m.buckets[minute] = b
		m.prune(minute)
	}

	if ev.Allowed {
		b.allowed[ev.Tier.String()]++
	} else {
		b.rejected[ev.Tier.String()]++
		b.routes[ev.RouteKey]++
	}
	return nil
}

func (m *Memory) Summary(_ context.Context, from, to time.Time) (Summary, error) {
	s := newSummary(from, to)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, minute := range minutes(from, to) {
		b, ok := m.buckets[minute]
		if !ok {
			continue
		}
		for k, v := range b.allowed {
			s.Allowed[k] += v
		}
		for k, v := range b.rejected {
			s.Rejected[k] += v
		}
		for k, v := range b.routes {
			s.RejectedRoutes[k] += v
		}
	}
	return s, nil
}

// prune drops buckets older than Retention. Caller holds mu.
func (m *Memory) prune(current int64) {
	oldest := current - int64(Retention/time.Minute)
	for minute := range m.buckets {
		if minute < oldest {
			delete(m.buckets, minute)
		}
	}
}
