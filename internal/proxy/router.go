package proxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/aman-churiwal/chain-gateway/internal/healthcheck"
	"github.com/gin-gonic/gin"
)

// Router is the route table: every prefix belongs to exactly one backend.
type Router struct {
	backends []*Backend
	byName   map[string]*Backend
}

func NewRouter(backends ...*Backend) (*Router, error) {
	r := &Router{byName: make(map[string]*Backend, len(backends))}
	owners := make(map[string]string)

	for _, b := range backends {
		if _, dup := r.byName[b.Name()]; dup {
			return nil, fmt.Errorf("duplicate backend name %q", b.Name())
		}
		for _, prefix := range b.Prefixes() {
			if owner, dup := owners[prefix]; dup {
				return nil, fmt.Errorf("prefix %s is claimed by both %s and %s", prefix, owner, b.Name())
			}
			owners[prefix] = b.Name()
		}
		r.byName[b.Name()] = b
		r.backends = append(r.backends, b)
	}

	return r, nil
}

// Register mounts each prefix and everything below it on routes.
func (r *Router) Register(routes gin.IRoutes) {
	for _, b := range r.backends {
		for _, prefix := range b.Prefixes() {
			routes.Any(prefix, b.Handle)
			routes.Any(prefix+"/*path", b.Handle)
		}
	}
}

// Start runs every backend's health checks and blocks until ctx is cancelled
// and all of them have stopped.
func (r *Router) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, b := range r.backends {
		wg.Add(1)
		go func(b *Backend) {
			defer wg.Done()
			b.Start(ctx)
		}(b)
	}
	wg.Wait()
}

func (r *Router) Backend(name string) (*Backend, bool) {
	b, ok := r.byName[name]
	return b, ok
}

func (r *Router) Backends() []*Backend {
	return append([]*Backend(nil), r.backends...)
}

func (r *Router) Statuses() []Status {
	statuses := make([]Status, 0, len(r.backends))
	for _, b := range r.backends {
		statuses = append(statuses, b.Status())
	}
	return statuses
}

// OverallHealth is the worst health of any backend.
func (r *Router) OverallHealth() healthcheck.HealthStatus {
	overall := healthcheck.Healthy
	for _, b := range r.backends {
		overall = healthcheck.Worst(overall, b.OverallHealth())
	}
	return overall
}
