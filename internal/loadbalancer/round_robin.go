package loadbalancer

import "sync"

type RoundRobin struct {
	mu      sync.Mutex
	current int
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Next cycles through targets. The position is shared across calls, so the
// rotation shifts when the healthy set changes.
func (r *RoundRobin) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	target := targets[r.current%len(targets)]
	r.current++

	return target
}

func (r *RoundRobin) Name() string {
	return "round_robin"
}
