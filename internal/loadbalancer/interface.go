package loadbalancer

// Strategy picks which target of a backend serves the next request.
type Strategy interface {
	// Next selects a target from the currently healthy ones. It returns ""
	// when targets is empty.
	Next(targets []string) string

	Name() string
}

// ConnectionTracker is implemented by strategies that need to know how many
// requests are in flight per target.
type ConnectionTracker interface {
	Acquire(target string)
	Release(target string)
}
