package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aman-churiwal/chain-gateway/internal/clock"
)

// Checker polls the targets of one backend and tracks which of them are
// healthy.
type Checker struct {
	mu             sync.RWMutex
	name           string
	targets        []string
	healthStatus   map[string]*Status
	healthyTargets []string
	endpoint       string
	interval       time.Duration
	maxFailures    int
	client         *http.Client
	clock          clock.Clock
	logger         *slog.Logger
}

type Config struct {
	Name        string
	Targets     []string
	Endpoint    string        // path probed on each target, default "/health"
	Interval    time.Duration // default 10s
	Timeout     time.Duration // per probe, default 5s
	MaxFailures int           // consecutive failures before unhealthy, default 3
	Client      *http.Client
	Clock       clock.Clock
	Logger      *slog.Logger
}

func NewChecker(cfg Config) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	checker := &Checker{
		name:           cfg.Name,
		targets:        append([]string(nil), cfg.Targets...),
		healthStatus:   make(map[string]*Status, len(cfg.Targets)),
		healthyTargets: append([]string(nil), cfg.Targets...),
		endpoint:       cfg.Endpoint,
		interval:       cfg.Interval,
		maxFailures:    cfg.MaxFailures,
		client:         cfg.Client,
		clock:          cfg.Clock,
		logger:         cfg.Logger.With(slog.String("backend", cfg.Name)),
	}

	// targets start healthy so traffic flows before the first probe returns
	now := cfg.Clock.Now()
	for _, target := range cfg.Targets {
		checker.healthStatus[target] = &Status{
			Target:    target,
			IsHealthy: true,
			LastCheck: now,
		}
	}

	return checker
}

// Start probes every target immediately and then every interval until ctx is
// cancelled. It blocks; run it in its own goroutine.
func (c *Checker) Start(ctx context.Context) {
	c.logger.Info("starting health checks",
		slog.Int("targets", len(c.targets)),
		slog.Duration("interval", c.interval),
	)

	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CheckAll(ctx)
		case <-ctx.Done():
			c.logger.Info("health checker stopped")
			return
		}
	}
}

// CheckAll probes every target once, concurrently.
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, target := range c.targets {
		wg.Add(1)
		go func(t string) {
			defer wg.Done()
			c.checkTarget(ctx, t)
		}(target)
	}

	wg.Wait()
	c.updateHealthyTargets()
}

func (c *Checker) checkTarget(ctx context.Context, target string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+c.endpoint, nil)
	if err != nil {
		c.recordFailure(target, err.Error())
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure(target, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		c.recordSuccess(target)
	} else {
		c.recordFailure(target, resp.Status)
	}
}

func (c *Checker) recordSuccess(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	status := c.healthStatus[target]
	status.LastCheck = now
	status.LastSuccess = now
	status.FailureCount = 0
	status.LastError = ""

	if !status.IsHealthy {
		c.logger.Info("target is healthy again", slog.String("target", target))
		status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(target, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	status := c.healthStatus[target]
	status.LastCheck = now
	status.LastFailure = now
	status.FailureCount++
	status.LastError = reason

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.logger.Warn("target is unhealthy",
			slog.String("target", target),
			slog.Int("failures", status.FailureCount),
			slog.String("reason", reason),
		)
		status.IsHealthy = false
	}
}

func (c *Checker) updateHealthyTargets() {
	c.mu.Lock()
	defer c.mu.Unlock()

	healthy := make([]string, 0, len(c.targets))
	for _, target := range c.targets {
		if c.healthStatus[target].IsHealthy {
			healthy = append(healthy, target)
		}
	}

	c.healthyTargets = healthy
}

// HealthyTargets returns a copy of the targets currently considered healthy.
func (c *Checker) HealthyTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	targets := make([]string, len(c.healthyTargets))
	copy(targets, c.healthyTargets)

	return targets
}

func (c *Checker) AllTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	targets := make([]string, len(c.targets))
	copy(targets, c.targets)

	return targets
}

// Status returns a copy of the status for target, or nil for an unknown one.
func (c *Checker) Status(target string) *Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if status, exists := c.healthStatus[target]; exists {
		statusCopy := *status
		return &statusCopy
	}

	return nil
}

// AllStatus returns copies of every target's status in target order.
func (c *Checker) AllStatus() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := make([]Status, 0, len(c.targets))
	for _, target := range c.targets {
		statuses = append(statuses, *c.healthStatus[target])
	}

	return statuses
}

func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthyCount := len(c.healthyTargets)

	if healthyCount == 0 {
		return Unhealthy
	}
	if healthyCount < len(c.targets) {
		return Degraded
	}

	return Healthy
}
