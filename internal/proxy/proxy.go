package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/aman-churiwal/chain-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/chain-gateway/internal/healthcheck"
	"github.com/aman-churiwal/chain-gateway/internal/loadbalancer"
	"github.com/aman-churiwal/chain-gateway/internal/middleware"
	"github.com/gin-gonic/gin"
)

var errBackendStatus = errors.New("backend returned server error")

// Backend forwards requests for a set of URL prefixes to one upstream
// service, spreading them over the service's healthy targets.
type Backend struct {
	name           string
	prefixes       []string
	targets        []string
	proxies        map[string]*httputil.ReverseProxy
	circuitBreaker *circuitbreaker.CircuitBreaker
	loadBalancer   loadbalancer.Strategy
	healthChecker  *healthcheck.Checker
	logger         *slog.Logger
}

type Config struct {
	Name                 string
	Prefixes             []string
	Targets              []string
	LoadBalancerStrategy string
	CircuitBreaker       circuitbreaker.Config
	HealthCheck          healthcheck.Config

	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

func New(cfg Config) (*Backend, error) {
	if cfg.Name == "" {
		return nil, errors.New("backend name is required")
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("backend %s: at least one target is required", cfg.Name)
	}
	if len(cfg.Prefixes) == 0 {
		return nil, fmt.Errorf("backend %s: at least one prefix is required", cfg.Name)
	}
	for _, prefix := range cfg.Prefixes {
		if !strings.HasPrefix(prefix, "/") || strings.HasSuffix(prefix, "/") {
			return nil, fmt.Errorf("backend %s: prefix %q must start and not end with /", cfg.Name, prefix)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(slog.String("backend", cfg.Name))

	lb, err := loadbalancer.NewStrategy(cfg.LoadBalancerStrategy)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", cfg.Name, err)
	}

	b := &Backend{
		name:         cfg.Name,
		prefixes:     append([]string(nil), cfg.Prefixes...),
		targets:      append([]string(nil), cfg.Targets...),
		proxies:      make(map[string]*httputil.ReverseProxy, len(cfg.Targets)),
		loadBalancer: lb,
		logger:       logger,
	}

	for _, targetURL := range cfg.Targets {
		target, err := url.Parse(targetURL)
		if err != nil {
			return nil, fmt.Errorf("backend %s: invalid target %q: %w", cfg.Name, targetURL, err)
		}
		if target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("backend %s: target %q must be an absolute URL", cfg.Name, targetURL)
		}
		b.proxies[targetURL] = b.newReverseProxy(target, cfg.Transport)
	}

	cbCfg := cfg.CircuitBreaker
	cbCfg.Name = cfg.Name
	if cbCfg.OnStateChange == nil {
		cbCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}
	}
	b.circuitBreaker = circuitbreaker.New(cbCfg)

	hcCfg := cfg.HealthCheck
	hcCfg.Name = cfg.Name
	hcCfg.Targets = cfg.Targets
	if hcCfg.Logger == nil {
		hcCfg.Logger = cfg.Logger
	}
	b.healthChecker = healthcheck.NewChecker(hcCfg)

	logger.Info("backend initialized",
		slog.Int("targets", len(cfg.Targets)),
		slog.String("strategy", lb.Name()),
		slog.Any("prefixes", cfg.Prefixes),
	)

	return b, nil
}

func (b *Backend) newReverseProxy(target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			b.logger.Error("proxy transport error",
				slog.String("target", target.String()),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"Bad gateway"}`))
		},
	}
}

// Handle forwards the request to a healthy target. The circuit breaker counts
// transport errors and 5xx responses as failures.
func (b *Backend) Handle(c *gin.Context) {
	healthyTargets := b.healthChecker.HealthyTargets()
	if len(healthyTargets) == 0 {
		b.logger.Warn("no healthy targets available")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": "No healthy backend servers available",
		})
		return
	}

	selectedTarget := b.loadBalancer.Next(healthyTargets)
	targetProxy, exists := b.proxies[selectedTarget]
	if !exists {
		b.logger.Error("no proxy for selected target", slog.String("target", selectedTarget))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to select backend server",
		})
		return
	}

	if tracker, ok := b.loadBalancer.(loadbalancer.ConnectionTracker); ok {
		tracker.Acquire(selectedTarget)
		defer tracker.Release(selectedTarget)
	}

	err := b.circuitBreaker.Call(func() error {
		c.Header(middleware.BackendHeader, selectedTarget)
		targetProxy.ServeHTTP(c.Writer, c.Request)

		if c.Writer.Status() >= http.StatusInternalServerError {
			return errBackendStatus
		}
		return nil
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
	}
}

// Start runs the backend's health checks until ctx is cancelled.
func (b *Backend) Start(ctx context.Context) {
	b.healthChecker.Start(ctx)
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) Prefixes() []string {
	return append([]string(nil), b.prefixes...)
}

func (b *Backend) ResetCircuitBreaker() {
	b.circuitBreaker.Reset()
}

func (b *Backend) CircuitBreakerState() circuitbreaker.State {
	return b.circuitBreaker.State()
}

func (b *Backend) OverallHealth() healthcheck.HealthStatus {
	return b.healthChecker.OverallHealth()
}

// Status is the admin view of a backend.
type Status struct {
	Name           string                   `json:"name"`
	Prefixes       []string                 `json:"prefixes"`
	Strategy       string                   `json:"load_balancer"`
	Health         healthcheck.HealthStatus `json:"health"`
	HealthyTargets int                      `json:"healthy_targets"`
	TotalTargets   int                      `json:"total_targets"`
	CircuitBreaker circuitbreaker.Metrics   `json:"circuit_breaker"`
	Targets        []healthcheck.Status     `json:"targets"`
}

func (b *Backend) Status() Status {
	return Status{
		Name:           b.name,
		Prefixes:       b.Prefixes(),
		Strategy:       b.loadBalancer.Name(),
		Health:         b.healthChecker.OverallHealth(),
		HealthyTargets: len(b.healthChecker.HealthyTargets()),
		TotalTargets:   len(b.targets),
		CircuitBreaker: b.circuitBreaker.Metrics(),
		Targets:        b.healthChecker.AllStatus(),
	}
}
