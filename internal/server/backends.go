package server

import (
	"log/slog"

	"github.com/aman-churiwal/chain-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/chain-gateway/internal/config"
	"github.com/aman-churiwal/chain-gateway/internal/healthcheck"
	"github.com/aman-churiwal/chain-gateway/internal/proxy"
)

// NewBackends builds the route table from the configured backends.
func NewBackends(cfgs []config.BackendConfig, logger *slog.Logger) (*proxy.Router, error) {
	backends := make([]*proxy.Backend, 0, len(cfgs))

	for _, bc := range cfgs {
		b, err := proxy.New(proxy.Config{
			Name:                 bc.Name,
			Prefixes:             bc.Prefixes,
			Targets:              bc.Targets,
			LoadBalancerStrategy: bc.LoadBalancer,
			CircuitBreaker:       circuitbreaker.Config{MaxFailures: 5},
			HealthCheck:          healthcheck.Config{Endpoint: bc.HealthPath},
			Logger:               logger,
		})
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}

	return proxy.NewRouter(backends...)
}
