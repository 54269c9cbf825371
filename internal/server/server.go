package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aman-churiwal/chain-gateway/internal/access"
	"github.com/aman-churiwal/chain-gateway/internal/clock"
	"github.com/aman-churiwal/chain-gateway/internal/config"
	"github.com/aman-churiwal/chain-gateway/internal/handler"
	"github.com/aman-churiwal/chain-gateway/internal/healthcheck"
	"github.com/aman-churiwal/chain-gateway/internal/middleware"
	"github.com/aman-churiwal/chain-gateway/internal/proxy"
	"github.com/aman-churiwal/chain-gateway/internal/ratelimit"
	"github.com/aman-churiwal/chain-gateway/internal/service"
	"github.com/aman-churiwal/chain-gateway/internal/stats"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"
)

const serviceName = "chain-gateway"

// Pinger is a dependency whose reachability is reported by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the server wires together. Optional ones may be
// left nil.
type Deps struct {
	Logger   *slog.Logger
	Clock    clock.Clock
	Verifier *access.Verifier
	Registry *ratelimit.Registry
	Backends *proxy.Router
	Recorder stats.Recorder

	LogWriter *middleware.RequestLogWriter // optional
	Logs      handler.LogQuerier           // optional
	AdminAuth *service.AdminAuthService    // optional; admin API is off without it
	Checks    map[string]Pinger            // optional, keyed by name in /health
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	deps       Deps
	httpServer *http.Server
	logger     *slog.Logger
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	if deps.Recorder == nil {
		deps.Recorder = stats.NewMemory()
	}
	if deps.Verifier == nil {
		deps.Verifier = access.NewVerifier(cfg.Access.Identifier, cfg.Access.Secrets)
	}
	if deps.Registry == nil {
		registry, err := ratelimit.NewRegistry(cfg.RateLimit.MaxKeys, ratelimit.DefaultWindow, deps.Logger)
		if err != nil {
			return nil, err
		}
		deps.Registry = registry
	}

	s := &Server{
		router: gin.New(),
		config: cfg,
		deps:   deps,
		logger: deps.Logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Handler:      otelhttp.NewHandler(s.router, serviceName),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *Server) limits() middleware.Limits {
	return middleware.Limits{
		Default:    s.config.RateLimit.RequestsPerMinute,
		Privileged: s.config.RateLimit.ProRequestsPerMinute(),
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.CORS())
	if s.deps.LogWriter != nil {
		s.router.Use(s.deps.LogWriter.Middleware())
	}
	s.router.Use(middleware.TierClassifier(s.deps.Verifier))
	s.router.Use(middleware.AdmissionControl(s.deps.Registry, s.limits(), s.deps.Clock, s.deps.Recorder))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	if s.deps.AdminAuth != nil {
		authHandler := handler.NewAuthHandler(s.deps.AdminAuth)
		adminHandler := handler.NewAdminHandler(handler.AdminDeps{
			Registry: s.deps.Registry,
			Limits:   s.limits(),
			Backends: s.deps.Backends,
			Recorder: s.deps.Recorder,
			Logs:     s.deps.Logs,
			Clock:    s.deps.Clock,
		})

		s.router.POST("/admin/login", authHandler.Login)

		admin := s.router.Group("/admin")
		admin.Use(middleware.RequireAdmin(s.deps.AdminAuth))
		{
			admin.GET("/status", adminHandler.Status)
			admin.GET("/stats", adminHandler.Stats)
			admin.GET("/logs", adminHandler.Logs)

			if s.deps.Backends != nil {
				systemHandler := handler.NewSystemHandler(s.deps.Backends)
				admin.GET("/backends", systemHandler.Backends)
				admin.POST("/backends/reset/*service", systemHandler.ResetCircuitBreaker)
			}
		}
	} else {
		s.logger.Warn("admin API disabled: JWT_SECRET and ADMIN_PASSWORD_HASH are not both set")
	}

	if s.deps.Backends != nil {
		s.deps.Backends.Register(s.router)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	status := "healthy"
	statusCode := http.StatusOK

	checks := gin.H{}
	for name, dep := range s.deps.Checks {
		healthy := true
		if err := dep.Ping(ctx); err != nil {
			healthy = false
			s.logger.Warn("health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
		}
		checks[name] = healthy
		if !healthy {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	if s.deps.Backends != nil {
		backends := s.deps.Backends.OverallHealth()
		checks["backends"] = backends
		switch backends {
		case healthcheck.Unhealthy:
			status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		case healthcheck.Degraded:
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   serviceName,
		"timestamp": s.deps.Clock.Now().Unix(),
		"checks":    checks,
	})
}

// Run listens on addr and serves until Shutdown.
func (s *Server) Run(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. With MaxConnections set, connections
// beyond the cap wait in the accept queue.
func (s *Server) Serve(ln net.Listener) error {
	if maxConns := s.config.Server.MaxConnections; maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}

	s.logger.Info("starting chain gateway",
		slog.String("addr", ln.Addr().String()),
		slog.String("environment", s.config.Server.Environment),
		slog.Int("max_connections", s.config.Server.MaxConnections),
	)

	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Handler is the fully wrapped handler, including tracing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
