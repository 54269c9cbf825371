package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aman-churiwal/chain-gateway/internal/access"
	"github.com/aman-churiwal/chain-gateway/internal/config"
	"github.com/aman-churiwal/chain-gateway/internal/middleware"
	"github.com/aman-churiwal/chain-gateway/internal/ratelimit"
	"github.com/aman-churiwal/chain-gateway/internal/repository"
	"github.com/aman-churiwal/chain-gateway/internal/server"
	"github.com/aman-churiwal/chain-gateway/internal/service"
	"github.com/aman-churiwal/chain-gateway/internal/stats"
	"github.com/aman-churiwal/chain-gateway/internal/storage"
	"github.com/aman-churiwal/chain-gateway/internal/telemetry"
	"github.com/joho/godotenv"
)

const (
	statsBuffer      = 10_000
	logBuffer        = 10_000
	logRetention     = 7 * 24 * time.Hour
	retentionEvery   = time.Hour
	shutdownDeadline = 10 * time.Second
)

func main() {
	// Load env if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load("config.yaml")
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	verifier := access.NewVerifier(cfg.Access.Identifier, cfg.Access.Secrets)
	if verifier.UsesPlaceholder() {
		logger.Warn("PRO_PASSES is not set; using the placeholder privileged secret")
	}

	if cfg.Tracing {
		shutdownTracer, err := telemetry.InitTracer("chain-gateway", os.Stdout, logger)
		if err != nil {
			logger.Error("failed to initialize tracing", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background writers outlive ctx so requests still in flight during
	// shutdown are recorded.
	workersCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	deps := server.Deps{
		Logger:   logger,
		Verifier: verifier,
		Checks:   make(map[string]server.Pinger),
	}

	var recorder stats.Recorder = stats.NewMemory()
	if cfg.Redis.Enabled() {
		redis, err := storage.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("failed to connect to redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer redis.Close()

		logger.Info("connected to redis", slog.String("addr", cfg.Redis.Addr))
		recorder = stats.NewRedis(redis, "")
		deps.Checks["redis"] = redis
	}
	asyncStats := stats.NewAsync(recorder, statsBuffer, logger)
	deps.Recorder = asyncStats
	workers.Add(1)
	go func() {
		defer workers.Done()
		asyncStats.Run(workersCtx)
	}()

	var logWriter *middleware.RequestLogWriter
	if cfg.Database.DSN != "" {
		postgres, err := storage.NewPostgres(cfg.Database.DSN)
		if err != nil {
			logger.Error("failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer postgres.Close()

		if err := postgres.AutoMigrate(); err != nil {
			logger.Error("failed to migrate database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("connected to database")

		repo := repository.NewRequestLogRepository(postgres)
		logWriter = middleware.NewRequestLogWriter(repo, logBuffer, logger)
		deps.LogWriter = logWriter
		deps.Logs = repo
		deps.Checks["database"] = postgres

		workers.Add(1)
		go func() {
			defer workers.Done()
			logWriter.Run(workersCtx)
		}()
		go runRetention(ctx, repo, logger)
	}

	registry, err := ratelimit.NewRegistry(cfg.RateLimit.MaxKeys, ratelimit.DefaultWindow, logger)
	if err != nil {
		logger.Error("failed to create limiter registry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	deps.Registry = registry

	backends, err := server.NewBackends(cfg.Backends, logger)
	if err != nil {
		logger.Error("invalid backend configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	deps.Backends = backends
	go backends.Start(ctx)

	if cfg.Admin.Enabled() {
		deps.AdminAuth = service.NewAdminAuthService(cfg.Admin.PasswordHash, cfg.Admin.JWTSecret, cfg.Admin.TokenExpiryHours, nil)
	}

	if !cfg.RateLimit.Enabled() {
		logger.Warn("admission control disabled: RATE_LIMIT_MAX_REQUESTS is 0")
	}
	logger.Info("admission control configured",
		slog.Int("basic_per_minute", cfg.RateLimit.RequestsPerMinute),
		slog.Int("pro_per_minute", cfg.RateLimit.ProRequestsPerMinute()),
		slog.Int("max_keys", cfg.RateLimit.MaxKeys),
	)

	srv, err := server.New(cfg, deps)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	go func() {
		if err := srv.Run(":" + cfg.Server.Port); err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	stopWorkers()
	workers.Wait()

	exitAttrs := []any{slog.Uint64("dropped_stats", asyncStats.Dropped())}
	if logWriter != nil {
		exitAttrs = append(exitAttrs, slog.Uint64("dropped_request_logs", logWriter.Dropped()))
	}
	logger.Info("server exited", exitAttrs...)
}

// runRetention deletes persisted request logs older than logRetention.
func runRetention(ctx context.Context, repo *repository.RequestLogRepository, logger *slog.Logger) {
	ticker := time.NewTicker(retentionEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := repo.DeleteOldLogs(ctx, time.Now().Add(-logRetention))
			if err != nil {
				logger.Error("failed to delete old request logs", slog.String("error", err.Error()))
				continue
			}
			if deleted > 0 {
				logger.Info("deleted old request logs", slog.Int64("count", deleted))
			}
		case <-ctx.Done():
			return
		}
	}
}
