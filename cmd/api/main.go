package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/orderlane/fraud-engine/internal/api/rest"
	"github.com/orderlane/fraud-engine/internal/infrastructure/cache"
	"github.com/orderlane/fraud-engine/internal/infrastructure/config"
	"github.com/orderlane/fraud-engine/internal/infrastructure/database"
	"github.com/orderlane/fraud-engine/internal/infrastructure/repository"
	"github.com/orderlane/fraud-engine/internal/infrastructure/telemetry"
	"github.com/orderlane/fraud-engine/internal/metrics"
	"github.com/orderlane/fraud-engine/internal/service/attemptlog"
	"github.com/orderlane/fraud-engine/internal/service/evaluator"
	"github.com/orderlane/fraud-engine/internal/service/velocity"

	assessmentsvc "github.com/orderlane/fraud-engine/internal/service/assessment"
	denylistsvc "github.com/orderlane/fraud-engine/internal/service/denylist"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to set up infrastructure logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Initialize(ctx, &telemetry.Config{
		ServiceName:    "fraud-engine",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	pool, err := database.Connect(ctx, &cfg.Database, zapLogger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	registry, err := metrics.NewRegistry("fraud-engine")
	if err != nil {
		log.Fatalf("Failed to create metrics registry: %v", err)
	}

	// Repositories
	ruleRepo := repository.NewRuleRepository(pool)
	velocityRepo := repository.NewVelocityRepository(pool)
	denylistRepo := repository.NewDenylistRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	assessmentRepo := repository.NewAssessmentRepository(pool)
	historyRepo := repository.NewOrderHistoryRepository(pool)

	// Services
	tracker := velocity.NewTracker(velocityRepo, logger, registry)
	denylistService := denylistsvc.NewService(denylistRepo, logger, registry)
	attemptLogger := attemptlog.NewLogger(attemptRepo, logger)

	// The engine checks the denylist on the hot path; when Redis is
	// enabled, misses are served from cache so clean traffic skips
	// Postgres.
	var denylistChecker evaluator.DenylistChecker = denylistService
	var invalidator rest.DenylistInvalidator
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedisClient(&cfg.Redis, zapLogger)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()

		denylistCache := cache.NewDenylistCache(redisClient, denylistService, cfg.Engine.DenylistCacheTTL, zapLogger)
		denylistChecker = denylistCache
		invalidator = denylistCache
	}

	engine := evaluator.NewEngine(tracker, denylistChecker, historyRepo, logger, evaluator.WithMetrics(registry))
	assessmentService := assessmentsvc.NewService(ruleRepo, assessmentRepo, engine, loggingOrderGateway{logger: logger}, logger, registry)

	handler := rest.NewFraudHandler(assessmentService, denylistService, attemptLogger, tracker, ruleRepo, invalidator, logger)
	server := rest.NewServer(cfg.Server, handler, pool, logger)

	go runSweeps(ctx, cfg.Engine, tracker, denylistService, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}
}

// runSweeps runs the periodic maintenance tasks: expired velocity windows
// are deleted past retention, and lapsed denylist entries are deactivated.
func runSweeps(ctx context.Context, cfg config.EngineConfig, tracker *velocity.Tracker, dl *denylistsvc.Service, logger *slog.Logger) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if deleted, err := tracker.Cleanup(ctx, cfg.VelocityRetentionHours); err != nil {
				logger.Error("velocity cleanup failed", "error", err)
			} else if deleted > 0 {
				logger.Info("velocity cleanup", "windows_deleted", deleted)
			}
			if expired, err := dl.CleanupExpired(ctx); err != nil {
				logger.Error("denylist expiry sweep failed", "error", err)
			} else if expired > 0 {
				logger.Info("denylist expiry sweep", "entries_deactivated", expired)
			}
		}
	}
}
