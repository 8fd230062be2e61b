package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orderlane/fraud-engine/internal/infrastructure/config"
)

// Server is the HTTP front of the fraud engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// HealthChecker reports readiness of a backing dependency.
type HealthChecker func(ctx context.Context) error

// NewServer builds the HTTP server with all routes registered.
func NewServer(cfg config.ServerConfig, handler *FraudHandler, pool *pgxpool.Pool, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	rl := NewRateLimiter(RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.BurstSize,
	})
	handler.RegisterRoutes(mux, rl)

	mux.HandleFunc("GET /healthz", healthHandler(pool))
	mux.Handle("GET /metrics", promhttp.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks serving requests until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func healthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		statusText := "healthy"
		checks := map[string]string{"database": "ok"}
		if err := pool.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			statusText = "degraded"
			checks["database"] = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": statusText,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
