// Package server exposes the board's read-only ops surface: health, stats
// and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/cache"
	"github.com/AndreasThinks/nodeice-board/internal/database"
	"github.com/AndreasThinks/nodeice-board/internal/models"
	"github.com/AndreasThinks/nodeice-board/internal/observability"
	"github.com/AndreasThinks/nodeice-board/internal/scheduler"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	promOnce       sync.Once
	promMiddleware *fiberprometheus.FiberPrometheus
)

// initMetrics registers the HTTP collectors once per process.
func initMetrics() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		promMiddleware = fiberprometheus.New("nodeice-board")
	})
	return promMiddleware
}

// StatsSource supplies the board snapshot.
type StatsSource interface {
	Stats(ctx context.Context) (models.BoardStats, error)
}

// SweepReporter describes the expiration scheduler.
type SweepReporter interface {
	State() scheduler.State
	LastSweep() *scheduler.SweepResult
}

// Config configures the ops server.
type Config struct {
	Port      string
	BoardName string
	Version   string
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	models.BoardStats
	SchedulerState string                 `json:"scheduler_state,omitempty"`
	LastSweep      *scheduler.SweepResult `json:"last_sweep,omitempty"`
}

// Server is the ops HTTP server.
type Server struct {
	cfg    Config
	db     *gorm.DB
	redis  *redis.Client
	stats  StatsSource
	sweeps SweepReporter
	app    *fiber.App
}

// New builds the server and its routes. redis and sweeps may be nil.
func New(cfg Config, db *gorm.DB, redisClient *redis.Client, stats StatsSource, sweeps SweepReporter) *Server {
	s := &Server{
		cfg:    cfg,
		db:     db,
		redis:  redisClient,
		stats:  stats,
		sweeps: sweeps,
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.BoardName + " ops",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
			return c.Status(status).JSON(fiber.Map{"error": err.Error()})
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return s
}

// SetupMiddleware installs panic recovery, request ids, metrics and logging.
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(initMetrics().Middleware)
	app.Use(requestLogger())
}

// SetupRoutes registers the read-only endpoints.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/healthz", s.HealthCheck)
	app.Get("/api/stats", s.GetStats)
	initMetrics().RegisterAt(app, "/metrics")
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured port and blocks until shutdown.
func (s *Server) Start() error {
	observability.Logger.Info("Ops server starting", slog.String("port", s.cfg.Port))
	return s.app.Listen(":" + s.cfg.Port)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	observability.Logger.Info("Ops server stopped")
	return nil
}

// HealthCheck reports database and Redis reachability.
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
		observability.Logger.WarnContext(ctx, "Health check database ping failed",
			slog.String("error", err.Error()),
		)
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	checks := fiber.Map{
		"database": dbStatus,
		"redis":    redisStatus,
	}
	if s.sweeps != nil {
		checks["scheduler"] = string(s.sweeps.State())
	}

	return c.Status(status).JSON(fiber.Map{
		"board":   s.cfg.BoardName,
		"version": s.cfg.Version,
		"status":  overall,
		"checks":  checks,
		"time":    time.Now().UTC(),
	})
}

// GetStats returns the board snapshot, cached briefly in Redis when available.
func (s *Server) GetStats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	stats, err := cache.Aside(ctx, cache.StatsKey, cache.StatsTTL, s.stats.Stats)
	if err != nil {
		observability.Logger.ErrorContext(ctx, "Failed to load board stats",
			slog.String("error", err.Error()),
		)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "stats unavailable",
		})
	}

	resp := StatsResponse{BoardStats: stats}
	if s.sweeps != nil {
		resp.SchedulerState = string(s.sweeps.State())
		resp.LastSweep = s.sweeps.LastSweep()
	}
	return c.JSON(resp)
}

func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		level := slog.LevelDebug
		if status >= fiber.StatusInternalServerError {
			level = slog.LevelWarn
		}
		observability.Logger.Log(c.UserContext(), level, "HTTP request",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
		)
		return err
	}
}
