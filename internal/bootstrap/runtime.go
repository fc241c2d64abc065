// Package bootstrap wires the board's components together from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/AndreasThinks/nodeice-board/internal/cache"
	"github.com/AndreasThinks/nodeice-board/internal/config"
	"github.com/AndreasThinks/nodeice-board/internal/database"
	"github.com/AndreasThinks/nodeice-board/internal/events"
	"github.com/AndreasThinks/nodeice-board/internal/notifications"
	"github.com/AndreasThinks/nodeice-board/internal/observability"
	"github.com/AndreasThinks/nodeice-board/internal/router"
	"github.com/AndreasThinks/nodeice-board/internal/scheduler"
	"github.com/AndreasThinks/nodeice-board/internal/server"
	"github.com/AndreasThinks/nodeice-board/internal/service"
	"github.com/AndreasThinks/nodeice-board/internal/transport"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Version is reported by the ops server.
var Version = "dev"

// Options control runtime initialization.
type Options struct {
	// Console streams; default to stdin and stdout.
	In  io.Reader
	Out io.Writer
	// DisableOps skips the HTTP ops server.
	DisableOps bool
}

// Runtime holds every long-lived component of a running board.
type Runtime struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	Transport transport.Transport
	Sender    transport.Sender
	Bus       *events.Bus
	Board     *service.Board
	Router    *router.Router
	Scheduler *scheduler.Expiration
	Ops       *server.Server

	shutdownTracing func(context.Context) error
}

// InitRuntime connects to the store and Redis and builds all components.
// Nothing is started until Run.
func InitRuntime(cfg *config.Config, opts Options) (*Runtime, error) {
	observability.ConfigureLogger(cfg.Env, cfg.LogLevel)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "nodeice-board",
		ServiceVersion: Version,
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSamplerRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing setup failed: %w", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Redis is optional unless it carries the transport.
	if cfg.Transport == config.TransportRedis || cfg.RedisURL != "" {
		cache.InitRedis(cfg.RedisURL)
	}
	rdb := cache.GetClient()
	if cfg.Transport == config.TransportRedis && rdb == nil {
		_ = database.Close(db)
		return nil, errors.New("redis transport selected but Redis is unavailable")
	}

	var tr transport.Transport
	switch cfg.Transport {
	case config.TransportRedis:
		tr = transport.NewRedis(rdb, cfg.TransportInboundChannel, cfg.TransportOutboundChannel)
	default:
		in, out := opts.In, opts.Out
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stdout
		}
		tr = transport.NewConsole(in, out)
	}
	sender := transport.NewBreaker(cfg.Transport, tr, transport.DefaultBreakerSettings)

	policy := database.NewRetryPolicy(cfg.StoreRetryAttempts)
	bus := events.NewBus(events.DefaultQueueSize)
	board := service.NewBoardFromDB(db, policy, service.WithPublisher(bus))

	bus.Register(notifications.NewFanOut(board, sender, cfg.NotificationDelay()))
	if rdb != nil {
		bus.Register(notifications.NewPublisher(rdb, cfg.EventsChannel))
		bus.Register(cache.StatsInvalidator())
	}

	rt := &Runtime{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Transport: tr,
		Sender:    sender,
		Bus:       bus,
		Board:     board,
		Router: router.New(board, sender, router.Config{
			BoardName:        cfg.BoardLongName,
			ShortName:        cfg.BoardShortName,
			ExpirationDays:   cfg.ExpirationDays,
			MaxMessageLength: cfg.MaxMessageLength,
			MaxReplyLength:   cfg.MaxReplyLength,
			MessageDelay:     cfg.MessageDelay(),
			RateLimitWindow:  cfg.RateLimitWindow(),
		}),
		shutdownTracing: shutdownTracing,
	}

	// The sweep gets its own session so it never shares statement state
	// with the inbound path.
	sweepBoard := service.NewBoardFromDB(db.Session(&gorm.Session{NewDB: true}), policy)
	rt.Scheduler = scheduler.NewExpiration(sweepBoard, scheduler.Config{
		ExpirationDays: cfg.ExpirationDays,
		CheckInterval:  cfg.ExpirationCheckInterval(),
		OnExpired: func(ctx context.Context, _ int64) {
			cache.Invalidate(ctx, cache.StatsKey)
		},
	})

	if !opts.DisableOps && cfg.OpsPort != "" {
		rt.Ops = server.New(server.Config{
			Port:      cfg.OpsPort,
			BoardName: cfg.BoardLongName,
			Version:   Version,
		}, db, rdb, board, rt.Scheduler)
	}

	return rt, nil
}

// OnlineMessage is broadcast on start when ANNOUNCE_ON_START is set.
func (rt *Runtime) OnlineMessage() string {
	return fmt.Sprintf("%s is now online! Send !help for available commands.", rt.Config.BoardLongName)
}

// Run starts background components and handles inbound messages until ctx
// is done or the transport stops.
func (rt *Runtime) Run(ctx context.Context) error {
	rt.Bus.Start()
	rt.Router.Start(ctx)
	rt.Scheduler.Start(ctx)

	if rt.Ops != nil {
		go func() {
			if err := rt.Ops.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				observability.Logger.Error("Ops server stopped", slog.String("error", err.Error()))
			}
		}()
	}

	if rt.Config.AnnounceOnStart {
		if err := rt.Sender.Send(ctx, rt.OnlineMessage(), transport.Broadcast); err != nil {
			observability.Logger.Warn("Failed to send online announcement", slog.String("error", err.Error()))
		}
	}

	observability.Logger.Info("Board is listening",
		slog.String("board", rt.Config.BoardLongName),
		slog.String("transport", rt.Config.Transport),
	)

	err := rt.Transport.Listen(ctx, rt.Router.HandleMessage)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown stops components in reverse dependency order. It keeps going on
// errors and returns them joined.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if err := rt.Scheduler.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.Bus.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if rt.Ops != nil {
		if err := rt.Ops.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := rt.Transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	if err := cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	if err := database.Close(rt.DB); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if err := rt.shutdownTracing(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
	}

	if len(errs) == 0 {
		observability.Logger.Info("Board shutdown complete")
	}
	return errors.Join(errs...)
}
