// Package scheduler runs the periodic post expiration sweep.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/observability"
)

// State is the scheduler's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateSweeping State = "sweeping"
	StateStopped  State = "stopped"
)

// DefaultStopTimeout bounds how long Stop waits for the loop to exit.
const DefaultStopTimeout = 5 * time.Second

// ErrStopTimeout is returned by Stop when the loop did not exit in time.
var ErrStopTimeout = errors.New("expiration scheduler did not stop in time")

// Sweeper is the data engine operation the scheduler drives.
type Sweeper interface {
	MarkExpiredAsInvisible(ctx context.Context, days int) (int64, error)
}

// Config controls the sweep cadence.
type Config struct {
	ExpirationDays int
	CheckInterval  time.Duration
	StopTimeout    time.Duration
	// OnExpired, if set, is called after a sweep that hid at least one post.
	OnExpired func(ctx context.Context, n int64)
}

// SweepResult describes the most recent sweep.
type SweepResult struct {
	At       time.Time `json:"at"`
	Expired  int64     `json:"expired"`
	Duration string    `json:"duration"`
	Error    string    `json:"error,omitempty"`
}

// Expiration soft-deletes posts older than the retention window: once on
// Start and then every CheckInterval.
type Expiration struct {
	sweeper Sweeper
	cfg     Config

	mu      sync.Mutex
	state   State
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	last    *SweepResult
	sweeps  int
}

// NewExpiration creates a stopped scheduler.
func NewExpiration(sweeper Sweeper, cfg Config) *Expiration {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 6 * time.Hour
	}
	return &Expiration{sweeper: sweeper, cfg: cfg, state: StateStopped}
}

// Start sweeps immediately and then on every tick until Stop is called or
// ctx is cancelled. It does nothing while a previous loop is still exiting.
func (e *Expiration) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		observability.Logger.Warn("Expiration scheduler already running")
		return
	}
	if e.done != nil {
		select {
		case <-e.done:
		default:
			// a timed-out Stop left the previous loop finishing its sweep
			e.mu.Unlock()
			observability.Logger.Warn("Expiration scheduler is still stopping; start ignored")
			return
		}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	e.state = StateIdle
	e.mu.Unlock()

	go e.run(loopCtx, e.done)

	observability.Logger.Info("Expiration scheduler started",
		slog.Int("expiration_days", e.cfg.ExpirationDays),
		slog.Duration("interval", e.cfg.CheckInterval),
	)
}

// Stop signals the loop and waits for it to exit. A sweep in progress is
// allowed to finish.
func (e *Expiration) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		observability.Logger.Warn("Expiration scheduler is not running")
		return nil
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()

	select {
	case <-done:
		observability.Logger.Info("Expiration scheduler stopped")
		return nil
	case <-time.After(e.cfg.StopTimeout):
		observability.Logger.Error("Expiration scheduler did not stop in time",
			slog.Duration("timeout", e.cfg.StopTimeout),
		)
		return ErrStopTimeout
	}
}

// State reports whether the scheduler is idle, sweeping or stopped.
func (e *Expiration) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastSweep returns a copy of the most recent sweep result, or nil before
// the first sweep.
func (e *Expiration) LastSweep() *SweepResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	last := *e.last
	return &last
}

// Sweeps returns how many sweeps have completed.
func (e *Expiration) Sweeps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sweeps
}

func (e *Expiration) run(ctx context.Context, done chan struct{}) {
	defer e.finish(done)

	e.sweep(ctx)

	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

// finish marks the loop stopped and closes done in one step, so Start never
// sees a closed done channel with a stale state.
func (e *Expiration) finish(done chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.state = StateStopped
	close(done)
}

func (e *Expiration) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// sweep runs one expiration pass. It is detached from ctx's cancellation so
// Stop never interrupts an update halfway.
func (e *Expiration) sweep(ctx context.Context) {
	e.setState(StateSweeping)

	ctx = context.WithoutCancel(ctx)
	span, ctx := observability.StartSpan(ctx, "scheduler.sweep")
	defer span.End()

	start := time.Now()
	result := SweepResult{At: start.UTC()}

	n, err := e.safeSweep(ctx)
	result.Duration = time.Since(start).String()
	if err != nil {
		span.SetError(err)
		result.Error = err.Error()
		observability.SweepsTotal.WithLabelValues("error").Inc()
		observability.Logger.ErrorContext(ctx, "Expiration sweep failed",
			slog.String("error", err.Error()),
		)
	} else {
		result.Expired = n
		observability.SweepsTotal.WithLabelValues("ok").Inc()
		observability.PostsExpiredTotal.Add(float64(n))
		if n > 0 {
			observability.Logger.InfoContext(ctx, "Expired posts marked invisible",
				slog.Int64("count", n),
				slog.Int("expiration_days", e.cfg.ExpirationDays),
			)
			if e.cfg.OnExpired != nil {
				e.cfg.OnExpired(ctx, n)
			}
		} else {
			observability.Logger.DebugContext(ctx, "Expiration sweep found nothing to expire",
				slog.Int64("count", n),
			)
		}
	}

	e.mu.Lock()
	e.last = &result
	e.sweeps++
	e.state = StateIdle
	e.mu.Unlock()
}

func (e *Expiration) safeSweep(ctx context.Context) (n int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("sweep panicked")
			observability.Logger.ErrorContext(ctx, "Expiration sweep panicked", slog.Any("panic", r))
		}
	}()
	return e.sweeper.MarkExpiredAsInvisible(ctx, e.cfg.ExpirationDays)
}
