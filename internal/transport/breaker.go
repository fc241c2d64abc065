package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/observability"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerSettings configures the outbound circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures opens the circuit.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before a trial send.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings trips after five failed sends in a row.
var DefaultBreakerSettings = BreakerSettings{
	ConsecutiveFailures: 5,
	OpenTimeout:         30 * time.Second,
}

// Breaker wraps a Sender so that an unreachable radio fails fast instead of
// stalling every reply. Failed sends are never retried.
type Breaker struct {
	next Sender
	cb   *gobreaker.CircuitBreaker[struct{}]
	name string
}

// NewBreaker wraps next in a circuit breaker identified by name in metrics.
func NewBreaker(name string, next Sender, settings BreakerSettings) *Breaker {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings.ConsecutiveFailures
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = DefaultBreakerSettings.OpenTimeout
	}

	observability.TransportBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.Logger.Warn("Transport circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			observability.TransportBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Breaker{next: next, cb: cb, name: name}
}

// Send forwards to the wrapped sender unless the circuit is open.
func (b *Breaker) Send(ctx context.Context, text, destination string) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Send(ctx, text, destination)
	})

	switch {
	case err == nil:
		observability.OutboundMessages.WithLabelValues("sent").Inc()
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		observability.OutboundMessages.WithLabelValues("rejected").Inc()
	default:
		observability.OutboundMessages.WithLabelValues("failed").Inc()
	}
	return err
}

// State returns the breaker's current state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
