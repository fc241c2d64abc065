package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts routed commands by name and outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeice_commands_total",
		Help: "Total number of inbound commands by command and outcome",
	}, []string{"command", "outcome"})

	// InboundDropped counts inbound messages dropped before parsing, by reason.
	InboundDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeice_inbound_dropped_total",
		Help: "Total number of inbound messages dropped before parsing",
	}, []string{"reason"})

	// NotificationsTotal counts fan-out send attempts by event kind and result.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeice_notifications_total",
		Help: "Total number of notification send attempts",
	}, []string{"event", "result"})

	// SweepsTotal counts expiration sweeps by result.
	SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeice_sweeps_total",
		Help: "Total number of expiration sweeps",
	}, []string{"result"})

	// PostsExpiredTotal counts posts hidden by the expiration sweep.
	PostsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodeice_posts_expired_total",
		Help: "Total number of posts marked invisible by expiration",
	})

	// StoreRetriesTotal counts retried store operations.
	StoreRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeice_store_retries_total",
		Help: "Total number of store operations retried after a transient error",
	}, []string{"operation"})

	// EventsDropped counts board events dropped because the dispatch queue was full.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeice_events_dropped_total",
		Help: "Total number of board events dropped before dispatch",
	}, []string{"event"})

	// BoardEventsTotal counts board events delivered to listeners.
	BoardEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeice_board_events_total",
		Help: "Total number of board events by type",
	}, []string{"event"})

	// TransportBreakerState is 0 closed, 1 half-open, 2 open.
	TransportBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nodeice_transport_breaker_state",
		Help: "Circuit breaker state of the outbound transport",
	}, []string{"name"})

	// OutboundMessages counts outbound sends by result.
	OutboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeice_outbound_messages_total",
		Help: "Total number of outbound transport sends",
	}, []string{"result"})

	// RedisErrors counts failed Redis commands.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeice_redis_errors_total",
		Help: "Total number of failed Redis commands",
	}, []string{"command"})

	// DatabaseQueryLatency records data engine operation latency.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nodeice_db_query_latency_seconds",
		Help:    "Data engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
