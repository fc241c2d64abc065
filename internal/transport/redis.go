package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/AndreasThinks/nodeice-board/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Redis talks to a mesh gateway over Redis pub/sub: inbound messages arrive
// as JSON on one channel and outbound messages are published on another.
type Redis struct {
	rdb      *redis.Client
	inbound  string
	outbound string
}

// NewRedis creates a Redis pub/sub transport.
func NewRedis(rdb *redis.Client, inboundChannel, outboundChannel string) *Redis {
	return &Redis{rdb: rdb, inbound: inboundChannel, outbound: outboundChannel}
}

// Send publishes {"text","destination"} on the outbound channel.
func (r *Redis) Send(ctx context.Context, text, destination string) error {
	if r.rdb == nil {
		return ErrClosed
	}
	payload, err := json.Marshal(outbound{Text: text, Destination: destination})
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	return r.rdb.Publish(ctx, r.outbound, payload).Err()
}

// Listen subscribes to the inbound channel and calls h for each message
// until ctx is done. Malformed payloads are logged and skipped.
func (r *Redis) Listen(ctx context.Context, h Handler) error {
	if r.rdb == nil {
		return ErrClosed
	}
	sub := r.rdb.Subscribe(ctx, r.inbound)
	defer func() { _ = sub.Close() }()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.inbound, err)
	}
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("inbound subscription closed")
			}
			r.deliver(ctx, msg.Payload, h)
		}
	}
}

func (r *Redis) deliver(ctx context.Context, payload string, h Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.Logger.ErrorContext(ctx, "Panic handling inbound message",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil || m.SenderID == "" {
		observability.InboundDropped.WithLabelValues("malformed").Inc()
		observability.Logger.WarnContext(ctx, "Ignoring malformed inbound payload",
			slog.String("channel", r.inbound),
			slog.Int("bytes", len(payload)),
		)
		return
	}
	h(ctx, m)
}

// Close is a no-op; the Redis client is owned by the caller.
func (r *Redis) Close() error {
	return nil
}
