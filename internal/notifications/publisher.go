package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/events"
	"github.com/AndreasThinks/nodeice-board/internal/observability"

	"github.com/redis/go-redis/v9"
)

// EventPayload is the JSON published for display bridges.
type EventPayload struct {
	Type       string    `json:"type"`
	PostID     uint      `json:"post_id"`
	CommentID  uint      `json:"comment_id,omitempty"`
	Author     string    `json:"author"`
	Preview    string    `json:"preview"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher mirrors board events onto a Redis channel.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

// NewPublisher creates a Publisher. A nil client makes it a no-op.
func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	return &Publisher{rdb: rdb, channel: channel}
}

// PayloadFor converts an event to its wire payload.
func PayloadFor(event events.Event) (EventPayload, bool) {
	switch e := event.(type) {
	case events.PostCreated:
		return EventPayload{
			Type:       e.Name(),
			PostID:     e.Post.ID,
			Author:     e.Post.Author(),
			Preview:    Preview(e.Post.Content, PreviewLength),
			OccurredAt: e.Post.CreatedAt.UTC(),
		}, true
	case events.CommentCreated:
		return EventPayload{
			Type:       e.Name(),
			PostID:     e.Comment.PostID,
			CommentID:  e.Comment.ID,
			Author:     e.Comment.Author(),
			Preview:    Preview(e.Comment.Content, PreviewLength),
			OccurredAt: e.Comment.CreatedAt.UTC(),
		}, true
	default:
		return EventPayload{}, false
	}
}

// Publish sends one event to the channel.
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	if p.rdb == nil {
		return nil
	}
	payload, ok := PayloadFor(event)
	if !ok {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.rdb.Publish(ctx, p.channel, data).Err()
}

// HandleEvent implements events.Listener.
func (p *Publisher) HandleEvent(ctx context.Context, event events.Event) {
	if err := p.Publish(ctx, event); err != nil {
		observability.Logger.WarnContext(ctx, "Failed to publish board event",
			slog.String("event", event.Name()),
			slog.String("channel", p.channel),
			slog.String("error", err.Error()),
		)
	}
}
