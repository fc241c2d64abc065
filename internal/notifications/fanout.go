// Package notifications delivers board events to subscribers and external displays.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AndreasThinks/nodeice-board/internal/events"
	"github.com/AndreasThinks/nodeice-board/internal/observability"
	"github.com/AndreasThinks/nodeice-board/internal/transport"
)

// PreviewLength is the number of characters of content quoted in a notification.
const PreviewLength = 50

// SubscriberSource resolves who should hear about an event.
type SubscriberSource interface {
	GetSubscribersForAllPosts(ctx context.Context) (map[string]struct{}, error)
	GetSubscribersForPost(ctx context.Context, postID uint) (map[string]struct{}, error)
}

// FanOut sends one message per subscriber for every new post or comment.
// Each recipient gets exactly one attempt; failures are logged and skipped.
type FanOut struct {
	source SubscriberSource
	sender transport.Sender
	delay  time.Duration
}

// NewFanOut creates a fan-out listener that waits delay between sends.
func NewFanOut(source SubscriberSource, sender transport.Sender, delay time.Duration) *FanOut {
	return &FanOut{source: source, sender: sender, delay: delay}
}

// HandleEvent implements events.Listener.
func (f *FanOut) HandleEvent(ctx context.Context, event events.Event) {
	switch e := event.(type) {
	case events.PostCreated:
		subs, err := f.source.GetSubscribersForAllPosts(ctx)
		if err != nil {
			f.lookupFailed(ctx, event, err)
			return
		}
		text := fmt.Sprintf("New post #%d by %s: %s", e.Post.ID, e.Post.Author(), Preview(e.Post.Content, PreviewLength))
		f.deliver(ctx, event.Name(), recipients(subs, e.Post.AuthorID), text)

	case events.CommentCreated:
		subs, err := f.source.GetSubscribersForPost(ctx, e.Comment.PostID)
		if err != nil {
			f.lookupFailed(ctx, event, err)
			return
		}
		text := fmt.Sprintf("New comment on post #%d by %s: %s", e.Comment.PostID, e.Comment.Author(), Preview(e.Comment.Content, PreviewLength))
		f.deliver(ctx, event.Name(), recipients(subs, e.Comment.AuthorID), text)
	}
}

func (f *FanOut) lookupFailed(ctx context.Context, event events.Event, err error) {
	observability.NotificationsTotal.WithLabelValues(event.Name(), "lookup_failed").Inc()
	observability.Logger.ErrorContext(ctx, "Failed to resolve subscribers",
		slog.String("event", event.Name()),
		slog.String("error", err.Error()),
	)
}

func (f *FanOut) deliver(ctx context.Context, eventName string, to []string, text string) {
	for i, recipient := range to {
		if i > 0 && !sleep(ctx, f.delay) {
			observability.Logger.WarnContext(ctx, "Fan-out interrupted",
				slog.String("event", eventName),
				slog.Int("remaining", len(to)-i),
			)
			return
		}
		if err := f.sender.Send(ctx, text, recipient); err != nil {
			observability.NotificationsTotal.WithLabelValues(eventName, "failed").Inc()
			observability.Logger.WarnContext(ctx, "Failed to send notification",
				slog.String("event", eventName),
				slog.String("recipient", recipient),
				slog.String("error", err.Error()),
			)
			continue
		}
		observability.NotificationsTotal.WithLabelValues(eventName, "sent").Inc()
	}
	if len(to) > 0 {
		observability.Logger.DebugContext(ctx, "Fan-out complete",
			slog.String("event", eventName),
			slog.Int("recipients", len(to)),
		)
	}
}

// recipients drops the author and sorts the rest for a stable send order.
func recipients(subs map[string]struct{}, author string) []string {
	out := make([]string, 0, len(subs))
	for id := range subs {
		if id != author {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Preview shortens content to at most n characters, marking the cut with "...".
func Preview(content string, n int) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= n {
		return content
	}
	runes := []rune(content)
	return strings.TrimSpace(string(runes[:n-3])) + "..."
}

// sleep waits d, returning false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
