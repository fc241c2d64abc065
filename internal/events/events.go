// Package events delivers board mutations to registered listeners.
package events

import (
	"context"

	"github.com/AndreasThinks/nodeice-board/internal/models"
)

// Event names, also used as metric labels.
const (
	NamePostCreated    = "post_created"
	NameCommentCreated = "comment_created"
)

// Event is a committed change to the board.
type Event interface {
	Name() string
}

// PostCreated is published after a post has been stored.
type PostCreated struct {
	Post models.Post
}

// Name implements Event.
func (PostCreated) Name() string { return NamePostCreated }

// CommentCreated is published after a comment has been stored. Post is the
// post the comment belongs to.
type CommentCreated struct {
	Comment models.Comment
	Post    models.Post
}

// Name implements Event.
func (CommentCreated) Name() string { return NameCommentCreated }

// Listener receives events on the bus dispatcher goroutine.
type Listener interface {
	HandleEvent(ctx context.Context, event Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, event Event)

// HandleEvent calls f(ctx, event).
func (f ListenerFunc) HandleEvent(ctx context.Context, event Event) {
	f(ctx, event)
}

// Publisher is the write side of the bus, as seen by the data engine.
type Publisher interface {
	Publish(ctx context.Context, event Event) bool
}
