// Package router validates inbound mesh messages and dispatches board commands.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AndreasThinks/nodeice-board/internal/models"
	"github.com/AndreasThinks/nodeice-board/internal/observability"
	"github.com/AndreasThinks/nodeice-board/internal/transport"
)

// errRejected marks a command answered with a corrective reply.
var errRejected = errors.New("command rejected")

// Board is the data engine as used by the router.
type Board interface {
	CreatePost(ctx context.Context, content, authorID, authorName string) (uint, error)
	GetPost(ctx context.Context, id uint) (*models.Post, error)
	GetRecentPosts(ctx context.Context, limit int) ([]*models.Post, error)
	CreateComment(ctx context.Context, postID uint, content, authorID, authorName string) (uint, error)
	GetCommentsForPost(ctx context.Context, postID uint) ([]*models.Comment, error)
	SubscribeToAllPosts(ctx context.Context, userID string) (bool, error)
	SubscribeToPost(ctx context.Context, userID string, postID uint) (bool, error)
	UnsubscribeFromAll(ctx context.Context, userID string) (int64, error)
	UnsubscribeFromPost(ctx context.Context, userID string, postID uint) (bool, error)
	GetUserSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error)
	GetOldestVisiblePost(ctx context.Context) (*models.Post, error)
	Stats(ctx context.Context) (models.BoardStats, error)
}

// Config holds the router's limits and presentation settings.
type Config struct {
	BoardName        string
	ShortName        string
	ExpirationDays   int
	MaxMessageLength int
	MaxReplyLength   int
	MessageDelay     time.Duration
	RateLimitWindow  time.Duration
	RateLimitIdleTTL time.Duration
}

// DefaultConfig matches the board's stock settings.
func DefaultConfig() Config {
	return Config{
		BoardName:        "Nodeice Board",
		ShortName:        "NB",
		ExpirationDays:   7,
		MaxMessageLength: 2000,
		MaxReplyLength:   200,
		MessageDelay:     500 * time.Millisecond,
		RateLimitWindow:  time.Second,
		RateLimitIdleTTL: 10 * time.Minute,
	}
}

// Router turns inbound text into board operations and replies.
type Router struct {
	board     Board
	sender    transport.Sender
	cfg       Config
	limiter   *SenderLimiter
	now       func() time.Time
	startedAt time.Time
}

// Option customises a Router.
type Option func(*Router)

// WithClock overrides the clock used for rate limiting and relative times.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a router that replies through sender.
func New(board Board, sender transport.Sender, cfg Config, opts ...Option) *Router {
	if cfg.RateLimitIdleTTL <= 0 {
		cfg.RateLimitIdleTTL = 10 * time.Minute
	}
	r := &Router{
		board:   board,
		sender:  sender,
		cfg:     cfg,
		limiter: NewSenderLimiter(cfg.RateLimitWindow, cfg.RateLimitIdleTTL),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.startedAt = r.now()
	return r
}

// Limiter exposes the per-sender rate limiter.
func (r *Router) Limiter() *SenderLimiter {
	return r.limiter
}

// Start prunes idle rate-limit entries until ctx is done.
func (r *Router) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.RateLimitIdleTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.limiter.Prune(r.now()); n > 0 {
					observability.Logger.Debug("Pruned idle rate limit entries", slog.Int("count", n))
				}
			}
		}
	}()
}

// HandleMessage is a transport.Handler.
func (r *Router) HandleMessage(ctx context.Context, msg transport.Message) {
	r.handle(ctx, msg)
}

// Handle processes one inbound text and reports whether it was a command
// that was carried out. Nothing is sent for empty, anonymous, oversized,
// rate-limited or unrecognised text.
func (r *Router) Handle(ctx context.Context, text, senderID string) bool {
	return r.handle(ctx, transport.Message{Text: text, SenderID: senderID})
}

func (r *Router) handle(ctx context.Context, msg transport.Message) (handled bool) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return false
	}
	// an empty destination is a broadcast, so anonymous input gets no reply
	if strings.TrimSpace(msg.SenderID) == "" {
		observability.InboundDropped.WithLabelValues("no_sender").Inc()
		observability.Logger.WarnContext(ctx, "Dropping message without sender")
		return false
	}

	ctx = observability.WithSender(ctx, msg.SenderID)

	if r.cfg.MaxMessageLength > 0 && utf8.RuneCountInString(text) > r.cfg.MaxMessageLength {
		observability.InboundDropped.WithLabelValues("too_long").Inc()
		observability.Logger.WarnContext(ctx, "Dropping oversized message",
			slog.Int("length", utf8.RuneCountInString(text)),
			slog.Int("max", r.cfg.MaxMessageLength),
		)
		return false
	}

	if !r.limiter.Allow(msg.SenderID, r.now()) {
		observability.InboundDropped.WithLabelValues("rate_limited").Inc()
		observability.Logger.DebugContext(ctx, "Rate limited message dropped")
		return false
	}

	c, args := match(text)
	if c == nil {
		return false
	}

	ctx = observability.WithCorrelationID(ctx, observability.NewCorrelationID())
	ctx = observability.WithCommand(ctx, c.name)
	span, ctx := observability.StartSpan(ctx, "router.handle")
	defer span.End()

	req := request{senderID: msg.SenderID, senderName: msg.SenderName, args: args}

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			span.SetError(err)
			observability.CommandsTotal.WithLabelValues(c.name, "error").Inc()
			observability.Logger.ErrorContext(ctx, "Command handler panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			r.reply(ctx, req.senderID, "Something went wrong. Please try again later.")
			handled = false
		}
	}()

	err := c.run(r, ctx, req)
	switch {
	case err == nil:
		observability.CommandsTotal.WithLabelValues(c.name, "ok").Inc()
		return true
	case errors.Is(err, errRejected):
		observability.CommandsTotal.WithLabelValues(c.name, "rejected").Inc()
		return true
	default:
		span.SetError(err)
		observability.CommandsTotal.WithLabelValues(c.name, "error").Inc()
		return false
	}
}

// fail answers a failed operation. Validation and not-found errors are
// relayed to the sender; anything else is logged and gets failureText.
func (r *Router) fail(ctx context.Context, req request, err error, failureText string) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) && (appErr.Code == models.CodeValidation || appErr.Code == models.CodeNotFound) {
		r.reply(ctx, req.senderID, appErr.Message)
		return errRejected
	}

	observability.Logger.ErrorContext(ctx, "Command failed",
		slog.String("error", err.Error()),
		slog.Bool("transient", models.IsTransient(err)),
	)
	r.reply(ctx, req.senderID, failureText)
	return err
}

// reply sends text to one node, split to the transport's message size with
// MessageDelay between parts. Send failures are logged, not returned.
func (r *Router) reply(ctx context.Context, to, text string) {
	parts := SplitReply(text, r.cfg.MaxReplyLength)
	for i, part := range parts {
		if i > 0 && r.cfg.MessageDelay > 0 {
			t := time.NewTimer(r.cfg.MessageDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		if err := r.sender.Send(ctx, part, to); err != nil {
			observability.Logger.WarnContext(ctx, "Failed to send reply",
				slog.String("destination", to),
				slog.Int("part", i+1),
				slog.Int("parts", len(parts)),
				slog.String("error", err.Error()),
			)
		}
	}
}
