package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/database"
	"github.com/AndreasThinks/nodeice-board/internal/events"
	"github.com/AndreasThinks/nodeice-board/internal/models"
	"github.com/AndreasThinks/nodeice-board/internal/notifications"
	"github.com/AndreasThinks/nodeice-board/internal/service"
	"github.com/AndreasThinks/nodeice-board/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	router *Router
	board  *service.Board
	bus    *events.Bus
	sent   *transport.Recorder
	clock  *fakeClock
	db     *gorm.DB
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MessageDelay = 0
	return cfg
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), database.GormConfig(logger.Silent))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	rec := transport.NewRecorder()
	bus := events.NewBus(0)
	db := setupTestDB(t)

	board := service.NewBoardFromDB(db, database.DefaultRetryPolicy,
		service.WithClock(clock.Now),
		service.WithPublisher(bus),
	)
	bus.Register(notifications.NewFanOut(board, rec, 0))
	bus.Start()
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	return &harness{
		router: New(board, rec, cfg, WithClock(clock.Now)),
		board:  board,
		bus:    bus,
		sent:   rec,
		clock:  clock,
		db:     db,
	}
}

// send delivers text from sender, stepping the clock past the rate limit window.
func (h *harness) send(t *testing.T, sender, text string) bool {
	t.Helper()
	h.clock.Advance(time.Second)
	return h.router.Handle(context.Background(), text, sender)
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.bus.Close(ctx))
}

func TestRouter_PostCreatesVisiblePost(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	assert.True(t, h.send(t, "!a", "!post Hello"))

	post, err := h.board.GetPost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Hello", post.Content)
	assert.Equal(t, "!a", post.AuthorID)
	assert.True(t, post.Visible)

	require.Len(t, h.sent.To("!a"), 1)
	assert.Contains(t, h.sent.To("!a")[0], "Post #1 created successfully!")
}

func TestRouter_BlanketSubscriberIsNotified(t *testing.T) {
	h := newHarness(t, testConfig())

	assert.True(t, h.send(t, "!b", "!subscribe all"))
	assert.Equal(t, []string{"Subscribed to all new posts."}, h.sent.To("!b"))
	h.sent.Reset()

	assert.True(t, h.send(t, "!c", "!post World"))
	h.drain(t)

	assert.Equal(t, []string{"Post #1 created successfully!"}, h.sent.To("!c"))
	assert.Equal(t, []string{"New post #1 by !c: World"}, h.sent.To("!b"))
	assert.Len(t, h.sent.Messages(), 2)
}

func TestRouter_CommentNotifiesPostSubscribers(t *testing.T) {
	h := newHarness(t, testConfig())

	h.send(t, "!a", "!post Lost dog near the harbour")
	h.send(t, "!a", "!subscribe 1")
	h.send(t, "!b", "!subscribe 1")
	h.sent.Reset()

	assert.True(t, h.send(t, "!b", "!comment 1 Seen him by the pier"))
	h.drain(t)

	assert.Equal(t, []string{"Comment added to post #1"}, h.sent.To("!b"))
	assert.Equal(t, []string{"New comment on post #1 by !b: Seen him by the pier"}, h.sent.To("!a"))
}

func TestRouter_IgnoresEmptyAndUnmatchedText(t *testing.T) {
	h := newHarness(t, testConfig())

	for _, text := range []string{"", "   ", "hello everyone", "!unknown", "!view abc", "!view 0", "!post"} {
		assert.False(t, h.send(t, "!a", text), text)
	}
	assert.Empty(t, h.sent.Messages())
}

func TestRouter_DropsMessagesWithoutSender(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	assert.False(t, h.router.Handle(ctx, "!help", ""))
	assert.False(t, h.router.Handle(ctx, "!post Nobody wrote this", "  "))
	assert.Empty(t, h.sent.Messages())
	assert.Zero(t, h.router.Limiter().Len())

	count, err := h.board.GetTotalPostsCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRouter_CommandsAreCaseInsensitive(t *testing.T) {
	h := newHarness(t, testConfig())

	assert.True(t, h.send(t, "!a", "!POST Shouting"))
	assert.True(t, h.send(t, "!a", "!Subscribe ALL"))
	assert.Equal(t, []string{"Post #1 created successfully!", "Subscribed to all new posts."}, h.sent.To("!a"))
}

func TestRouter_RateLimitDropsSilently(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	assert.True(t, h.router.Handle(ctx, "!help", "!a"))
	h.sent.Reset()

	h.clock.Advance(500 * time.Millisecond)
	assert.False(t, h.router.Handle(ctx, "!post too soon", "!a"))
	assert.Empty(t, h.sent.Messages())

	// other senders have their own window
	assert.True(t, h.router.Handle(ctx, "!list", "!b"))

	h.clock.Advance(500 * time.Millisecond)
	assert.True(t, h.router.Handle(ctx, "!post on time", "!a"))

	count, err := h.board.GetTotalPostsCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRouter_DropsOversizedMessages(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageLength = 20
	h := newHarness(t, cfg)

	assert.False(t, h.send(t, "!a", "!post "+strings.Repeat("x", 30)))
	assert.Empty(t, h.sent.Messages())

	assert.True(t, h.send(t, "!a", "!post short"))
}

func TestRouter_ListLimitBounds(t *testing.T) {
	h := newHarness(t, testConfig())
	for i := 0; i < 3; i++ {
		h.send(t, "!a", "!post note")
	}
	h.sent.Reset()

	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{"over the maximum", "!list 21", "Please specify a number between 1 and 20."},
		{"zero", "!list 0", "Please specify a number between 1 and 20."},
		{"maximum", "!list 20", "Recent posts:"},
		{"default", "!list", "Recent posts:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.sent.Reset()
			assert.True(t, h.send(t, "!b", tt.text))
			replies := h.sent.To("!b")
			require.NotEmpty(t, replies)
			assert.True(t, strings.HasPrefix(replies[0], tt.expected), replies[0])
		})
	}
}

func TestRouter_ListFormatsPosts(t *testing.T) {
	h := newHarness(t, testConfig())

	h.send(t, "!a", "!post First")
	h.clock.Advance(2 * time.Hour)
	h.send(t, "!b", "!post A much longer notice that will not fit on one line")
	h.sent.Reset()

	h.send(t, "!c", "!list 2")
	assert.Equal(t, []string{
		"Recent posts:\n" +
			"#2: A much longer notice that w... (!b, just now)\n" +
			"#1: First (!a, 2h ago)",
	}, h.sent.To("!c"))
}

func TestRouter_ListEmpty(t *testing.T) {
	h := newHarness(t, testConfig())
	h.send(t, "!a", "!list")
	assert.Equal(t, []string{"No posts found."}, h.sent.To("!a"))
}

func TestRouter_ViewShowsPostAndComments(t *testing.T) {
	h := newHarness(t, testConfig())

	h.send(t, "!a", "!post Market on Saturday")
	h.clock.Advance(5 * time.Minute)
	h.send(t, "!b", "!comment 1 What time?")
	h.sent.Reset()

	h.send(t, "!c", "!view 1")
	replies := h.sent.To("!c")
	require.Len(t, replies, 1)
	assert.Equal(t, "Post #1: Market on Saturday\n"+
		"By: !a\n"+
		"Posted: Jun 01, 2025, 09:00 AM\n\n"+
		"Comments:\n"+
		"- !b (just now): What time?", replies[0])
}

func TestRouter_NotFoundReplies(t *testing.T) {
	h := newHarness(t, testConfig())

	tests := []struct {
		text     string
		expected string
	}{
		{"!view 42", "Post #42 not found."},
		{"!comment 42 hello", "Post #42 not found."},
		{"!subscribe 42", "Post #42 not found."},
		{"!unsubscribe 42", "You are not subscribed to post #42."},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			h.sent.Reset()
			assert.True(t, h.send(t, "!a", tt.text))
			assert.Equal(t, []string{tt.expected}, h.sent.To("!a"))
		})
	}
}

func TestRouter_SubscriptionLifecycle(t *testing.T) {
	h := newHarness(t, testConfig())

	h.send(t, "!a", "!post one")
	h.send(t, "!a", "!post two")
	h.sent.Reset()

	steps := []struct {
		text     string
		expected string
	}{
		{"!subscriptions", "You have no subscriptions."},
		{"!subscribe all", "Subscribed to all new posts."},
		{"!subscribe all", "You are already subscribed to all posts."},
		{"!subscribe 2", "Subscribed to comments on post #2."},
		{"!subscribe 2", "You are already subscribed to post #2."},
		{"!subscribe 1", "Subscribed to comments on post #1."},
		{"!subscriptions", "Your subscriptions:\n- All new posts\n- Comments on post #1\n- Comments on post #2"},
		{"!unsubscribe 1", "Unsubscribed from post #1."},
		{"!unsubscribe 1", "You are not subscribed to post #1."},
		{"!unsubscribe all", "Removed 2 subscriptions."},
		{"!unsubscribe all", "You have no subscriptions."},
	}
	for _, step := range steps {
		h.sent.Reset()
		assert.True(t, h.send(t, "!b", step.text), step.text)
		assert.Equal(t, []string{step.expected}, h.sent.To("!b"), step.text)
	}
}

func TestRouter_InfoReportsNextWipe(t *testing.T) {
	h := newHarness(t, testConfig())

	h.send(t, "!a", "!info")
	require.Len(t, h.sent.To("!a"), 1)
	assert.Contains(t, h.sent.To("!a")[0], "Next wipe: no posts to expire.")

	h.send(t, "!a", "!post Hello")
	h.clock.Advance(2 * 24 * time.Hour)
	h.sent.Reset()

	h.send(t, "!a", "!info")
	replies := h.sent.To("!a")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Posts expire after 7 days.")
	assert.Contains(t, replies[0], "Next wipe: post #1 expires in 4d 23h.")
}

func TestRouter_StatusReportsCounts(t *testing.T) {
	h := newHarness(t, testConfig())

	h.send(t, "!a", "!post one")
	h.send(t, "!b", "!subscribe all")
	h.send(t, "!b", "!comment 1 nice")
	h.sent.Reset()

	h.send(t, "!c", "!status")
	replies := h.sent.To("!c")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Active posts: 1")
	assert.Contains(t, replies[0], "Total posts: 1")
	assert.Contains(t, replies[0], "Comments: 1")
	assert.Contains(t, replies[0], "Subscribers to all posts: 1")
}

func TestRouter_HelpIsSplitIntoChunks(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReplyLength = 80
	h := newHarness(t, cfg)

	h.send(t, "!a", "!help")
	replies := h.sent.To("!a")
	require.Greater(t, len(replies), 1)
	for _, r := range replies {
		assert.LessOrEqual(t, len([]rune(r)), 80)
	}
	assert.True(t, strings.HasPrefix(replies[0], "Nodeice Board Commands:"))
}

func TestRouter_HandleMessageUsesSenderName(t *testing.T) {
	h := newHarness(t, testConfig())

	h.clock.Advance(time.Second)
	h.router.HandleMessage(context.Background(), transport.Message{Text: "!post hi", SenderID: "!a", SenderName: "Alice"})

	post, err := h.board.GetPost(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice", post.Author())
}

func TestRouter_ReplyFailureDoesNotUndoWrite(t *testing.T) {
	h := newHarness(t, testConfig())
	h.sent.Fail["!a"] = errors.New("radio offline")

	assert.True(t, h.send(t, "!a", "!post still saved"))

	count, err := h.board.GetVisiblePostsCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

type failingBoard struct {
	Board
	err error
}

func (b *failingBoard) CreatePost(context.Context, string, string, string) (uint, error) {
	return 0, b.err
}

func (b *failingBoard) Stats(context.Context) (models.BoardStats, error) {
	panic("stats exploded")
}

func TestRouter_StoreErrorsGetGenericReply(t *testing.T) {
	rec := transport.NewRecorder()
	board := &failingBoard{err: models.NewTransientError(errors.New("database is locked"))}
	r := New(board, rec, testConfig())

	assert.False(t, r.Handle(context.Background(), "!post hello", "!a"))
	assert.Equal(t, []string{"Failed to create post. Please try again later."}, rec.To("!a"))
}

func TestRouter_ValidationErrorsAreRelayed(t *testing.T) {
	rec := transport.NewRecorder()
	board := &failingBoard{err: models.NewValidationError("Content cannot be empty.")}
	r := New(board, rec, testConfig())

	assert.True(t, r.Handle(context.Background(), "!post hello", "!a"))
	assert.Equal(t, []string{"Content cannot be empty."}, rec.To("!a"))
}

func TestRouter_RecoversFromPanics(t *testing.T) {
	rec := transport.NewRecorder()
	r := New(&failingBoard{}, rec, testConfig())

	assert.NotPanics(t, func() {
		assert.False(t, r.Handle(context.Background(), "!status", "!a"))
	})
	assert.Equal(t, []string{"Something went wrong. Please try again later."}, rec.To("!a"))
}

func TestMatch(t *testing.T) {
	tests := []struct {
		text string
		name string
		args []string
	}{
		{"!help", "help", []string{}},
		{"!list", "list", []string{""}},
		{"!list 7", "list", []string{"7"}},
		{"!view 007", "view", []string{"7"}},
		{"!comment 3 multi\nline", "comment", []string{"3", "multi\nline"}},
		{"!subscribe all", "subscribe_all", []string{}},
		{"!subscribe 4", "subscribe", []string{"4"}},
		{"!unsubscribe all", "unsubscribe_all", []string{}},
		{"!subscriptions", "subscriptions", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			c, args := match(tt.text)
			require.NotNil(t, c)
			assert.Equal(t, tt.name, c.name)
			assert.Equal(t, tt.args, args)
		})
	}

	for _, text := range []string{"!view -1", "!view 0", "!subscribe", "post hello", "!helpme"} {
		c, _ := match(text)
		assert.Nil(t, c, text)
	}
}
