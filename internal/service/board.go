// Package service implements the board's data engine on top of the repositories.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/database"
	"github.com/AndreasThinks/nodeice-board/internal/events"
	"github.com/AndreasThinks/nodeice-board/internal/models"
	"github.com/AndreasThinks/nodeice-board/internal/repository"

	"gorm.io/gorm"
)

// Board owns posts, comments and subscriptions. Every method is a single
// statement or a single transaction; there is no lock held across calls.
type Board struct {
	posts    repository.PostRepository
	comments repository.CommentRepository
	subs     repository.SubscriptionRepository
	events   events.Publisher
	now      func() time.Time
}

// Option customises a Board.
type Option func(*Board)

// WithClock overrides the clock used for timestamps and expiry cutoffs.
func WithClock(now func() time.Time) Option {
	return func(b *Board) { b.now = now }
}

// WithPublisher sets where PostCreated and CommentCreated events go.
func WithPublisher(p events.Publisher) Option {
	return func(b *Board) { b.events = p }
}

// NewBoard creates a Board over the given repositories.
func NewBoard(
	posts repository.PostRepository,
	comments repository.CommentRepository,
	subs repository.SubscriptionRepository,
	opts ...Option,
) *Board {
	b := &Board{
		posts:    posts,
		comments: comments,
		subs:     subs,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewBoardFromDB wires the gorm repositories for db into a Board.
func NewBoardFromDB(db *gorm.DB, policy database.RetryPolicy, opts ...Option) *Board {
	return NewBoard(
		repository.NewPostRepository(db, policy),
		repository.NewCommentRepository(db, policy),
		repository.NewSubscriptionRepository(db, policy),
		opts...,
	)
}

// Now returns the board clock's current time in UTC.
func (b *Board) Now() time.Time {
	return b.now().UTC()
}

func (b *Board) publish(ctx context.Context, e events.Event) {
	if b.events != nil {
		b.events.Publish(ctx, e)
	}
}

func validateAuthored(content, authorID string) (string, error) {
	if strings.TrimSpace(authorID) == "" {
		return "", models.NewValidationError("Author ID is required.")
	}
	content = models.NormalizeContent(content)
	if content == "" {
		return "", models.NewValidationError("Content cannot be empty.")
	}
	return content, nil
}

// CreatePost stores a new visible post and returns its ID. Content over
// models.MaxContentLength characters is truncated.
func (b *Board) CreatePost(ctx context.Context, content, authorID, authorName string) (uint, error) {
	content, err := validateAuthored(content, authorID)
	if err != nil {
		return 0, err
	}

	post := &models.Post{
		Content:    content,
		AuthorID:   authorID,
		AuthorName: models.OptionalName(authorName),
		CreatedAt:  b.Now(),
		Visible:    true,
	}
	if err := b.posts.Create(ctx, post); err != nil {
		return 0, err
	}

	b.publish(ctx, events.PostCreated{Post: *post})
	return post.ID, nil
}

// GetPost returns a visible post, or a NOT_FOUND error.
func (b *Board) GetPost(ctx context.Context, id uint) (*models.Post, error) {
	return b.posts.GetVisible(ctx, id)
}

// GetRecentPosts returns up to limit visible posts, newest first.
func (b *Board) GetRecentPosts(ctx context.Context, limit int) ([]*models.Post, error) {
	if limit < 1 {
		return nil, models.NewValidationError("Limit must be at least 1.")
	}
	return b.posts.ListVisible(ctx, limit)
}

// CreateComment stores a comment on a visible post and returns its ID.
func (b *Board) CreateComment(ctx context.Context, postID uint, content, authorID, authorName string) (uint, error) {
	content, err := validateAuthored(content, authorID)
	if err != nil {
		return 0, err
	}

	comment := &models.Comment{
		PostID:     postID,
		Content:    content,
		AuthorID:   authorID,
		AuthorName: models.OptionalName(authorName),
		CreatedAt:  b.Now(),
	}
	post, err := b.comments.CreateOnVisiblePost(ctx, comment)
	if err != nil {
		return 0, err
	}

	b.publish(ctx, events.CommentCreated{Comment: *comment, Post: *post})
	return comment.ID, nil
}

// GetCommentsForPost returns a post's comments, oldest first. An unknown
// post yields an empty slice.
func (b *Board) GetCommentsForPost(ctx context.Context, postID uint) ([]*models.Comment, error) {
	return b.comments.ListByPost(ctx, postID)
}

// MarkExpiredAsInvisible hides every visible post older than days and
// returns how many were hidden.
func (b *Board) MarkExpiredAsInvisible(ctx context.Context, days int) (int64, error) {
	if days < 1 {
		return 0, models.NewValidationError("Expiration days must be at least 1.")
	}
	cutoff := b.Now().Add(-time.Duration(days) * 24 * time.Hour)
	return b.posts.MarkExpired(ctx, cutoff)
}

// SubscribeToAllPosts reports false when the user already had a blanket subscription.
func (b *Board) SubscribeToAllPosts(ctx context.Context, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, models.NewValidationError("User ID is required.")
	}
	return b.subs.CreateBlanket(ctx, userID)
}

// SubscribeToPost reports false when the user was already subscribed to the post.
func (b *Board) SubscribeToPost(ctx context.Context, userID string, postID uint) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, models.NewValidationError("User ID is required.")
	}
	return b.subs.CreateOnVisiblePost(ctx, userID, postID)
}

// UnsubscribeFromAll removes every subscription the user holds and returns the count.
func (b *Board) UnsubscribeFromAll(ctx context.Context, userID string) (int64, error) {
	return b.subs.DeleteAllForUser(ctx, userID)
}

// UnsubscribeFromPost reports whether a per-post subscription was removed.
func (b *Board) UnsubscribeFromPost(ctx context.Context, userID string, postID uint) (bool, error) {
	return b.subs.DeleteForPost(ctx, userID, postID)
}

// GetUserSubscriptions lists the user's subscriptions, blanket first.
func (b *Board) GetUserSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error) {
	return b.subs.ListByUser(ctx, userID)
}

// GetSubscribersForAllPosts returns the set of users with a blanket subscription.
func (b *Board) GetSubscribersForAllPosts(ctx context.Context) (map[string]struct{}, error) {
	ids, err := b.subs.BlanketSubscribers(ctx)
	if err != nil {
		return nil, err
	}
	return toSet(ids), nil
}

// GetSubscribersForPost returns the set of users subscribed to one post's comments.
func (b *Board) GetSubscribersForPost(ctx context.Context, postID uint) (map[string]struct{}, error) {
	ids, err := b.subs.PostSubscribers(ctx, postID)
	if err != nil {
		return nil, err
	}
	return toSet(ids), nil
}

// GetTotalPostsCount counts every post ever created, hidden or not.
func (b *Board) GetTotalPostsCount(ctx context.Context) (int64, error) {
	return b.posts.CountAll(ctx)
}

// GetVisiblePostsCount counts posts that have not expired.
func (b *Board) GetVisiblePostsCount(ctx context.Context) (int64, error) {
	return b.posts.CountVisible(ctx)
}

// GetOldestVisiblePost returns nil without error when the board is empty.
func (b *Board) GetOldestVisiblePost(ctx context.Context) (*models.Post, error) {
	post, err := b.posts.OldestVisible(ctx)
	if models.IsNotFound(err) {
		return nil, nil
	}
	return post, err
}

// Stats gathers the counters shown by the status command and the ops server.
func (b *Board) Stats(ctx context.Context) (models.BoardStats, error) {
	stats := models.BoardStats{GeneratedAt: b.Now()}

	var err error
	if stats.ActivePosts, err = b.posts.CountVisible(ctx); err != nil {
		return stats, err
	}
	if stats.TotalPosts, err = b.posts.CountAll(ctx); err != nil {
		return stats, err
	}
	if stats.TotalComments, err = b.comments.Count(ctx); err != nil {
		return stats, err
	}
	if stats.Subscriptions, err = b.subs.Count(ctx); err != nil {
		return stats, err
	}
	if stats.BlanketSubscribers, err = b.subs.CountBlanket(ctx); err != nil {
		return stats, err
	}

	oldest, err := b.GetOldestVisiblePost(ctx)
	if err != nil {
		return stats, err
	}
	if oldest != nil {
		since := oldest.CreatedAt.UTC()
		stats.OldestVisibleSince = &since
	}
	return stats, nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
