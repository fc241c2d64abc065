// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/database"
	"github.com/AndreasThinks/nodeice-board/internal/models"
	"github.com/AndreasThinks/nodeice-board/internal/observability"

	"gorm.io/gorm"
)

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetVisible(ctx context.Context, id uint) (*models.Post, error)
	ListVisible(ctx context.Context, limit int) ([]*models.Post, error)
	OldestVisible(ctx context.Context) (*models.Post, error)
	MarkExpired(ctx context.Context, cutoff time.Time) (int64, error)
	CountAll(ctx context.Context) (int64, error)
	CountVisible(ctx context.Context) (int64, error)
}

// postRepository implements PostRepository
type postRepository struct {
	db     *gorm.DB
	policy database.RetryPolicy
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB, policy database.RetryPolicy) PostRepository {
	return &postRepository{db: db, policy: policy}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	defer observability.TrackQuery("create", "posts")()
	return database.RetryExec(ctx, r.policy, "posts.create", func() error {
		post.ID = 0
		return r.db.WithContext(ctx).Create(post).Error
	})
}

func (r *postRepository) GetVisible(ctx context.Context, id uint) (*models.Post, error) {
	defer observability.TrackQuery("get", "posts")()
	return database.Retry(ctx, r.policy, "posts.get", func() (*models.Post, error) {
		return findVisiblePost(r.db.WithContext(ctx), id)
	})
}

func (r *postRepository) ListVisible(ctx context.Context, limit int) ([]*models.Post, error) {
	defer observability.TrackQuery("list", "posts")()
	return database.Retry(ctx, r.policy, "posts.list", func() ([]*models.Post, error) {
		var posts []*models.Post
		err := r.db.WithContext(ctx).
			Where("visible = ?", true).
			Order("created_at DESC").
			Order("id DESC").
			Limit(limit).
			Find(&posts).Error
		return posts, err
	})
}

func (r *postRepository) OldestVisible(ctx context.Context) (*models.Post, error) {
	defer observability.TrackQuery("oldest", "posts")()
	return database.Retry(ctx, r.policy, "posts.oldest", func() (*models.Post, error) {
		var post models.Post
		err := r.db.WithContext(ctx).
			Where("visible = ?", true).
			Order("created_at ASC").
			Order("id ASC").
			First(&post).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Post", "oldest")
		}
		if err != nil {
			return nil, err
		}
		return &post, nil
	})
}

// MarkExpired hides every visible post created before cutoff in one statement.
func (r *postRepository) MarkExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	defer observability.TrackQuery("expire", "posts")()
	return database.Retry(ctx, r.policy, "posts.expire", func() (int64, error) {
		result := r.db.WithContext(ctx).
			Model(&models.Post{}).
			Where("visible = ? AND created_at < ?", true, cutoff.UTC()).
			Update("visible", false)
		return result.RowsAffected, result.Error
	})
}

func (r *postRepository) CountAll(ctx context.Context) (int64, error) {
	return r.count(ctx, "posts.count_all", r.db.WithContext(ctx).Model(&models.Post{}))
}

func (r *postRepository) CountVisible(ctx context.Context) (int64, error) {
	return r.count(ctx, "posts.count_visible", r.db.WithContext(ctx).Model(&models.Post{}).Where("visible = ?", true))
}

func (r *postRepository) count(ctx context.Context, operation string, q *gorm.DB) (int64, error) {
	defer observability.TrackQuery("count", "posts")()
	return database.Retry(ctx, r.policy, operation, func() (int64, error) {
		var n int64
		err := q.Session(&gorm.Session{}).Count(&n).Error
		return n, err
	})
}

// findVisiblePost maps a missing or hidden post to a NOT_FOUND AppError.
func findVisiblePost(db *gorm.DB, id uint) (*models.Post, error) {
	var post models.Post
	err := db.Where("id = ? AND visible = ?", id, true).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Post", id)
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}
