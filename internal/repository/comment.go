package repository

import (
	"context"

	"github.com/AndreasThinks/nodeice-board/internal/database"
	"github.com/AndreasThinks/nodeice-board/internal/models"
	"github.com/AndreasThinks/nodeice-board/internal/observability"

	"gorm.io/gorm"
)

// CommentRepository defines interface for comment operations
type CommentRepository interface {
	// CreateOnVisiblePost inserts the comment only if its post is visible,
	// in one transaction, and returns that post.
	CreateOnVisiblePost(ctx context.Context, comment *models.Comment) (*models.Post, error)
	ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error)
	Count(ctx context.Context) (int64, error)
}

type commentRepository struct {
	db     *gorm.DB
	policy database.RetryPolicy
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB, policy database.RetryPolicy) CommentRepository {
	return &commentRepository{db: db, policy: policy}
}

func (r *commentRepository) CreateOnVisiblePost(ctx context.Context, comment *models.Comment) (*models.Post, error) {
	defer observability.TrackQuery("create", "comments")()
	return database.Retry(ctx, r.policy, "comments.create", func() (*models.Post, error) {
		var post *models.Post
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			p, err := findVisiblePost(tx, comment.PostID)
			if err != nil {
				return err
			}
			comment.ID = 0
			if err := tx.Create(comment).Error; err != nil {
				return err
			}
			post = p
			return nil
		})
		return post, err
	})
}

func (r *commentRepository) ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error) {
	defer observability.TrackQuery("list", "comments")()
	return database.Retry(ctx, r.policy, "comments.list", func() ([]*models.Comment, error) {
		var comments []*models.Comment
		err := r.db.WithContext(ctx).
			Where("post_id = ?", postID).
			Order("created_at ASC").
			Order("id ASC").
			Find(&comments).Error
		return comments, err
	})
}

func (r *commentRepository) Count(ctx context.Context) (int64, error) {
	defer observability.TrackQuery("count", "comments")()
	return database.Retry(ctx, r.policy, "comments.count", func() (int64, error) {
		var n int64
		err := r.db.WithContext(ctx).Model(&models.Comment{}).Count(&n).Error
		return n, err
	})
}
