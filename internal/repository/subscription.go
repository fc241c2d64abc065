package repository

import (
	"context"

	"github.com/AndreasThinks/nodeice-board/internal/database"
	"github.com/AndreasThinks/nodeice-board/internal/models"
	"github.com/AndreasThinks/nodeice-board/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionRepository defines interface for subscription operations.
// Create methods report false when an identical subscription already exists.
type SubscriptionRepository interface {
	CreateBlanket(ctx context.Context, userID string) (bool, error)
	CreateOnVisiblePost(ctx context.Context, userID string, postID uint) (bool, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteForPost(ctx context.Context, userID string, postID uint) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Subscription, error)
	BlanketSubscribers(ctx context.Context) ([]string, error)
	PostSubscribers(ctx context.Context, postID uint) ([]string, error)
	Count(ctx context.Context) (int64, error)
	CountBlanket(ctx context.Context) (int64, error)
}

type subscriptionRepository struct {
	db     *gorm.DB
	policy database.RetryPolicy
}

// NewSubscriptionRepository creates a new SubscriptionRepository
func NewSubscriptionRepository(db *gorm.DB, policy database.RetryPolicy) SubscriptionRepository {
	return &subscriptionRepository{db: db, policy: policy}
}

// insertIgnoringDuplicate relies on the unique indexes; a conflict inserts zero rows.
func insertIgnoringDuplicate(tx *gorm.DB, sub *models.Subscription) (bool, error) {
	if err := sub.Validate(); err != nil {
		return false, err
	}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(sub)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *subscriptionRepository) CreateBlanket(ctx context.Context, userID string) (bool, error) {
	defer observability.TrackQuery("create", "subscriptions")()
	return database.Retry(ctx, r.policy, "subscriptions.create_all", func() (bool, error) {
		return insertIgnoringDuplicate(r.db.WithContext(ctx), models.NewBlanketSubscription(userID))
	})
}

func (r *subscriptionRepository) CreateOnVisiblePost(ctx context.Context, userID string, postID uint) (bool, error) {
	defer observability.TrackQuery("create", "subscriptions")()
	return database.Retry(ctx, r.policy, "subscriptions.create_post", func() (bool, error) {
		var created bool
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := findVisiblePost(tx, postID); err != nil {
				return err
			}
			ok, err := insertIgnoringDuplicate(tx, models.NewPostSubscription(userID, postID))
			created = ok
			return err
		})
		return created, err
	})
}

func (r *subscriptionRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	defer observability.TrackQuery("delete", "subscriptions")()
	return database.Retry(ctx, r.policy, "subscriptions.delete_all", func() (int64, error) {
		result := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Subscription{})
		return result.RowsAffected, result.Error
	})
}

func (r *subscriptionRepository) DeleteForPost(ctx context.Context, userID string, postID uint) (bool, error) {
	defer observability.TrackQuery("delete", "subscriptions")()
	return database.Retry(ctx, r.policy, "subscriptions.delete_post", func() (bool, error) {
		result := r.db.WithContext(ctx).
			Where("user_id = ? AND post_id = ? AND all_posts = ?", userID, postID, false).
			Delete(&models.Subscription{})
		return result.RowsAffected > 0, result.Error
	})
}

func (r *subscriptionRepository) ListByUser(ctx context.Context, userID string) ([]*models.Subscription, error) {
	defer observability.TrackQuery("list", "subscriptions")()
	return database.Retry(ctx, r.policy, "subscriptions.list", func() ([]*models.Subscription, error) {
		var subs []*models.Subscription
		err := r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("all_posts DESC").
			Order("post_id ASC").
			Find(&subs).Error
		return subs, err
	})
}

func (r *subscriptionRepository) BlanketSubscribers(ctx context.Context) ([]string, error) {
	defer observability.TrackQuery("subscribers", "subscriptions")()
	return database.Retry(ctx, r.policy, "subscriptions.subscribers_all", func() ([]string, error) {
		var ids []string
		err := r.db.WithContext(ctx).
			Model(&models.Subscription{}).
			Where("all_posts = ?", true).
			Pluck("user_id", &ids).Error
		return ids, err
	})
}

func (r *subscriptionRepository) PostSubscribers(ctx context.Context, postID uint) ([]string, error) {
	defer observability.TrackQuery("subscribers", "subscriptions")()
	return database.Retry(ctx, r.policy, "subscriptions.subscribers_post", func() ([]string, error) {
		var ids []string
		err := r.db.WithContext(ctx).
			Model(&models.Subscription{}).
			Where("post_id = ? AND all_posts = ?", postID, false).
			Pluck("user_id", &ids).Error
		return ids, err
	})
}

func (r *subscriptionRepository) Count(ctx context.Context) (int64, error) {
	defer observability.TrackQuery("count", "subscriptions")()
	return database.Retry(ctx, r.policy, "subscriptions.count", func() (int64, error) {
		var n int64
		err := r.db.WithContext(ctx).Model(&models.Subscription{}).Count(&n).Error
		return n, err
	})
}

func (r *subscriptionRepository) CountBlanket(ctx context.Context) (int64, error) {
	defer observability.TrackQuery("count", "subscriptions")()
	return database.Retry(ctx, r.policy, "subscriptions.count_all", func() (int64, error) {
		var n int64
		err := r.db.WithContext(ctx).Model(&models.Subscription{}).Where("all_posts = ?", true).Count(&n).Error
		return n, err
	})
}
