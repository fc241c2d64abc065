package models

import (
	"errors"
	"time"
)

// Subscription records a user's interest in new posts or in one post's comments.
//
// Two shapes are valid: a blanket subscription (AllPosts true, PostID nil) and a
// per-post subscription (AllPosts false, PostID set). Uniqueness per shape is
// enforced by the store.
type Subscription struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_subscriptions_user_post,priority:1" json:"user_id"`
	PostID    *uint     `gorm:"uniqueIndex:idx_subscriptions_user_post,priority:2" json:"post_id,omitempty"`
	AllPosts  bool      `gorm:"not null" json:"all_posts"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// ErrInvalidSubscriptionShape is returned when a subscription is neither blanket nor per-post.
var ErrInvalidSubscriptionShape = errors.New("subscription must be either all_posts or reference a single post")

// NewBlanketSubscription builds a subscription to every new post.
func NewBlanketSubscription(userID string) *Subscription {
	return &Subscription{UserID: userID, AllPosts: true}
}

// NewPostSubscription builds a subscription to comments on one post.
func NewPostSubscription(userID string, postID uint) *Subscription {
	return &Subscription{UserID: userID, PostID: &postID}
}

// IsBlanket reports whether the subscription covers all posts.
func (s *Subscription) IsBlanket() bool {
	return s.AllPosts && s.PostID == nil
}

// Validate checks that exactly one of the two shapes is used.
func (s *Subscription) Validate() error {
	if s.UserID == "" {
		return NewValidationError("User ID is required")
	}
	switch {
	case s.AllPosts && s.PostID == nil:
		return nil
	case !s.AllPosts && s.PostID != nil && *s.PostID > 0:
		return nil
	default:
		return ErrInvalidSubscriptionShape
	}
}
