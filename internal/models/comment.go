package models

import "time"

// Comment represents a reply to a post. Comments are immutable once created.
type Comment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PostID     uint      `gorm:"not null;index:idx_comments_post_id" json:"post_id"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	AuthorID   string    `gorm:"not null" json:"author_id"`
	AuthorName *string   `json:"author_name,omitempty"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

// Author returns the display name when known, otherwise the author's node ID.
func (c *Comment) Author() string {
	return displayName(c.AuthorName, c.AuthorID)
}
