// Package models contains data structures for the board's domain models.
package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentLength is the longest post or comment body kept, in characters.
const MaxContentLength = 1000

// Post represents a notice on the board.
type Post struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	AuthorID   string    `gorm:"not null;index" json:"author_id"`
	AuthorName *string   `json:"author_name,omitempty"`
	CreatedAt  time.Time `gorm:"not null;index:idx_posts_created_at" json:"created_at"`
	// Visible is flipped to false by the expiration sweep; rows are never removed.
	Visible bool `gorm:"not null;index:idx_posts_visible" json:"visible"`
}

// Author returns the display name when known, otherwise the author's node ID.
func (p *Post) Author() string {
	return displayName(p.AuthorName, p.AuthorID)
}

// NormalizeContent trims surrounding whitespace and truncates to MaxContentLength characters.
func NormalizeContent(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= MaxContentLength {
		return content
	}
	runes := []rune(content)
	return strings.TrimSpace(string(runes[:MaxContentLength]))
}

// OptionalName converts an empty name into a nil pointer.
func OptionalName(name string) *string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return &name
}

func displayName(name *string, id string) string {
	if name != nil && *name != "" {
		return *name
	}
	return id
}
