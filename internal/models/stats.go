package models

import "time"

// BoardStats is the read-only snapshot served to telemetry readers.
type BoardStats struct {
	ActivePosts        int64      `json:"active_posts"`
	TotalPosts         int64      `json:"total_posts"`
	TotalComments      int64      `json:"total_comments"`
	Subscriptions      int64      `json:"subscriptions"`
	BlanketSubscribers int64      `json:"blanket_subscribers"`
	OldestVisibleSince *time.Time `json:"oldest_visible_since,omitempty"`
	GeneratedAt        time.Time  `json:"generated_at"`
}
