package models

import "time"

// Post status lifecycle: draft -> scheduled -> posted | failed.
// Transitions are one-way; a post never moves backwards.
const (
	PostStatusDraft     = "draft"
	PostStatusScheduled = "scheduled"
	PostStatusPosted    = "posted"
	PostStatusFailed    = "failed"
)

type Client struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	City              *string   `json:"city,omitempty"`
	Industry          *string   `json:"industry,omitempty"`
	FacebookPageID    *string   `json:"facebookPageId,omitempty"`
	FacebookPageToken *string   `json:"-"`
	Categories        []string  `json:"categories"`
	AIAuto            bool      `json:"aiAuto"`
	ModelName         string    `json:"modelName"`
	Timezone          string    `json:"timezone"`
	PostHour          int       `json:"postHour"`
	PostMinute        int       `json:"postMinute"`
	CreatedAt         time.Time `json:"createdAt"`
}

type Post struct {
	ID           string     `json:"id"`
	ClientID     string     `json:"clientId"`
	Caption      string     `json:"caption"`
	Hashtags     string     `json:"hashtags"`
	ImageURL     *string    `json:"imageUrl,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	ScheduledAt  *time.Time `json:"scheduledAt,omitempty"`
	PostedAt     *time.Time `json:"postedAt,omitempty"`
	PublishError *string    `json:"publishError,omitempty"`
}

type SubscriptionPlan struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	WeeklyPostLimit int    `json:"weeklyPostLimit"`
}

type ClientSubscription struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"`
	PlanID   string `json:"planId"`
}

// WeeklyUsage counts posts scheduled for a client inside one Monday-aligned
// accounting week. week_start is always the UTC Monday; at most one row exists
// per (client, week) via a unique constraint.
type WeeklyUsage struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"clientId"`
	WeekStart time.Time `json:"weekStart"`
	PostsMade int       `json:"postsMade"`
}
