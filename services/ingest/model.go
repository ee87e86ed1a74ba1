package ingest

import "time"

// EngagementRecord is the durable record of one scored post or
// engagement, and doubles as the idempotency seen-set: the unique key
// (platform, external id, campaign) guarantees at-most-once scoring
// across polling cycles, restarts, and scaled-out workers.
type EngagementRecord struct {
	ID         string `gorm:"column:id;primaryKey;type:char(26)"`
	Platform   string `gorm:"column:platform;not null;uniqueIndex:idx_engagement_unique"`
	ExternalID string `gorm:"column:external_id;not null;uniqueIndex:idx_engagement_unique"`
	CampaignID string `gorm:"column:campaign_id;not null;uniqueIndex:idx_engagement_unique"`

	// tweet for the matched post itself, otherwise the engagement type.
	Kind string `gorm:"column:kind;type:varchar(20);not null"`

	AuthorHandle   string `gorm:"column:author_handle"`
	PromoterID     string `gorm:"column:promoter_id;index"`
	PostExternalID string `gorm:"column:post_external_id;index"`
	Points         int64  `gorm:"column:points;default:0"`

	OccurredAt time.Time `gorm:"column:occurred_at"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

const KindPost = "tweet"

// Continuation stores the opaque upstream pagination token per
// engagement source, so fetching resumes where the last cycle stopped
// instead of re-reading full histories.
type Continuation struct {
	ID         string `gorm:"column:id;primaryKey;type:char(26)"`
	CampaignID string `gorm:"column:campaign_id;not null;uniqueIndex:idx_continuation_source"`
	Platform   string `gorm:"column:platform;not null;uniqueIndex:idx_continuation_source"`

	// Term cursors leave PostExternalID and Kind empty; engagement
	// cursors set both.
	Term           string `gorm:"column:term;uniqueIndex:idx_continuation_source"`
	PostExternalID string `gorm:"column:post_external_id;uniqueIndex:idx_continuation_source"`
	Kind           string `gorm:"column:kind;uniqueIndex:idx_continuation_source"`

	Cursor    string    `gorm:"column:cursor"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
