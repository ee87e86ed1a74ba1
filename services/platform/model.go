package platform

import "time"

type EngagementType string

const (
	EngagementQuote   EngagementType = "quote"
	EngagementComment EngagementType = "comment"
	EngagementReply   EngagementType = "reply"
	EngagementRepost  EngagementType = "repost"
)

// AllEngagementTypes lists every kind an adapter can be asked to page
// through. Reply is folded into comment weighting but fetched separately.
var AllEngagementTypes = []EngagementType{
	EngagementQuote,
	EngagementComment,
	EngagementReply,
	EngagementRepost,
}

// Post is a platform-neutral view of a published post picked up by a
// campaign search term.
type Post struct {
	Platform     string
	ExternalID   string
	AuthorID     string
	AuthorHandle string
	Content      string
	URL          string
	PublishedAt  time.Time
}

// EngagerProfile carries the account attributes quality bonuses are
// derived from.
type EngagerProfile struct {
	Verified       bool
	FollowerCount  int
	AccountAgeDays int
}

// Engagement is a single interaction with a post. ExternalID is the
// upstream identifier when the platform assigns one; adapters
// synthesize a stable key otherwise.
type Engagement struct {
	Type        EngagementType
	ExternalID  string
	PostID      string
	ActorID     string
	ActorHandle string
	IPAddress   string
	Profile     EngagerProfile
	OccurredAt  time.Time
}

type PostPage struct {
	Posts   []Post
	Cursor  string
	HasMore bool
}

type EngagementPage struct {
	Engagements []Engagement
	Cursor      string
	HasMore     bool
}
