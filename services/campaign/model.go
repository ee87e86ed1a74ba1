package campaign

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
)

// Campaign is a time-bounded promotion: which terms to watch, on which
// platforms, how engagements are weighted, and which reward pool pays out.
type Campaign struct {
	ID          string `gorm:"column:id;primaryKey;type:char(26)"`
	OwnerID     string `gorm:"column:owner_id;index;not null"`
	Code        string `gorm:"column:code;uniqueIndex"`
	Name        string `gorm:"column:name;type:varchar(255);not null"`
	Description string `gorm:"column:description;type:text"`
	Status      Status `gorm:"column:status;type:varchar(50);not null;default:'DRAFT'"`

	StartAt *time.Time `gorm:"column:start_at"`
	EndAt   *time.Time `gorm:"column:end_at"`

	Hashtags    datatypes.JSON `gorm:"column:hashtags;type:jsonb"`
	Tickers     datatypes.JSON `gorm:"column:tickers;type:jsonb"`
	BigAccounts datatypes.JSON `gorm:"column:big_accounts;type:jsonb"`
	Platforms   datatypes.JSON `gorm:"column:platforms;type:jsonb"`

	// Zero weight means "use the global default".
	QuoteWeight   int `gorm:"column:quote_weight;default:0"`
	CommentWeight int `gorm:"column:comment_weight;default:0"`
	RepostWeight  int `gorm:"column:repost_weight;default:0"`

	PoolAddress  string `gorm:"column:pool_address"`
	TokenAddress string `gorm:"column:token_address"`

	// Enrollment counters for growth reporting. OldPromoters is the
	// baseline from the last snapshot.
	Promoters    int64 `gorm:"column:promoters;default:0"`
	OldPromoters int64 `gorm:"column:old_promoters;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Pool mirrors the on-chain reward pool linked to a campaign.
type Pool struct {
	ID           string    `gorm:"column:id;primaryKey;type:char(26)"`
	CampaignID   string    `gorm:"column:campaign_id;uniqueIndex;not null"`
	Address      string    `gorm:"column:address;not null"`
	TokenAddress string    `gorm:"column:token_address"`
	TokenSymbol  string    `gorm:"column:token_symbol"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// IsActive reports whether the campaign window is currently open.
func (c *Campaign) IsActive(now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	if c.StartAt != nil && now.Before(*c.StartAt) {
		return false
	}
	if c.EndAt != nil && now.After(*c.EndAt) {
		return false
	}
	return true
}

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func encodeStrings(values []string) datatypes.JSON {
	if len(values) == 0 {
		return datatypes.JSON("[]")
	}
	b, _ := json.Marshal(values)
	return datatypes.JSON(b)
}

func (c *Campaign) HashtagList() []string    { return decodeStrings(c.Hashtags) }
func (c *Campaign) TickerList() []string     { return decodeStrings(c.Tickers) }
func (c *Campaign) BigAccountList() []string { return decodeStrings(c.BigAccounts) }
func (c *Campaign) PlatformList() []string   { return decodeStrings(c.Platforms) }

// SearchTerms returns every hashtag and ticker the ingestion loop polls
// for, bare (without the # or $ prefix).
func (c *Campaign) SearchTerms() []string {
	var terms []string
	for _, h := range c.HashtagList() {
		if t := normalizeTerm(h); t != "" {
			terms = append(terms, t)
		}
	}
	for _, tk := range c.TickerList() {
		if t := normalizeTerm(tk); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// MatchesContent reports whether text contains at least one campaign
// hashtag or ticker, case-insensitive, accepting the term with or
// without its # / $ prefix.
func (c *Campaign) MatchesContent(text string) bool {
	haystack := strings.ToLower(text)
	for _, term := range c.SearchTerms() {
		if term == "" {
			continue
		}
		if strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}

func normalizeTerm(term string) string {
	t := strings.ToLower(strings.TrimSpace(term))
	t = strings.TrimPrefix(t, "#")
	t = strings.TrimPrefix(t, "$")
	return t
}
