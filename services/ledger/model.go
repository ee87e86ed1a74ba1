package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Snapshot is one append-only point value for a (promoter, campaign)
// pair. A new computation inserts a new row and demotes the prior
// latest — rows are never updated in place, so the full history stays
// queryable. An empty CampaignID scopes the snapshot globally.
type Snapshot struct {
	ID string `gorm:"column:id;primaryKey;type:char(26)"`

	// The partial unique index is the backstop for the single-latest
	// rule: a second is_latest row for a pair fails the insert instead
	// of corrupting the chain.
	CampaignID string `gorm:"column:campaign_id;index:idx_snapshot_pair;uniqueIndex:idx_snapshot_latest,where:is_latest"`
	PromoterID string `gorm:"column:promoter_id;index:idx_snapshot_pair;not null;uniqueIndex:idx_snapshot_latest,where:is_latest"`

	Value      int64   `gorm:"column:value;not null"`
	Delta      int64   `gorm:"column:delta;not null"`
	Percentage float64 `gorm:"column:percentage;default:0"`

	IsFirst  bool `gorm:"column:is_first;default:false"`
	IsLatest bool `gorm:"column:is_latest;index;default:false"`

	PreviousHash string `gorm:"column:previous_hash"`
	Hash         string `gorm:"column:hash"`

	Metadata  datatypes.JSON `gorm:"column:metadata"`
	CreatedAt time.Time      `gorm:"column:created_at;index;autoCreateTime"`
}

// Activity is the per-event feed behind dashboards: one row per scored
// post or engagement.
type Activity struct {
	ID         string `gorm:"column:id;primaryKey;type:char(26)"`
	CampaignID string `gorm:"column:campaign_id;index;not null"`
	PromoterID string `gorm:"column:promoter_id;index;not null"`

	Platform       string `gorm:"column:platform"`
	PostExternalID string `gorm:"column:post_external_id"`
	Kind           string `gorm:"column:kind"`
	Points         int64  `gorm:"column:points"`

	CreatedAt time.Time `gorm:"column:created_at;index;autoCreateTime"`
}

// HashFields lists everything that goes into the snapshot hash, keyed
// for stable ordering.
func (m *Snapshot) HashFields() map[string]string {
	return map[string]string{
		"id":            m.ID,
		"campaign_id":   m.CampaignID,
		"promoter_id":   m.PromoterID,
		"value":         fmt.Sprintf("%d", m.Value),
		"delta":         fmt.Sprintf("%d", m.Delta),
		"created_at":    m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": m.PreviousHash,
	}
}

func (m *Snapshot) GenerateHash() string {
	fields := m.HashFields()
	var keys []string
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	joined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}

// Window names a trailing period for gain/loss and scoreboard queries.
type Window string

const (
	WindowAll    Window = "all"
	WindowWeek   Window = "1w"
	WindowMonth  Window = "1m"
	Window3Month Window = "3m"
	Window6Month Window = "6m"
	WindowYear   Window = "12m"
)

// Cutoff returns the past date the window reaches back to. Trailing
// cutoffs are always now minus the period.
func (w Window) Cutoff(now time.Time) (time.Time, bool) {
	switch w {
	case WindowWeek:
		return now.AddDate(0, 0, -7), true
	case WindowMonth:
		return now.AddDate(0, -1, 0), true
	case Window3Month:
		return now.AddDate(0, -3, 0), true
	case Window6Month:
		return now.AddDate(0, -6, 0), true
	case WindowYear:
		return now.AddDate(-1, 0, 0), true
	default:
		return time.Time{}, false
	}
}

// Standing is one promoter's ledger position within a campaign.
type Standing struct {
	PromoterID string  `json:"promoter_id"`
	Value      int64   `json:"value"`
	Gain       int64   `json:"gain"`
	Percentage float64 `json:"percentage"`

	// Trailing-window gains, keyed by Window. Zero when no snapshot
	// exists at the cutoff.
	WindowGains map[Window]int64 `json:"window_gains,omitempty"`
}
