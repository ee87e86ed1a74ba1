package oversight

import "time"

const (
	FlagHighFrequency = "high_frequency"
	FlagSameIP        = "same_ip"
)

// Record accumulates advisory anomaly signals for one promoter. One row
// per promoter, mutated in place as signals arrive. Flags never block
// scoring or payment by themselves.
type Record struct {
	ID         string `gorm:"column:id;primaryKey;type:char(26)"`
	PromoterID string `gorm:"column:promoter_id;uniqueIndex;not null"`

	BotDetection      string `gorm:"column:bot_detection"`
	SockpuppetFilters string `gorm:"column:sockpuppet_filters"`
	WalletStatus      string `gorm:"column:wallet_status"`
	StreamStatus      string `gorm:"column:stream_status"`
	BanStatus         string `gorm:"column:ban_status"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Sample is the minimal slice of an engagement record the high
// frequency heuristic needs.
type Sample struct {
	PromoterID string    `json:"promoter_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
