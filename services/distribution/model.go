package distribution

import "time"

type MemberState string

const (
	StateUnconnected MemberState = "UNCONNECTED"
	StateConnected   MemberState = "CONNECTED"
	StateStopped     MemberState = "STOPPED"
)

// PoolMembership mirrors on-chain payment-pool membership so the
// controller can skip redundant connect calls and detect unit changes.
type PoolMembership struct {
	ID         string `gorm:"column:id;primaryKey;type:char(26)"`
	CampaignID string `gorm:"column:campaign_id;not null;uniqueIndex:idx_pool_member_pair"`
	PromoterID string `gorm:"column:promoter_id;not null;uniqueIndex:idx_pool_member_pair"`

	PoolAddress   string `gorm:"column:pool_address;not null"`
	MemberAddress string `gorm:"column:member_address;not null"`

	State    MemberState `gorm:"column:state;type:varchar(20);not null;default:'UNCONNECTED'"`
	Units    int64       `gorm:"column:units;default:0"`
	FlowRate string      `gorm:"column:flow_rate;default:'0'"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// FlowRateLog is an append-only trail of every flow-rate change pushed
// to the payment service.
type FlowRateLog struct {
	ID         string `gorm:"column:id;primaryKey;type:char(26)"`
	CampaignID string `gorm:"column:campaign_id;index;not null"`
	PromoterID string `gorm:"column:promoter_id;index;not null"`

	Units    int64  `gorm:"column:units"`
	FlowRate string `gorm:"column:flow_rate;not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
