package promoter

import (
	"time"
)

// Promoter is a wallet-linked user earning points across campaigns.
// Rows are never deleted; misbehaving promoters are banned instead.
type Promoter struct {
	ID            string    `gorm:"column:id;primaryKey;type:char(26)"`
	WalletAddress string    `gorm:"column:wallet_address;uniqueIndex;not null"`
	DisplayName   string    `gorm:"column:display_name"`
	SignupIP      string    `gorm:"column:signup_ip;index"`
	Banned        bool      `gorm:"column:banned;default:false"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// SocialAccount links a promoter to one handle on one platform.
type SocialAccount struct {
	ID         string `gorm:"column:id;primaryKey;type:char(26)"`
	PromoterID string `gorm:"column:promoter_id;index;not null"`
	Platform   string `gorm:"column:platform;not null;uniqueIndex:idx_social_platform_handle"`
	Handle     string `gorm:"column:handle;not null;uniqueIndex:idx_social_platform_handle"`
	ExternalID string `gorm:"column:external_id"`

	Verified         bool       `gorm:"column:verified;default:false"`
	FollowerCount    int        `gorm:"column:follower_count;default:0"`
	AccountCreatedAt *time.Time `gorm:"column:account_created_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "ACTIVE"
	MembershipBanned  MembershipStatus = "BANNED"
	MembershipRemoved MembershipStatus = "REMOVED"
)

// Membership enrolls a promoter into a campaign, at most once per pair.
type Membership struct {
	ID         string `gorm:"column:id;primaryKey;type:char(26)"`
	CampaignID string `gorm:"column:campaign_id;not null;uniqueIndex:idx_membership_pair"`
	PromoterID string `gorm:"column:promoter_id;not null;uniqueIndex:idx_membership_pair"`
	RefererID  string `gorm:"column:referer_id"`

	Status MembershipStatus `gorm:"column:status;type:varchar(20);not null;default:'ACTIVE'"`
	Points int64            `gorm:"column:points;default:0"`

	JoinedAt  time.Time `gorm:"column:joined_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
