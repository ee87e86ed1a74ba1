package promoter

import (
	"context"
	"strings"
	"time"

	"promoflow-engine/pkg/errutil"
	"promoflow-engine/pkg/repository"
	"promoflow-engine/services/campaign"
	"promoflow-engine/services/oversight"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	oversight *oversight.Service
	campaigns *campaign.Service

	promoter   repository.Repository[Promoter]
	social     repository.Repository[SocialAccount]
	membership repository.Repository[Membership]
}

type ServiceParams struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Oversight *oversight.Service
	Campaigns *campaign.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		oversight:  p.Oversight,
		campaigns:  p.Campaigns,
		promoter:   repository.ProvideStore[Promoter](p.DB),
		social:     repository.ProvideStore[SocialAccount](p.DB),
		membership: repository.ProvideStore[Membership](p.DB),
	}
}

type RegisterRequest struct {
	WalletAddress string
	DisplayName   string
	SignupIP      string
}

// Register creates a promoter at wallet signup. A signup IP already
// used by another promoter raises a sockpuppet flag on both sides but
// does not block registration.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Promoter, error) {
	if req.WalletAddress == "" {
		return nil, errutil.BadRequest("wallet address is required", nil)
	}

	existing, err := s.promoter.FindOne(ctx, &Promoter{WalletAddress: req.WalletAddress})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("wallet already registered", nil)
	}

	p := &Promoter{
		ID:            s.node.Generate().String(),
		WalletAddress: req.WalletAddress,
		DisplayName:   req.DisplayName,
		SignupIP:      req.SignupIP,
	}
	if err := s.promoter.Create(ctx, p); err != nil {
		return nil, err
	}

	if req.SignupIP != "" {
		sameIP, err := s.promoter.Find(ctx, &Promoter{SignupIP: req.SignupIP})
		if err != nil {
			zap.L().Warn("signup ip lookup failed", zap.Error(err))
			return p, nil
		}
		if len(sameIP) > 1 {
			ids := make([]string, 0, len(sameIP))
			for _, other := range sameIP {
				ids = append(ids, other.ID)
			}
			if err := s.oversight.FlagSameIP(ctx, ids...); err != nil {
				zap.L().Warn("failed to flag same-ip promoters", zap.Error(err))
			}
		}
	}

	return p, nil
}

type LinkSocialRequest struct {
	PromoterID       string
	Platform         string
	Handle           string
	ExternalID       string
	Verified         bool
	FollowerCount    int
	AccountCreatedAt *time.Time
}

func (s *Service) LinkSocial(ctx context.Context, req LinkSocialRequest) (*SocialAccount, error) {
	if req.Handle == "" || req.Platform == "" {
		return nil, errutil.BadRequest("platform and handle are required", nil)
	}

	handle := NormalizeHandle(req.Handle)

	taken, err := s.social.FindOne(ctx, &SocialAccount{Platform: req.Platform, Handle: handle})
	if err != nil {
		return nil, err
	}
	if taken != nil && taken.PromoterID != req.PromoterID {
		return nil, errutil.Conflict("handle already linked to another promoter", nil)
	}

	account := &SocialAccount{
		ID:               s.node.Generate().String(),
		PromoterID:       req.PromoterID,
		Platform:         req.Platform,
		Handle:           handle,
		ExternalID:       req.ExternalID,
		Verified:         req.Verified,
		FollowerCount:    req.FollowerCount,
		AccountCreatedAt: req.AccountCreatedAt,
	}
	if taken != nil {
		account.ID = taken.ID
		return account, s.social.Update(ctx, taken.ID, account)
	}
	return account, s.social.Create(ctx, account)
}

// Enroll creates the (promoter, campaign) membership. Enrolling twice
// returns the existing membership unchanged.
func (s *Service) Enroll(ctx context.Context, campaignID, promoterID, refererID string) (*Membership, error) {
	p, err := s.promoter.FindOne(ctx, &Promoter{ID: promoterID})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errutil.NotFound("promoter not found", nil)
	}
	if p.Banned {
		return nil, errutil.BadRequest("promoter is banned", nil)
	}

	existing, err := s.membership.FindOne(ctx, &Membership{CampaignID: campaignID, PromoterID: promoterID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	m := &Membership{
		ID:         s.node.Generate().String(),
		CampaignID: campaignID,
		PromoterID: promoterID,
		RefererID:  refererID,
		Status:     MembershipActive,
	}
	if err := s.membership.Create(ctx, m); err != nil {
		return nil, err
	}

	// Counter drift is tolerable; the membership row is the source of
	// truth.
	if err := s.campaigns.IncrementPromoters(ctx, campaignID); err != nil {
		zap.L().Warn("failed to bump campaign enrollment counter",
			zap.String("campaign_id", campaignID),
			zap.Error(err),
		)
	}

	return m, nil
}

// EnrolledHandles resolves which handles on a platform belong to active
// members of a campaign. Keys are normalized handles.
func (s *Service) EnrolledHandles(ctx context.Context, campaignID, platform string) (map[string]string, error) {
	members, err := s.membership.Find(ctx, &Membership{CampaignID: campaignID, Status: MembershipActive})
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return map[string]string{}, nil
	}

	promoterIDs := make([]string, 0, len(members))
	for _, m := range members {
		promoterIDs = append(promoterIDs, m.PromoterID)
	}

	var accounts []*SocialAccount
	if err := s.db.WithContext(ctx).
		Where("platform = ? AND promoter_id IN ?", platform, promoterIDs).
		Find(&accounts).Error; err != nil {
		return nil, err
	}

	handles := make(map[string]string, len(accounts))
	for _, a := range accounts {
		handles[NormalizeHandle(a.Handle)] = a.PromoterID
	}
	return handles, nil
}

func (s *Service) Membership(ctx context.Context, campaignID, promoterID string) (*Membership, error) {
	return s.membership.FindOne(ctx, &Membership{CampaignID: campaignID, PromoterID: promoterID})
}

func (s *Service) Members(ctx context.Context, campaignID string) ([]*Membership, error) {
	return s.membership.Find(ctx, &Membership{CampaignID: campaignID})
}

func (s *Service) Get(ctx context.Context, promoterID string) (*Promoter, error) {
	p, err := s.promoter.FindOne(ctx, &Promoter{ID: promoterID})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errutil.NotFound("promoter not found", nil)
	}
	return p, nil
}

// AddMembershipPoints bumps the cumulative per-pair counter kept on the
// membership row. The score ledger remains the source of truth; this
// counter only feeds cheap profile reads.
func (s *Service) AddMembershipPoints(ctx context.Context, tx *gorm.DB, campaignID, promoterID string, delta int64) error {
	db := s.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Model(&Membership{}).
		Where("campaign_id = ? AND promoter_id = ?", campaignID, promoterID).
		Updates(map[string]any{
			"points":     gorm.Expr("points + ?", delta),
			"updated_at": time.Now(),
		}).Error
}

func (s *Service) Ban(ctx context.Context, promoterID string) error {
	p, err := s.Get(ctx, promoterID)
	if err != nil {
		return err
	}
	if err := s.promoter.Update(ctx, p.ID, map[string]any{"banned": true, "updated_at": time.Now()}); err != nil {
		return err
	}
	return s.oversight.Flag(ctx, promoterID, "ban_status", "banned")
}

// NormalizeHandle lowercases and strips the leading @ from a handle.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
