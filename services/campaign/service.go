package campaign

import (
	"context"
	"fmt"
	"time"

	"promoflow-engine/pkg/db/option"
	"promoflow-engine/pkg/errutil"
	"promoflow-engine/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	campaign repository.Repository[Campaign]
	pool     repository.Repository[Pool]
}

type ServiceParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		campaign: repository.ProvideStore[Campaign](p.DB),
		pool:     repository.ProvideStore[Pool](p.DB),
	}
}

type CreateCampaignRequest struct {
	OwnerID     string
	Name        string
	Description string
	StartAt     *time.Time
	EndAt       *time.Time
	Hashtags    []string
	Tickers     []string
	BigAccounts []string
	Platforms   []string

	QuoteWeight   int
	CommentWeight int
	RepostWeight  int

	PoolAddress  string
	TokenAddress string
}

func (s *Service) Create(ctx context.Context, req CreateCampaignRequest) (*Campaign, error) {
	if req.Name == "" {
		return nil, errutil.BadRequest("campaign name is required", nil)
	}
	if req.QuoteWeight < 0 || req.CommentWeight < 0 || req.RepostWeight < 0 {
		return nil, errutil.ValidationFailed("weights must be >= 0", nil)
	}
	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return nil, errutil.ValidationFailed("campaign window is not well-ordered", nil)
	}
	if len(req.Hashtags) == 0 && len(req.Tickers) == 0 {
		return nil, errutil.ValidationFailed("at least one hashtag or ticker is required", nil)
	}

	id := s.node.Generate().String()
	c := Campaign{
		ID:          id,
		OwnerID:     req.OwnerID,
		Code:        fmt.Sprintf("%s-%s", slug.Make(req.Name), id[len(id)-6:]),
		Name:        req.Name,
		Description: req.Description,
		Status:      StatusDraft,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Hashtags:    encodeStrings(req.Hashtags),
		Tickers:     encodeStrings(req.Tickers),
		BigAccounts: encodeStrings(req.BigAccounts),
		Platforms:   encodeStrings(req.Platforms),

		QuoteWeight:   req.QuoteWeight,
		CommentWeight: req.CommentWeight,
		RepostWeight:  req.RepostWeight,

		PoolAddress:  req.PoolAddress,
		TokenAddress: req.TokenAddress,
	}

	if err := s.campaign.Create(ctx, &c); err != nil {
		zap.L().Error("failed to create campaign", zap.Error(err))
		return nil, err
	}

	if req.PoolAddress != "" {
		if err := s.pool.Create(ctx, &Pool{
			ID:           s.node.Generate().String(),
			CampaignID:   c.ID,
			Address:      req.PoolAddress,
			TokenAddress: req.TokenAddress,
		}); err != nil {
			zap.L().Error("failed to register campaign pool", zap.Error(err), zap.String("campaign_id", c.ID))
			return nil, err
		}
	}

	return &c, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Campaign, error) {
	c, err := s.campaign.FindOne(ctx, &Campaign{ID: id})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	return c, nil
}

func (s *Service) GetPool(ctx context.Context, campaignID string) (*Pool, error) {
	return s.pool.FindOne(ctx, &Pool{CampaignID: campaignID})
}

func (s *Service) SetStatus(ctx context.Context, id string, status Status) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.campaign.Update(ctx, c.ID, map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	})
}

// ActiveCampaigns returns every campaign whose window is open at now.
// Status filtering happens in SQL; the window check in Go so open-ended
// windows (nil start or end) behave.
func (s *Service) ActiveCampaigns(ctx context.Context, now time.Time) ([]*Campaign, error) {
	candidates, err := s.campaign.Find(ctx, &Campaign{Status: StatusActive},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc", Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return nil, err
	}

	active := make([]*Campaign, 0, len(candidates))
	for _, c := range candidates {
		if c.IsActive(now) {
			active = append(active, c)
		}
	}
	return active, nil
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*Campaign, error) {
	return s.campaign.Find(ctx, &Campaign{OwnerID: ownerID})
}

// IncrementPromoters bumps the enrollment counter when a promoter
// joins the campaign.
func (s *Service) IncrementPromoters(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Campaign{}).
		Where("id = ?", id).
		UpdateColumn("promoters", gorm.Expr("promoters + 1")).Error
}

// SnapshotPromoters rolls the current enrollment count into the
// baseline Growth compares against. Run once per reporting period.
func (s *Service) SnapshotPromoters(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Campaign{}).
		Where("id = ?", id).
		UpdateColumn("old_promoters", gorm.Expr("promoters")).Error
}

// Growth returns the enrollment growth percentage since the last
// snapshot. A zero baseline reports zero instead of dividing by it.
func (s *Service) Growth(ctx context.Context, id string) (float64, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.OldPromoters == 0 {
		return 0, nil
	}
	return float64(c.Promoters-c.OldPromoters) * 100 / float64(c.OldPromoters), nil
}
