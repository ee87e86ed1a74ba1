package distribution

import (
	"context"
	"time"

	"promoflow-engine/pkg/config"
	"promoflow-engine/pkg/errutil"
	"promoflow-engine/pkg/repository"
	"promoflow-engine/services/campaign"
	"promoflow-engine/services/ledger"
	"promoflow-engine/services/promoter"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Controller keeps payment-pool state consistent with the score ledger.
// It recomputes the desired units and flow rate for every member and
// issues "set to X" calls; repeated calls with the same target are
// no-ops at the payment service, so no extra idempotency key is kept
// here. Payment failures never roll back ledger state — the next sync
// retries.
type Controller struct {
	db   *gorm.DB
	node *snowflake.Node

	scaleFactor int64

	payment   PaymentClient
	campaigns *campaign.Service
	promoters *promoter.Service
	scores    *ledger.Service

	membership repository.Repository[PoolMembership]
	flowLog    repository.Repository[FlowRateLog]
}

type ControllerParams struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Cfg       *config.Config
	Payment   PaymentClient
	Campaigns *campaign.Service
	Promoters *promoter.Service
	Scores    *ledger.Service
}

func NewController(p ControllerParams) *Controller {
	return &Controller{
		db:          p.DB,
		node:        p.Node,
		scaleFactor: p.Cfg.Payment.ScaleFactor,
		payment:     p.Payment,
		campaigns:   p.Campaigns,
		promoters:   p.Promoters,
		scores:      p.Scores,
		membership:  repository.ProvideStore[PoolMembership](p.DB),
		flowLog:     repository.ProvideStore[FlowRateLog](p.DB),
	}
}

// SyncCampaign reconciles every promoter's payment state in one
// campaign against the current ledger. Per-member failures are logged
// and skipped so one bad member cannot stall the rest; the member is
// retried on the next sync.
func (c *Controller) SyncCampaign(ctx context.Context, campaignID string) error {
	camp, err := c.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if camp.PoolAddress == "" {
		return errutil.BadRequest("campaign has no reward pool", nil)
	}

	latest, err := c.scores.LatestByCampaign(ctx, campaignID)
	if err != nil {
		return err
	}

	for _, snap := range latest {
		if err := c.syncMember(ctx, camp, snap.PromoterID, snap.Value); err != nil {
			zap.L().Warn("pool member sync failed",
				zap.String("campaign_id", campaignID),
				zap.String("promoter_id", snap.PromoterID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// SyncMember reconciles a single (promoter, campaign) pair from its
// latest ledger value.
func (c *Controller) SyncMember(ctx context.Context, campaignID, promoterID string) error {
	camp, err := c.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if camp.PoolAddress == "" {
		return errutil.BadRequest("campaign has no reward pool", nil)
	}

	snap, err := c.scores.Latest(ctx, campaignID, promoterID)
	if err != nil {
		return err
	}

	var value int64
	if snap != nil {
		value = snap.Value
	}
	return c.syncMember(ctx, camp, promoterID, value)
}

func (c *Controller) syncMember(ctx context.Context, camp *campaign.Campaign, promoterID string, value int64) error {
	p, err := c.promoters.Get(ctx, promoterID)
	if err != nil {
		return err
	}

	member, err := c.membership.FindOne(ctx, &PoolMembership{
		CampaignID: camp.ID,
		PromoterID: promoterID,
	})
	if err != nil {
		return err
	}

	units := value
	flowRate := CalcFlowRate(value, c.scaleFactor).String()
	stopped := value <= 0 || p.Banned

	switch {
	case member == nil && stopped:
		// Never connected and nothing to pay: no call needed.
		return nil

	case member == nil:
		if err := c.payment.ConnectPool(ctx, camp.PoolAddress, p.WalletAddress); err != nil {
			return err
		}
		if err := c.payment.UpdateMemberUnits(ctx, camp.PoolAddress, p.WalletAddress, units); err != nil {
			return err
		}
		member = &PoolMembership{
			ID:            c.node.Generate().String(),
			CampaignID:    camp.ID,
			PromoterID:    promoterID,
			PoolAddress:   camp.PoolAddress,
			MemberAddress: p.WalletAddress,
			State:         StateConnected,
			Units:         units,
			FlowRate:      flowRate,
		}
		if err := c.membership.Create(ctx, member); err != nil {
			return err
		}
		return c.logFlowRate(ctx, camp.ID, promoterID, units, flowRate)

	case stopped:
		if member.State == StateStopped && member.Units == 0 {
			return nil
		}
		if err := c.payment.UpdateMemberUnits(ctx, camp.PoolAddress, member.MemberAddress, 0); err != nil {
			return err
		}
		if err := c.payment.DeleteFlow(ctx, member.MemberAddress); err != nil {
			return err
		}
		if err := c.membership.Update(ctx, member.ID, map[string]any{
			"state":      StateStopped,
			"units":      0,
			"flow_rate":  "0",
			"updated_at": time.Now(),
		}); err != nil {
			return err
		}
		return c.logFlowRate(ctx, camp.ID, promoterID, 0, "0")

	default:
		if member.State == StateConnected && member.Units == units {
			// Desired state already applied.
			return nil
		}
		if member.State != StateConnected {
			if err := c.payment.ConnectPool(ctx, camp.PoolAddress, member.MemberAddress); err != nil {
				return err
			}
		}
		if err := c.payment.UpdateMemberUnits(ctx, camp.PoolAddress, member.MemberAddress, units); err != nil {
			return err
		}
		if err := c.membership.Update(ctx, member.ID, map[string]any{
			"state":      StateConnected,
			"units":      units,
			"flow_rate":  flowRate,
			"updated_at": time.Now(),
		}); err != nil {
			return err
		}
		return c.logFlowRate(ctx, camp.ID, promoterID, units, flowRate)
	}
}

func (c *Controller) logFlowRate(ctx context.Context, campaignID, promoterID string, units int64, flowRate string) error {
	return c.flowLog.Create(ctx, &FlowRateLog{
		ID:         c.node.Generate().String(),
		CampaignID: campaignID,
		PromoterID: promoterID,
		Units:      units,
		FlowRate:   flowRate,
	})
}

func (c *Controller) Membership(ctx context.Context, campaignID, promoterID string) (*PoolMembership, error) {
	return c.membership.FindOne(ctx, &PoolMembership{CampaignID: campaignID, PromoterID: promoterID})
}

func (c *Controller) FlowRateHistory(ctx context.Context, campaignID, promoterID string) ([]*FlowRateLog, error) {
	return c.flowLog.Find(ctx, &FlowRateLog{CampaignID: campaignID, PromoterID: promoterID})
}
