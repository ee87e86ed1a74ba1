package oversight

import (
	"context"
	"sort"
	"time"

	"promoflow-engine/pkg/config"
	"promoflow-engine/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	minInterval time.Duration

	record repository.Repository[Record]
}

type ServiceParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
	Cfg  *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		minInterval: p.Cfg.Oversight.MinInterval,
		record:      repository.ProvideStore[Record](p.DB),
	}
}

// Flag upserts the promoter's oversight record and sets one signal
// column. Existing signals on other columns are preserved.
func (s *Service) Flag(ctx context.Context, promoterID, column, value string) error {
	existing, err := s.record.FindOne(ctx, &Record{PromoterID: promoterID})
	if err != nil {
		return err
	}

	if existing == nil {
		rec := &Record{
			ID:         s.node.Generate().String(),
			PromoterID: promoterID,
		}
		applySignal(rec, column, value)
		if err := s.record.Create(ctx, rec); err != nil {
			return err
		}
		zap.L().Info("oversight flag raised",
			zap.String("promoter_id", promoterID),
			zap.String("signal", column),
			zap.String("value", value),
		)
		return nil
	}

	updates := map[string]any{
		column:       value,
		"updated_at": time.Now(),
	}
	if err := s.record.Update(ctx, existing.ID, updates); err != nil {
		return err
	}
	zap.L().Info("oversight flag raised",
		zap.String("promoter_id", promoterID),
		zap.String("signal", column),
		zap.String("value", value),
	)
	return nil
}

func applySignal(rec *Record, column, value string) {
	switch column {
	case "bot_detection":
		rec.BotDetection = value
	case "sockpuppet_filters":
		rec.SockpuppetFilters = value
	case "wallet_status":
		rec.WalletStatus = value
	case "stream_status":
		rec.StreamStatus = value
	case "ban_status":
		rec.BanStatus = value
	}
}

// ScanSamples runs the high-frequency heuristic over a batch of newly
// inserted engagement records. Any promoter with two records closer
// together than the configured minimum interval is flagged.
func (s *Service) ScanSamples(ctx context.Context, samples []Sample) error {
	byPromoter := make(map[string][]time.Time)
	for _, sample := range samples {
		if sample.PromoterID == "" {
			continue
		}
		byPromoter[sample.PromoterID] = append(byPromoter[sample.PromoterID], sample.OccurredAt)
	}

	for promoterID, stamps := range byPromoter {
		if len(stamps) < 2 {
			continue
		}
		sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

		for i := 1; i < len(stamps); i++ {
			if stamps[i].Sub(stamps[i-1]) < s.minInterval {
				if err := s.Flag(ctx, promoterID, "bot_detection", FlagHighFrequency); err != nil {
					return err
				}
				break
			}
		}
	}

	return nil
}

// FlagSameIP marks both sides of a signup-IP collision.
func (s *Service) FlagSameIP(ctx context.Context, promoterIDs ...string) error {
	for _, id := range promoterIDs {
		if err := s.Flag(ctx, id, "sockpuppet_filters", FlagSameIP); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, promoterID string) (*Record, error) {
	return s.record.FindOne(ctx, &Record{PromoterID: promoterID})
}

// Flagged returns every record carrying at least one anomaly signal.
func (s *Service) Flagged(ctx context.Context) ([]*Record, error) {
	var records []*Record
	if err := s.db.WithContext(ctx).
		Where("bot_detection <> '' OR sockpuppet_filters <> ''").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
