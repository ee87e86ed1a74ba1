package ingest

import (
	"context"
	"sync"
	"time"

	"promoflow-engine/pkg/config"
	"promoflow-engine/pkg/db/option"
	"promoflow-engine/pkg/events"
	"promoflow-engine/pkg/repository"
	"promoflow-engine/services/campaign"
	"promoflow-engine/services/distribution"
	"promoflow-engine/services/ledger"
	"promoflow-engine/services/oversight"
	"promoflow-engine/services/platform"
	"promoflow-engine/services/promoter"
	"promoflow-engine/services/scoring"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service drives the ingestion cycle: active campaigns × platforms ×
// search terms, with per-term isolation so one upstream failure never
// aborts the rest of the cycle.
type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	cfg  *config.Config

	weights   scoring.Weights
	registry  *platform.Registry
	campaigns *campaign.Service
	promoters *promoter.Service
	scores    *ledger.Service
	publisher events.Publisher
	asynq     *asynq.Client
	members   *memberCache

	cursors repository.Repository[Continuation]
}

type ServiceParams struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Cfg       *config.Config
	Weights   scoring.Weights
	Registry  *platform.Registry
	Campaigns *campaign.Service
	Promoters *promoter.Service
	Scores    *ledger.Service
	Publisher events.Publisher
	Asynq     *asynq.Client
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		cfg:       p.Cfg,
		weights:   p.Weights,
		registry:  p.Registry,
		campaigns: p.Campaigns,
		promoters: p.Promoters,
		scores:    p.Scores,
		publisher: p.Publisher,
		asynq:     p.Asynq,
		members:   newMemberCache(p.Cfg.Ingest.MemberTTL),
		cursors:   repository.ProvideStore[Continuation](p.DB),
	}
}

// RunCycle processes every campaign whose window is currently open.
// Campaign failures are logged individually; the cycle always visits
// every campaign.
func (s *Service) RunCycle(ctx context.Context) error {
	start := time.Now()

	active, err := s.campaigns.ActiveCampaigns(ctx, start)
	if err != nil {
		return err
	}

	zap.L().Info("ingestion cycle started", zap.Int("campaigns", len(active)))

	for _, camp := range active {
		if err := s.processCampaign(ctx, camp); err != nil {
			zap.L().Error("campaign ingestion failed",
				zap.String("campaign_id", camp.ID),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("ingestion cycle finished", zap.Duration("duration", time.Since(start)))
	return nil
}

type termResult struct {
	samples []oversight.Sample
	scored  bool
}

func (s *Service) processCampaign(ctx context.Context, camp *campaign.Campaign) error {
	weights := s.weights.WithOverrides(camp.QuoteWeight, camp.CommentWeight, camp.RepostWeight)
	bigAccounts := scoring.BigAccountSet(camp.BigAccountList())

	platforms := camp.PlatformList()
	if len(platforms) == 0 {
		platforms = s.registry.Names()
	}

	var (
		mu      sync.Mutex
		samples []oversight.Sample
		scored  bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Ingest.Concurrency)

	for _, name := range platforms {
		adapter, err := s.registry.Get(name)
		if err != nil {
			zap.L().Warn("campaign references unknown platform",
				zap.String("campaign_id", camp.ID),
				zap.String("platform", name),
			)
			continue
		}

		for _, term := range camp.SearchTerms() {
			adapter, term := adapter, term
			g.Go(func() error {
				res, err := s.processTerm(gctx, camp, adapter, term, weights, bigAccounts)
				if err != nil {
					// Per-term isolation: log and move on, the next
					// cycle retries from the stored cursor.
					zap.L().Warn("term ingestion failed",
						zap.String("campaign_id", camp.ID),
						zap.String("platform", adapter.Name()),
						zap.String("term", term),
						zap.Error(err),
					)
					return nil
				}
				mu.Lock()
				samples = append(samples, res.samples...)
				scored = scored || res.scored
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if len(samples) > 0 {
		if err := oversight.EnqueueScan(s.asynq, oversight.ScanPayload{CampaignID: camp.ID, Samples: samples}); err != nil {
			zap.L().Warn("failed to enqueue anomaly scan", zap.String("campaign_id", camp.ID), zap.Error(err))
		}
	}

	if scored {
		if err := distribution.EnqueueSync(s.asynq, camp.ID); err != nil {
			zap.L().Warn("failed to enqueue distribution sync", zap.String("campaign_id", camp.ID), zap.Error(err))
		}
	}

	return nil
}

func (s *Service) processTerm(ctx context.Context, camp *campaign.Campaign, adapter platform.Adapter, term string, weights scoring.Weights, bigAccounts map[string]bool) (*termResult, error) {
	handles, err := s.members.Handles(ctx, camp.ID, adapter.Name(), s.promoters.EnrolledHandles)
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return &termResult{}, nil
	}

	cursor, err := s.loadCursor(ctx, camp.ID, adapter.Name(), term, "", "")
	if err != nil {
		return nil, err
	}

	page, err := adapter.SearchPosts(ctx, term, cursor, s.cfg.Ingest.PageLimit)
	if err != nil {
		// Upstream-transient: treated as an empty result this cycle.
		zap.L().Warn("post search failed",
			zap.String("platform", adapter.Name()),
			zap.String("term", term),
			zap.Error(err),
		)
		return &termResult{}, nil
	}

	result := &termResult{}
	for _, post := range page.Posts {
		promoterID, enrolled := handles[promoter.NormalizeHandle(post.AuthorHandle)]
		if !enrolled {
			continue
		}
		if !camp.MatchesContent(post.Content) {
			continue
		}

		postSamples, scored, err := s.processPost(ctx, camp, adapter, post, promoterID, weights, bigAccounts)
		if err != nil {
			zap.L().Warn("post processing failed",
				zap.String("campaign_id", camp.ID),
				zap.String("post_id", post.ExternalID),
				zap.Error(err),
			)
			continue
		}
		result.samples = append(result.samples, postSamples...)
		result.scored = result.scored || scored
	}

	if page.Cursor != "" && page.Cursor != cursor {
		if err := s.saveCursor(ctx, camp.ID, adapter.Name(), term, "", "", page.Cursor); err != nil {
			zap.L().Warn("failed to persist search cursor", zap.Error(err))
		}
	}

	return result, nil
}

// processPost records the matched post if novel, then pulls its fresh
// engagements and applies the score delta. The engagement rows and the
// ledger snapshot commit in one transaction per post; the dedup insert
// and the snapshot write are atomic together.
func (s *Service) processPost(ctx context.Context, camp *campaign.Campaign, adapter platform.Adapter, post platform.Post, promoterID string, weights scoring.Weights, bigAccounts map[string]bool) ([]oversight.Sample, bool, error) {
	var samples []oversight.Sample

	newPost, err := s.recordPost(ctx, camp, post, promoterID)
	if err != nil {
		return nil, false, err
	}
	if newPost {
		samples = append(samples, oversight.Sample{PromoterID: promoterID, OccurredAt: post.PublishedAt})
		_ = s.publisher.Publish(ctx, events.NewPostTopic(camp.ID, post.Platform), post)
	}

	batch := s.fetchEngagements(ctx, camp, adapter, post)
	if len(batch) == 0 {
		return samples, false, nil
	}

	newOnes, snap, err := s.applyEngagements(ctx, camp, post, promoterID, batch, weights, bigAccounts)
	if err != nil {
		return samples, false, err
	}
	if len(newOnes) == 0 {
		return samples, false, nil
	}

	for _, e := range newOnes {
		_ = s.publisher.Publish(ctx, events.NewEngagementTopic(camp.ID, post.Platform), e)
	}
	if snap != nil {
		_ = s.publisher.Publish(ctx, events.PointsUpdatedTopic(camp.ID), map[string]any{
			"promoter_id": promoterID,
			"campaign_id": camp.ID,
			"value":       snap.Value,
			"percentage":  snap.Percentage,
		})
	}

	return samples, snap != nil, nil
}

// recordPost inserts the post row, reporting whether it was novel. The
// unique key absorbs races between concurrent workers.
func (s *Service) recordPost(ctx context.Context, camp *campaign.Campaign, post platform.Post, promoterID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&EngagementRecord{
			ID:           s.node.Generate().String(),
			Platform:     post.Platform,
			ExternalID:   post.ExternalID,
			CampaignID:   camp.ID,
			Kind:         KindPost,
			AuthorHandle: post.AuthorHandle,
			PromoterID:   promoterID,
			OccurredAt:   post.PublishedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// fetchEngagements pages every engagement type from its stored cursor.
// Per-type failures yield a partial batch, never an error.
func (s *Service) fetchEngagements(ctx context.Context, camp *campaign.Campaign, adapter platform.Adapter, post platform.Post) []platform.Engagement {
	var batch []platform.Engagement

	for _, kind := range platform.AllEngagementTypes {
		cursor, err := s.loadCursor(ctx, camp.ID, adapter.Name(), "", post.ExternalID, string(kind))
		if err != nil {
			zap.L().Warn("failed to load engagement cursor", zap.Error(err))
			continue
		}

		page, err := adapter.Engagements(ctx, post.ExternalID, kind, cursor, s.cfg.Ingest.PageLimit)
		if err != nil {
			zap.L().Warn("engagement fetch failed",
				zap.String("platform", adapter.Name()),
				zap.String("post_id", post.ExternalID),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			continue
		}

		batch = append(batch, page.Engagements...)

		if page.Cursor != "" && page.Cursor != cursor {
			if err := s.saveCursor(ctx, camp.ID, adapter.Name(), "", post.ExternalID, string(kind), page.Cursor); err != nil {
				zap.L().Warn("failed to persist engagement cursor", zap.Error(err))
			}
		}
	}

	return batch
}

// applyEngagements writes the novel engagement rows, the ledger deltas
// (campaign-scoped and global), the membership counter, and the
// activity feed in one transaction. Either everything persists or
// nothing does.
func (s *Service) applyEngagements(ctx context.Context, camp *campaign.Campaign, post platform.Post, promoterID string, batch []platform.Engagement, weights scoring.Weights, bigAccounts map[string]bool) ([]platform.Engagement, *ledger.Snapshot, error) {
	var (
		newOnes []platform.Engagement
		snap    *ledger.Snapshot
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		newOnes = newOnes[:0]

		var (
			fresh    []platform.Engagement
			recordID []string
		)
		for _, e := range batch {
			record := &EngagementRecord{
				ID:             s.node.Generate().String(),
				Platform:       post.Platform,
				ExternalID:     e.ExternalID,
				CampaignID:     camp.ID,
				Kind:           string(e.Type),
				AuthorHandle:   e.ActorHandle,
				PromoterID:     promoterID,
				PostExternalID: post.ExternalID,
				OccurredAt:     e.OccurredAt,
			}
			res := tx.WithContext(ctx).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(record)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			fresh = append(fresh, e)
			recordID = append(recordID, record.ID)
		}

		if len(fresh) == 0 {
			return nil
		}

		points := scoring.BatchPoints(fresh, weights, bigAccounts)
		var delta int64
		for _, p := range points {
			delta += int64(p)
		}

		if delta > 0 {
			var err error
			snap, err = s.scores.ApplyDelta(ctx, tx, camp.ID, promoterID, delta)
			if err != nil {
				return err
			}
			if _, err := s.scores.ApplyDelta(ctx, tx, "", promoterID, delta); err != nil {
				return err
			}
			if err := s.promoters.AddMembershipPoints(ctx, tx, camp.ID, promoterID, delta); err != nil {
				return err
			}
		}

		for i, e := range fresh {
			if points[i] > 0 {
				if err := tx.WithContext(ctx).Model(&EngagementRecord{}).
					Where("id = ?", recordID[i]).
					Update("points", points[i]).Error; err != nil {
					return err
				}
			}
			if err := s.scores.AppendActivity(ctx, tx, &ledger.Activity{
				CampaignID:     camp.ID,
				PromoterID:     promoterID,
				Platform:       post.Platform,
				PostExternalID: post.ExternalID,
				Kind:           string(e.Type),
				Points:         int64(points[i]),
			}); err != nil {
				return err
			}
		}

		newOnes = fresh
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return newOnes, snap, nil
}

// RescanRecent replays recent post records through the anomaly scan.
// Bursts that straddle two ingestion cycles are invisible to the
// per-cycle scan; the sweep catches them.
func (s *Service) RescanRecent(ctx context.Context) error {
	batches, err := s.recentSamples(ctx, time.Now().Add(-s.cfg.Oversight.ScanWindow))
	if err != nil {
		return err
	}

	total := 0
	for campaignID, samples := range batches {
		total += len(samples)
		if err := oversight.EnqueueScan(s.asynq, oversight.ScanPayload{
			CampaignID: campaignID,
			Samples:    samples,
		}); err != nil {
			zap.L().Error("failed to enqueue anomaly rescan",
				zap.String("campaign_id", campaignID),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("anomaly rescan enqueued",
		zap.Int("samples", total),
		zap.Int("campaigns", len(batches)),
	)
	return nil
}

// recentSamples collects post records created since the cutoff, batched
// per campaign. The sweep samples the same events the per-cycle scan
// does: the promoter's own matched posts, never third-party
// engagements.
func (s *Service) recentSamples(ctx context.Context, since time.Time) (map[string][]oversight.Sample, error) {
	var records []*EngagementRecord
	if err := s.db.WithContext(ctx).
		Where("kind = ?", KindPost).
		Where("created_at >= ?", since).
		Where("promoter_id <> ''").
		Find(&records).Error; err != nil {
		return nil, err
	}

	batches := make(map[string][]oversight.Sample)
	for _, r := range records {
		batches[r.CampaignID] = append(batches[r.CampaignID], oversight.Sample{
			PromoterID: r.PromoterID,
			OccurredAt: r.OccurredAt,
		})
	}
	return batches, nil
}

// cursorConditions pins every column of the source key. Empty strings
// are significant here: a term cursor carries an empty post id and
// kind, so a struct filter would silently drop them.
func cursorConditions(campaignID, platformName, term, postID, kind string) option.QueryOption {
	return option.ApplyOperator(
		option.Condition{Field: "campaign_id", Operator: option.EQ, Value: campaignID},
		option.Condition{Field: "platform", Operator: option.EQ, Value: platformName},
		option.Condition{Field: "term", Operator: option.EQ, Value: term},
		option.Condition{Field: "post_external_id", Operator: option.EQ, Value: postID},
		option.Condition{Field: "kind", Operator: option.EQ, Value: kind},
	)
}

func (s *Service) loadCursor(ctx context.Context, campaignID, platformName, term, postID, kind string) (string, error) {
	c, err := s.cursors.FindOne(ctx, nil, cursorConditions(campaignID, platformName, term, postID, kind))
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", nil
	}
	return c.Cursor, nil
}

func (s *Service) saveCursor(ctx context.Context, campaignID, platformName, term, postID, kind, cursor string) error {
	existing, err := s.cursors.FindOne(ctx, nil, cursorConditions(campaignID, platformName, term, postID, kind))
	if err != nil {
		return err
	}

	if existing == nil {
		return s.cursors.Create(ctx, &Continuation{
			ID:             s.node.Generate().String(),
			CampaignID:     campaignID,
			Platform:       platformName,
			Term:           term,
			PostExternalID: postID,
			Kind:           kind,
			Cursor:         cursor,
		})
	}

	return s.cursors.Update(ctx, existing.ID, map[string]any{
		"cursor":     cursor,
		"updated_at": time.Now(),
	})
}
