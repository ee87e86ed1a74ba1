package ledger

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"promoflow-engine/pkg/db/option"
	"promoflow-engine/pkg/db/pagination"
	"promoflow-engine/pkg/errutil"
	"promoflow-engine/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const genesisHash = "GENESIS"

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	snapshot repository.Repository[Snapshot]
	activity repository.Repository[Activity]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		snapshot: repository.ProvideStore[Snapshot](p.DB),
		activity: repository.ProvideStore[Activity](p.DB),
	}
}

// RecordDelta appends a snapshot for the pair inside its own
// transaction: new value = prior latest + delta, prior latest demoted,
// exactly one row left latest.
func (s *Service) RecordDelta(ctx context.Context, campaignID, promoterID string, delta int64) (*Snapshot, error) {
	var snap *Snapshot
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		snap, err = s.ApplyDelta(ctx, tx, campaignID, promoterID, delta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// applyDeltaAttempts bounds the latest-slot conflict retries.
const applyDeltaAttempts = 3

// ApplyDelta is the transactional core of RecordDelta, composable into
// a caller-owned transaction so a score change and its engagement
// record commit or roll back together. The prior latest row is read
// under a row lock, but the lock serializes nothing while the pair has
// no rows yet, and under READ COMMITTED a writer that waited on the
// lock can re-evaluate to zero rows after the holder demotes and
// commits. The latest-slot unique index catches both interleavings;
// each attempt runs in a savepoint so the conflicted insert rolls back
// cleanly and the retry chains from the row the winner left behind.
func (s *Service) ApplyDelta(ctx context.Context, tx *gorm.DB, campaignID, promoterID string, delta int64) (*Snapshot, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("campaign_id", campaignID),
		zap.String("promoter_id", promoterID),
	}

	var snap *Snapshot
	for attempt := 1; ; attempt++ {
		err := tx.Transaction(func(inner *gorm.DB) error {
			var err error
			snap, err = s.applyDeltaOnce(ctx, inner, campaignID, promoterID, delta, opts)
			return err
		})
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) || attempt == applyDeltaAttempts {
			return nil, err
		}
		zap.L().With(opts...).Warn("latest snapshot changed underneath, retrying",
			zap.Int("attempt", attempt))
	}
}

func (s *Service) applyDeltaOnce(ctx context.Context, tx *gorm.DB, campaignID, promoterID string, delta int64, opts []zap.Field) (*Snapshot, error) {
	snapshotTx := s.snapshot.WithTrx(tx)

	prior, err := snapshotTx.FindOne(ctx, nil,
		pairConditions(campaignID, promoterID),
		option.ApplyOperator(option.Condition{Field: "is_latest", Operator: option.EQ, Value: true}),
		option.WithLockingUpdate())
	if err != nil {
		zap.L().With(opts...).Error("failed to read latest snapshot", zap.Error(err))
		return nil, err
	}

	var (
		priorValue   int64
		previousHash = genesisHash
		isFirst      = prior == nil
	)
	if prior != nil {
		priorValue = prior.Value
		previousHash = prior.Hash
	}

	snap := &Snapshot{
		ID:           s.node.Generate().String(),
		CampaignID:   campaignID,
		PromoterID:   promoterID,
		Value:        priorValue + delta,
		Delta:        delta,
		IsFirst:      isFirst,
		IsLatest:     true,
		PreviousHash: previousHash,
		CreatedAt:    time.Now(),
	}
	snap.Hash = snap.GenerateHash()

	if prior != nil {
		if err := tx.WithContext(ctx).Model(&Snapshot{}).
			Where("id = ?", prior.ID).
			Update("is_latest", false).Error; err != nil {
			zap.L().With(opts...).Error("failed to demote prior snapshot", zap.Error(err))
			return nil, err
		}
	}

	if err := snapshotTx.Create(ctx, snap); err != nil {
		zap.L().With(opts...).Error("failed to append snapshot", zap.Error(err))
		return nil, err
	}

	// Stored percentage reflects the campaign total at write time;
	// NormalizedPercentages recomputes fresh values at read time, so a
	// failure here costs a stale stored share, not the snapshot.
	if campaignID != "" {
		pct, err := s.percentageForTx(ctx, tx, campaignID, snap.Value)
		if err != nil {
			zap.L().With(opts...).Error("failed to compute stored percentage", zap.Error(err))
			return snap, nil
		}
		snap.Percentage = pct
		if err := tx.WithContext(ctx).Model(&Snapshot{}).
			Where("id = ?", snap.ID).
			Update("percentage", pct).Error; err != nil {
			return nil, err
		}
	}

	return snap, nil
}

func (s *Service) percentageForTx(ctx context.Context, tx *gorm.DB, campaignID string, value int64) (float64, error) {
	var total int64
	if err := tx.WithContext(ctx).Model(&Snapshot{}).
		Where("campaign_id = ? AND is_latest = ?", campaignID, true).
		Select("COALESCE(SUM(value), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return normalizePercentage(value, total), nil
}

// normalizePercentage returns value/total as a two-decimal percent,
// 0 when the total is zero.
func normalizePercentage(value, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(value)/float64(total)*10000) / 100
}

// pairConditions pins the (campaign, promoter) pair explicitly. An
// empty campaign id means the global scope and must not be dropped the
// way a zero-value struct field would be.
func pairConditions(campaignID, promoterID string) option.QueryOption {
	return option.ApplyOperator(
		option.Condition{Field: "campaign_id", Operator: option.EQ, Value: campaignID},
		option.Condition{Field: "promoter_id", Operator: option.EQ, Value: promoterID},
	)
}

func (s *Service) Latest(ctx context.Context, campaignID, promoterID string) (*Snapshot, error) {
	return s.snapshot.FindOne(ctx, nil,
		pairConditions(campaignID, promoterID),
		option.ApplyOperator(option.Condition{Field: "is_latest", Operator: option.EQ, Value: true}),
	)
}

// First returns the earliest snapshot for the pair, the gain/loss
// baseline.
func (s *Service) First(ctx context.Context, campaignID, promoterID string) (*Snapshot, error) {
	return s.snapshot.FindOne(ctx, nil,
		pairConditions(campaignID, promoterID),
		option.ApplyOperator(option.Condition{Field: "is_first", Operator: option.EQ, Value: true}),
	)
}

// AsOf returns the pair's latest snapshot at or before the cutoff, nil
// if the pair has no history that old.
func (s *Service) AsOf(ctx context.Context, campaignID, promoterID string, cutoff time.Time) (*Snapshot, error) {
	return s.snapshot.FindOne(ctx, nil,
		pairConditions(campaignID, promoterID),
		option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.LTE, Value: cutoff}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
	)
}

// LatestByCampaign returns the current snapshot of every promoter in
// the campaign.
func (s *Service) LatestByCampaign(ctx context.Context, campaignID string) ([]*Snapshot, error) {
	return s.snapshot.Find(ctx, &Snapshot{CampaignID: campaignID, IsLatest: true})
}

// NormalizedPercentages recomputes each promoter's two-decimal share of
// the campaign total. A zero total yields all zeros, never a division
// by zero.
func (s *Service) NormalizedPercentages(ctx context.Context, campaignID string) (map[string]float64, error) {
	latest, err := s.LatestByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, snap := range latest {
		total += snap.Value
	}

	percentages := make(map[string]float64, len(latest))
	for _, snap := range latest {
		percentages[snap.PromoterID] = normalizePercentage(snap.Value, total)
	}
	return percentages, nil
}

// GainLoss ranks promoters by gain = current − first and returns the
// top-10 gainers (descending) and top-10 losers (ascending), each
// annotated with trailing-window gains.
func (s *Service) GainLoss(ctx context.Context, campaignID string) (gainers, losers []*Standing, err error) {
	standings, err := s.standings(ctx, campaignID, time.Now())
	if err != nil {
		return nil, nil, err
	}

	sort.SliceStable(standings, func(i, j int) bool { return standings[i].Gain > standings[j].Gain })
	gainers = topN(standings, 10)

	reversed := make([]*Standing, len(standings))
	copy(reversed, standings)
	sort.SliceStable(reversed, func(i, j int) bool { return reversed[i].Gain < reversed[j].Gain })
	losers = topN(reversed, 10)

	return gainers, losers, nil
}

func topN(standings []*Standing, n int) []*Standing {
	if len(standings) > n {
		return standings[:n]
	}
	return standings
}

func (s *Service) standings(ctx context.Context, campaignID string, now time.Time) ([]*Standing, error) {
	latest, err := s.LatestByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, snap := range latest {
		total += snap.Value
	}

	windows := []Window{WindowWeek, WindowMonth, Window3Month, Window6Month, WindowYear}

	standings := make([]*Standing, 0, len(latest))
	for _, snap := range latest {
		first, err := s.First(ctx, campaignID, snap.PromoterID)
		if err != nil {
			return nil, err
		}

		standing := &Standing{
			PromoterID:  snap.PromoterID,
			Value:       snap.Value,
			Percentage:  normalizePercentage(snap.Value, total),
			WindowGains: make(map[Window]int64, len(windows)),
		}
		if first != nil {
			standing.Gain = snap.Value - first.Value
		}

		for _, w := range windows {
			cutoff, ok := w.Cutoff(now)
			if !ok {
				continue
			}
			asOf, err := s.AsOf(ctx, campaignID, snap.PromoterID, cutoff)
			if err != nil {
				return nil, err
			}
			if asOf == nil {
				standing.WindowGains[w] = 0
				continue
			}
			standing.WindowGains[w] = snap.Value - asOf.Value
		}

		standings = append(standings, standing)
	}

	return standings, nil
}

// Scoreboard ranks a campaign's promoters. WindowAll ranks by current
// value; a trailing window ranks by points gained since its cutoff.
func (s *Service) Scoreboard(ctx context.Context, campaignID string, window Window) ([]*Standing, error) {
	now := time.Now()
	standings, err := s.standings(ctx, campaignID, now)
	if err != nil {
		return nil, err
	}

	_, windowed := window.Cutoff(now)
	if !windowed {
		sort.SliceStable(standings, func(i, j int) bool { return standings[i].Value > standings[j].Value })
		return standings, nil
	}

	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].WindowGains[window] > standings[j].WindowGains[window]
	})
	return standings, nil
}

// VerifyChain walks a pair's snapshots oldest first and checks both the
// stored hash and the previous-hash link.
func (s *Service) VerifyChain(ctx context.Context, campaignID, promoterID string) (bool, error) {
	entries, err := s.snapshot.Find(ctx, nil,
		pairConditions(campaignID, promoterID),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc", Allow: map[string]bool{"created_at": true}}))
	if err != nil {
		return false, err
	}

	lastHash := genesisHash
	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() || entry.PreviousHash != lastHash {
			return false, nil
		}
		lastHash = entry.Hash
	}

	return true, nil
}

// Activities pages through a campaign's feed, newest first.
func (s *Service) Activities(ctx context.Context, campaignID string, page pagination.Pagination) ([]*Activity, *pagination.PageInfo, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 10
	}

	tx := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at DESC, id DESC").
		Limit(limit + 1)

	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		tx = tx.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var activities []*Activity
	if err := tx.Find(&activities).Error; err != nil {
		return nil, nil, err
	}

	info := pagination.BuildCursorPageInfo(activities, int32(limit), func(a *Activity) string {
		c, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        a.ID,
		})
		return c
	})
	if len(activities) > limit {
		activities = activities[:limit]
	}

	return activities, info, nil
}

// RecentActivity returns a promoter's newest feed rows across all
// campaigns, for the dashboard.
func (s *Service) RecentActivity(ctx context.Context, promoterID string, limit int) ([]*Activity, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.activity.Find(ctx, &Activity{PromoterID: promoterID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
		option.WithLimit(limit),
	)
}

// AppendActivity writes one feed row inside the caller's transaction.
func (s *Service) AppendActivity(ctx context.Context, tx *gorm.DB, a *Activity) error {
	if a.CampaignID == "" || a.PromoterID == "" {
		return errutil.BadRequest("activity requires campaign and promoter", nil)
	}
	a.ID = s.node.Generate().String()
	return s.activity.WithTrx(tx).Create(ctx, a)
}
