package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"promoflow-engine/pkg/db/option"
	"promoflow-engine/pkg/repository"
	"promoflow-engine/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	withTrxFn     func(tx *gorm.DB) repository.Repository[T]
	findFn        func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	findOneFn     func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	createFn      func(ctx context.Context, resource *T) error
	updateFn      func(ctx context.Context, resourceID string, resource any) error
	batchCreateFn func(ctx context.Context, resources []*T) error
	countFn       func(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] {
	if m.withTrxFn != nil {
		return m.withTrxFn(tx)
	}
	return m
}

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error {
	if m.createFn != nil {
		return m.createFn(ctx, resource)
	}
	return nil
}

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, resourceID, resource)
	}
	return nil
}

func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if m.batchCreateFn != nil {
		return m.batchCreateFn(ctx, resources)
	}
	return nil
}

func (m *repoMock[T]) Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, query, opts...)
	}
	return 0, nil
}

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func TestNewService(t *testing.T) {
	db := testutil.NewTestDB(t, &Snapshot{}, &Activity{})
	svc := NewService(ServiceParams{DB: db, Node: newNode(t)})

	require.NotNil(t, svc.snapshot)
	require.NotNil(t, svc.activity)
}

func TestApplyDeltaFirstSnapshot(t *testing.T) {
	db := testutil.NewTestDB(t, &Snapshot{})

	var created *Snapshot
	svc := &Service{
		db:   db,
		node: newNode(t),
		snapshot: &repoMock[Snapshot]{
			createFn: func(ctx context.Context, s *Snapshot) error {
				created = s
				return nil
			},
		},
	}

	snap, err := svc.RecordDelta(context.Background(), "camp-1", "promo-1", 8)
	require.NoError(t, err)
	require.NotNil(t, created)
	require.True(t, snap.IsFirst)
	require.True(t, snap.IsLatest)
	require.Equal(t, int64(8), snap.Value)
	require.Equal(t, int64(8), snap.Delta)
	require.Equal(t, "GENESIS", snap.PreviousHash)
	require.Equal(t, snap.GenerateHash(), snap.Hash)
}

func TestApplyDeltaChainsFromPrior(t *testing.T) {
	db := testutil.NewTestDB(t, &Snapshot{})

	prior := &Snapshot{
		ID:           "snap-1",
		CampaignID:   "camp-1",
		PromoterID:   "promo-1",
		Value:        10,
		Delta:        10,
		IsFirst:      true,
		IsLatest:     true,
		PreviousHash: "GENESIS",
		CreatedAt:    time.Now().Add(-time.Hour),
	}
	prior.Hash = prior.GenerateHash()
	require.NoError(t, db.Create(prior).Error)

	findPrior := func(ctx context.Context, _ *Snapshot, _ ...option.QueryOption) (*Snapshot, error) {
		return prior, nil
	}
	svc := &Service{
		db:   db,
		node: newNode(t),
		snapshot: &repoMock[Snapshot]{
			findOneFn: findPrior,
			// The single test connection is held by the transaction,
			// so the insert must go through it.
			withTrxFn: func(tx *gorm.DB) repository.Repository[Snapshot] {
				return &repoMock[Snapshot]{
					findOneFn: findPrior,
					createFn: func(ctx context.Context, s *Snapshot) error {
						return tx.Create(s).Error
					},
				}
			},
		},
	}

	snap, err := svc.RecordDelta(context.Background(), "camp-1", "promo-1", -3)
	require.NoError(t, err)
	require.False(t, snap.IsFirst)
	require.Equal(t, int64(7), snap.Value)
	require.Equal(t, int64(-3), snap.Delta)
	require.Equal(t, prior.Hash, snap.PreviousHash)

	// Prior latest must be demoted; exactly one row stays latest.
	var latest []Snapshot
	require.NoError(t, db.Where("is_latest = ?", true).Find(&latest).Error)
	require.Len(t, latest, 1)
	require.Equal(t, snap.ID, latest[0].ID)
}

func TestLatestSlotIsUnique(t *testing.T) {
	db := testutil.NewTestDB(t, &Snapshot{})

	seedSnapshot(t, db, "camp-1", "promo-1", 10, true, true, time.Now())

	dup := &Snapshot{
		ID:           "snap-dup",
		CampaignID:   "camp-1",
		PromoterID:   "promo-1",
		Value:        12,
		IsLatest:     true,
		PreviousHash: "GENESIS",
		CreatedAt:    time.Now(),
	}
	err := db.Create(dup).Error
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// Demoted history rows for the pair are unconstrained.
	old := &Snapshot{
		ID:         "snap-old",
		CampaignID: "camp-1",
		PromoterID: "promo-1",
		Value:      8,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, db.Create(old).Error)
}

func TestApplyDeltaRetriesOnLatestConflict(t *testing.T) {
	db := testutil.NewTestDB(t, &Snapshot{})

	winner := &Snapshot{
		ID:           "snap-raced",
		CampaignID:   "camp-1",
		PromoterID:   "promo-1",
		Value:        5,
		Delta:        5,
		IsFirst:      true,
		IsLatest:     true,
		PreviousHash: "GENESIS",
		CreatedAt:    time.Now(),
	}
	winner.Hash = winner.GenerateHash()

	var (
		attempts int
		created  *Snapshot
	)
	mock := &repoMock[Snapshot]{}
	mock.withTrxFn = func(tx *gorm.DB) repository.Repository[Snapshot] {
		return mock
	}
	mock.findOneFn = func(ctx context.Context, _ *Snapshot, _ ...option.QueryOption) (*Snapshot, error) {
		if attempts == 0 {
			// The concurrent writer has not surfaced yet.
			return nil, nil
		}
		return winner, nil
	}
	mock.createFn = func(ctx context.Context, s *Snapshot) error {
		attempts++
		if attempts == 1 {
			// Latest slot claimed between our read and our write.
			return gorm.ErrDuplicatedKey
		}
		created = s
		return nil
	}

	svc := &Service{db: db, node: newNode(t), snapshot: mock}

	snap, err := svc.RecordDelta(context.Background(), "camp-1", "promo-1", 3)
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.NotNil(t, created)
	require.False(t, snap.IsFirst)
	require.Equal(t, int64(8), snap.Value)
	require.Equal(t, winner.Hash, snap.PreviousHash)
}

func TestApplyDeltaToleratesPercentageFailure(t *testing.T) {
	// No snapshot table: the stored-share query fails while the append
	// itself goes through the mock.
	db := testutil.NewTestDB(t)

	var created *Snapshot
	svc := &Service{
		db:   db,
		node: newNode(t),
		snapshot: &repoMock[Snapshot]{
			createFn: func(ctx context.Context, s *Snapshot) error {
				created = s
				return nil
			},
		},
	}

	snap, err := svc.RecordDelta(context.Background(), "camp-1", "promo-1", 8)
	require.NoError(t, err)
	require.NotNil(t, created)
	require.Equal(t, int64(8), snap.Value)
	require.Zero(t, snap.Percentage)
}

func seedSnapshot(t *testing.T, db *gorm.DB, campaignID, promoterID string, value int64, isFirst, isLatest bool, at time.Time) *Snapshot {
	t.Helper()
	snap := &Snapshot{
		ID:           promoterID + "-" + at.UTC().Format(time.RFC3339Nano),
		CampaignID:   campaignID,
		PromoterID:   promoterID,
		Value:        value,
		IsFirst:      isFirst,
		IsLatest:     isLatest,
		PreviousHash: "GENESIS",
		CreatedAt:    at,
	}
	snap.Hash = snap.GenerateHash()
	require.NoError(t, db.Create(snap).Error)
	return snap
}

func newReadService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &Snapshot{}, &Activity{})
	return NewService(ServiceParams{DB: db, Node: newNode(t)}), db
}

func TestLatestSeparatesGlobalScope(t *testing.T) {
	svc, db := newReadService(t)
	now := time.Now()

	seedSnapshot(t, db, "camp-1", "promo-1", 50, true, true, now)
	seedSnapshot(t, db, "", "promo-1", 120, true, true, now)

	scoped, err := svc.Latest(context.Background(), "camp-1", "promo-1")
	require.NoError(t, err)
	require.Equal(t, int64(50), scoped.Value)

	global, err := svc.Latest(context.Background(), "", "promo-1")
	require.NoError(t, err)
	require.Equal(t, int64(120), global.Value)
}

func TestNormalizedPercentagesSumToHundred(t *testing.T) {
	svc, db := newReadService(t)
	now := time.Now()

	seedSnapshot(t, db, "camp-1", "promo-1", 1, true, true, now)
	seedSnapshot(t, db, "camp-1", "promo-2", 1, true, true, now)
	seedSnapshot(t, db, "camp-1", "promo-3", 1, true, true, now)

	pct, err := svc.NormalizedPercentages(context.Background(), "camp-1")
	require.NoError(t, err)
	require.InDelta(t, 33.33, pct["promo-1"], 0.001)
	require.InDelta(t, 33.33, pct["promo-2"], 0.001)
	require.InDelta(t, 33.33, pct["promo-3"], 0.001)

	var sum float64
	for _, v := range pct {
		sum += v
	}
	require.InDelta(t, 100, sum, 0.05)
}

func TestNormalizedPercentagesZeroTotal(t *testing.T) {
	svc, db := newReadService(t)
	now := time.Now()

	seedSnapshot(t, db, "camp-1", "promo-1", 0, true, true, now)
	seedSnapshot(t, db, "camp-1", "promo-2", 0, true, true, now)

	pct, err := svc.NormalizedPercentages(context.Background(), "camp-1")
	require.NoError(t, err)
	require.Equal(t, float64(0), pct["promo-1"])
	require.Equal(t, float64(0), pct["promo-2"])
}

func TestGainLossRanking(t *testing.T) {
	svc, db := newReadService(t)
	start := time.Now().Add(-48 * time.Hour)
	now := time.Now()

	// promo-1 gained 30, promo-2 gained 10, promo-3 lost 5.
	seedSnapshot(t, db, "camp-1", "promo-1", 10, true, false, start)
	seedSnapshot(t, db, "camp-1", "promo-1", 40, false, true, now)
	seedSnapshot(t, db, "camp-1", "promo-2", 5, true, false, start)
	seedSnapshot(t, db, "camp-1", "promo-2", 15, false, true, now)
	seedSnapshot(t, db, "camp-1", "promo-3", 20, true, false, start)
	seedSnapshot(t, db, "camp-1", "promo-3", 15, false, true, now)

	gainers, losers, err := svc.GainLoss(context.Background(), "camp-1")
	require.NoError(t, err)

	require.Equal(t, "promo-1", gainers[0].PromoterID)
	require.Equal(t, int64(30), gainers[0].Gain)
	require.Equal(t, "promo-2", gainers[1].PromoterID)

	require.Equal(t, "promo-3", losers[0].PromoterID)
	require.Equal(t, int64(-5), losers[0].Gain)
}

func TestScoreboardAllRanksByValue(t *testing.T) {
	svc, db := newReadService(t)
	now := time.Now()

	seedSnapshot(t, db, "camp-1", "promo-1", 10, true, true, now)
	seedSnapshot(t, db, "camp-1", "promo-2", 30, true, true, now)
	seedSnapshot(t, db, "camp-1", "promo-3", 20, true, true, now)

	board, err := svc.Scoreboard(context.Background(), "camp-1", WindowAll)
	require.NoError(t, err)
	require.Len(t, board, 3)
	require.Equal(t, "promo-2", board[0].PromoterID)
	require.Equal(t, "promo-3", board[1].PromoterID)
	require.Equal(t, "promo-1", board[2].PromoterID)
}

func TestScoreboardTrailingWindow(t *testing.T) {
	svc, db := newReadService(t)
	now := time.Now()
	old := now.AddDate(0, 0, -30)

	// promo-1 holds more points but gained nothing this week;
	// promo-2 earned everything recently.
	seedSnapshot(t, db, "camp-1", "promo-1", 100, true, false, old)
	seedSnapshot(t, db, "camp-1", "promo-1", 100, false, true, now)
	seedSnapshot(t, db, "camp-1", "promo-2", 0, true, false, old)
	seedSnapshot(t, db, "camp-1", "promo-2", 50, false, true, now)

	board, err := svc.Scoreboard(context.Background(), "camp-1", WindowWeek)
	require.NoError(t, err)
	require.Equal(t, "promo-2", board[0].PromoterID)
	require.Equal(t, int64(50), board[0].WindowGains[WindowWeek])
	require.Equal(t, "promo-1", board[1].PromoterID)
	require.Equal(t, int64(0), board[1].WindowGains[WindowWeek])
}

func TestWindowCutoffIsInThePast(t *testing.T) {
	now := time.Now()
	for _, w := range []Window{WindowWeek, WindowMonth, Window3Month, Window6Month, WindowYear} {
		cutoff, ok := w.Cutoff(now)
		require.True(t, ok)
		require.True(t, cutoff.Before(now), "window %s", w)
	}

	_, ok := WindowAll.Cutoff(now)
	require.False(t, ok)
}

func TestVerifyChain(t *testing.T) {
	svc, db := newReadService(t)

	first := &Snapshot{
		ID:           "snap-1",
		CampaignID:   "camp-1",
		PromoterID:   "promo-1",
		Value:        10,
		Delta:        10,
		IsFirst:      true,
		PreviousHash: "GENESIS",
		CreatedAt:    time.Now().Add(-time.Hour),
	}
	first.Hash = first.GenerateHash()
	require.NoError(t, db.Create(first).Error)

	second := &Snapshot{
		ID:           "snap-2",
		CampaignID:   "camp-1",
		PromoterID:   "promo-1",
		Value:        18,
		Delta:        8,
		IsLatest:     true,
		PreviousHash: first.Hash,
		CreatedAt:    time.Now(),
	}
	second.Hash = second.GenerateHash()
	require.NoError(t, db.Create(second).Error)

	valid, err := svc.VerifyChain(context.Background(), "camp-1", "promo-1")
	require.NoError(t, err)
	require.True(t, valid)

	// Tampering with a stored value breaks verification.
	require.NoError(t, db.Model(&Snapshot{}).Where("id = ?", "snap-2").Update("value", 999).Error)

	valid, err = svc.VerifyChain(context.Background(), "camp-1", "promo-1")
	require.NoError(t, err)
	require.False(t, valid)
}

func TestAppendActivityRequiresPair(t *testing.T) {
	svc, db := newReadService(t)

	err := svc.AppendActivity(context.Background(), db, &Activity{CampaignID: "camp-1"})
	require.Error(t, err)

	err = svc.AppendActivity(context.Background(), db, &Activity{
		CampaignID: "camp-1",
		PromoterID: "promo-1",
		Kind:       "quote",
		Points:     3,
	})
	require.NoError(t, err)
}

func TestRecentActivitySpansCampaigns(t *testing.T) {
	svc, db := newReadService(t)
	ctx := context.Background()

	for i, campaignID := range []string{"camp-1", "camp-2", "camp-1"} {
		err := svc.AppendActivity(ctx, db, &Activity{
			CampaignID: campaignID,
			PromoterID: "promo-1",
			Kind:       "quote",
			Points:     int64(i + 1),
		})
		require.NoError(t, err)
	}
	err := svc.AppendActivity(ctx, db, &Activity{
		CampaignID: "camp-1",
		PromoterID: "promo-2",
		Kind:       "repost",
		Points:     1,
	})
	require.NoError(t, err)

	rows, err := svc.RecentActivity(ctx, "promo-1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		require.Equal(t, "promo-1", row.PromoterID)
	}

	limited, err := svc.RecentActivity(ctx, "promo-1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}
