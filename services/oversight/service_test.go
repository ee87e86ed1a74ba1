package oversight

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"promoflow-engine/pkg/config"
	"promoflow-engine/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Record{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Oversight.MinInterval = time.Second

	return NewService(ServiceParams{DB: db, Node: node, Cfg: cfg})
}

func TestScanSamplesFlagsRapidFire(t *testing.T) {
	svc := newService(t)
	base := time.Now()

	// Two engagements 500ms apart.
	err := svc.ScanSamples(context.Background(), []Sample{
		{PromoterID: "promo-1", OccurredAt: base},
		{PromoterID: "promo-1", OccurredAt: base.Add(500 * time.Millisecond)},
	})
	require.NoError(t, err)

	rec, err := svc.Get(context.Background(), "promo-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, FlagHighFrequency, rec.BotDetection)
}

func TestScanSamplesIgnoresNormalCadence(t *testing.T) {
	svc := newService(t)
	base := time.Now()

	// Five seconds apart is fine.
	err := svc.ScanSamples(context.Background(), []Sample{
		{PromoterID: "promo-1", OccurredAt: base},
		{PromoterID: "promo-1", OccurredAt: base.Add(5 * time.Second)},
	})
	require.NoError(t, err)

	rec, err := svc.Get(context.Background(), "promo-1")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestScanSamplesUnorderedInput(t *testing.T) {
	svc := newService(t)
	base := time.Now()

	err := svc.ScanSamples(context.Background(), []Sample{
		{PromoterID: "promo-1", OccurredAt: base.Add(10 * time.Second)},
		{PromoterID: "promo-1", OccurredAt: base.Add(200 * time.Millisecond)},
		{PromoterID: "promo-1", OccurredAt: base},
	})
	require.NoError(t, err)

	rec, err := svc.Get(context.Background(), "promo-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, FlagHighFrequency, rec.BotDetection)
}

func TestFlagPreservesOtherSignals(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Flag(ctx, "promo-1", "bot_detection", FlagHighFrequency))
	require.NoError(t, svc.Flag(ctx, "promo-1", "sockpuppet_filters", FlagSameIP))

	rec, err := svc.Get(ctx, "promo-1")
	require.NoError(t, err)
	require.Equal(t, FlagHighFrequency, rec.BotDetection)
	require.Equal(t, FlagSameIP, rec.SockpuppetFilters)
}

func TestFlagSameIPMarksAllSides(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.FlagSameIP(ctx, "promo-1", "promo-2"))

	for _, id := range []string{"promo-1", "promo-2"} {
		rec, err := svc.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, FlagSameIP, rec.SockpuppetFilters)
	}
}

func TestFlaggedListsAnomalousRecords(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Flag(ctx, "promo-1", "bot_detection", FlagHighFrequency))
	require.NoError(t, svc.Flag(ctx, "promo-2", "ban_status", "banned"))

	flagged, err := svc.Flagged(ctx)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	require.Equal(t, "promo-1", flagged[0].PromoterID)
}
