package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"promoflow-engine/pkg/config"
	"promoflow-engine/pkg/repository"
	"promoflow-engine/services/campaign"
	"promoflow-engine/services/ledger"
	"promoflow-engine/services/oversight"
	"promoflow-engine/services/platform"
	"promoflow-engine/services/promoter"
	"promoflow-engine/services/scoring"
	"promoflow-engine/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeAdapter struct {
	name     string
	searchFn func(ctx context.Context, term, cursor string, limit int) (*platform.PostPage, error)
	engageFn func(ctx context.Context, postID string, kind platform.EngagementType, cursor string, limit int) (*platform.EngagementPage, error)
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) SearchPosts(ctx context.Context, term, cursor string, limit int) (*platform.PostPage, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, term, cursor, limit)
	}
	return &platform.PostPage{}, nil
}

func (f *fakeAdapter) Engagements(ctx context.Context, postID string, kind platform.EngagementType, cursor string, limit int) (*platform.EngagementPage, error) {
	if f.engageFn != nil {
		return f.engageFn(ctx, postID, kind, cursor, limit)
	}
	return &platform.EngagementPage{}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakePublisher) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type env struct {
	db        *gorm.DB
	svc       *Service
	publisher *fakePublisher
	campaigns *campaign.Service
	promoters *promoter.Service
	scores    *ledger.Service

	camp    *campaign.Campaign
	aliceID string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db := testutil.NewTestDB(t,
		&campaign.Campaign{}, &campaign.Pool{},
		&promoter.Promoter{}, &promoter.SocialAccount{}, &promoter.Membership{},
		&oversight.Record{},
		&ledger.Snapshot{}, &ledger.Activity{},
		&EngagementRecord{}, &Continuation{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Ingest.Concurrency = 2
	cfg.Ingest.PageLimit = 100
	cfg.Ingest.MemberTTL = time.Minute
	cfg.Oversight.MinInterval = time.Second

	watch := oversight.NewService(oversight.ServiceParams{DB: db, Node: node, Cfg: cfg})
	campaigns := campaign.NewService(campaign.ServiceParams{DB: db, Node: node})
	promoters := promoter.NewService(promoter.ServiceParams{DB: db, Node: node, Oversight: watch, Campaigns: campaigns})
	scores := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	publisher := &fakePublisher{}

	svc := &Service{
		db:   db,
		node: node,
		cfg:  cfg,
		weights: scoring.Weights{
			Quote:             3,
			Comment:           2,
			Repost:            1,
			VerifiedBonus:     10,
			BigAccountBonus:   5,
			MatureAccountDays: 365,
			MatureBonus:       3,
		},
		campaigns: campaigns,
		promoters: promoters,
		scores:    scores,
		publisher: publisher,
		members:   newMemberCache(cfg.Ingest.MemberTTL),
		cursors:   repository.ProvideStore[Continuation](db),
	}

	ctx := context.Background()

	camp, err := campaigns.Create(ctx, campaign.CreateCampaignRequest{
		OwnerID:   "owner-1",
		Name:      "Token Launch",
		Hashtags:  []string{"#launch"},
		Platforms: []string{"farcaster"},
	})
	require.NoError(t, err)
	require.NoError(t, campaigns.SetStatus(ctx, camp.ID, campaign.StatusActive))

	alice, err := promoters.Register(ctx, promoter.RegisterRequest{WalletAddress: "0xalice"})
	require.NoError(t, err)
	_, err = promoters.LinkSocial(ctx, promoter.LinkSocialRequest{
		PromoterID: alice.ID,
		Platform:   "farcaster",
		Handle:     "@Alice",
	})
	require.NoError(t, err)
	_, err = promoters.Enroll(ctx, camp.ID, alice.ID, "")
	require.NoError(t, err)

	return &env{
		db:        db,
		svc:       svc,
		publisher: publisher,
		campaigns: campaigns,
		promoters: promoters,
		scores:    scores,
		camp:      camp,
		aliceID:   alice.ID,
	}
}

func alicePost(content string) platform.Post {
	return platform.Post{
		Platform:     "farcaster",
		ExternalID:   "post-1",
		AuthorHandle: "alice",
		Content:      content,
		PublishedAt:  time.Now().Add(-time.Hour),
	}
}

func quoteAndComments() []platform.Engagement {
	occurred := time.Now().Add(-30 * time.Minute)
	return []platform.Engagement{
		{Type: platform.EngagementQuote, ExternalID: "eng-1", PostID: "post-1", ActorHandle: "u1", OccurredAt: occurred},
		{Type: platform.EngagementQuote, ExternalID: "eng-2", PostID: "post-1", ActorHandle: "u2", OccurredAt: occurred},
		{Type: platform.EngagementComment, ExternalID: "eng-3", PostID: "post-1", ActorHandle: "u3", OccurredAt: occurred},
	}
}

func (e *env) adapterWith(post platform.Post, engagements []platform.Engagement) *fakeAdapter {
	return &fakeAdapter{
		name: "farcaster",
		searchFn: func(ctx context.Context, term, cursor string, limit int) (*platform.PostPage, error) {
			return &platform.PostPage{Posts: []platform.Post{post}}, nil
		},
		engageFn: func(ctx context.Context, postID string, kind platform.EngagementType, cursor string, limit int) (*platform.EngagementPage, error) {
			var matched []platform.Engagement
			for _, eng := range engagements {
				if eng.Type == kind {
					matched = append(matched, eng)
				}
			}
			return &platform.EngagementPage{Engagements: matched}, nil
		},
	}
}

func (e *env) runTerm(t *testing.T, adapter platform.Adapter) *termResult {
	t.Helper()
	res, err := e.svc.processTerm(context.Background(), e.camp, adapter,
		"launch", e.svc.weights, nil)
	require.NoError(t, err)
	return res
}

func TestProcessTermScoresMatchingPost(t *testing.T) {
	e := newEnv(t)
	adapter := e.adapterWith(alicePost("gm, the #launch is live"), quoteAndComments())

	res := e.runTerm(t, adapter)
	require.True(t, res.scored)
	require.Len(t, res.samples, 1)

	// Two quotes and one comment: 2*3 + 1*2.
	snap, err := e.scores.Latest(context.Background(), e.camp.ID, e.aliceID)
	require.NoError(t, err)
	require.Equal(t, int64(8), snap.Value)

	global, err := e.scores.Latest(context.Background(), "", e.aliceID)
	require.NoError(t, err)
	require.Equal(t, int64(8), global.Value)

	m, err := e.promoters.Membership(context.Background(), e.camp.ID, e.aliceID)
	require.NoError(t, err)
	require.Equal(t, int64(8), m.Points)

	var records int64
	require.NoError(t, e.db.Model(&EngagementRecord{}).Count(&records).Error)
	require.Equal(t, int64(4), records) // the post plus three engagements
}

func TestProcessTermIsIdempotent(t *testing.T) {
	e := newEnv(t)
	adapter := e.adapterWith(alicePost("the #launch is live"), quoteAndComments())

	e.runTerm(t, adapter)
	res := e.runTerm(t, adapter)
	require.False(t, res.scored)

	snap, err := e.scores.Latest(context.Background(), e.camp.ID, e.aliceID)
	require.NoError(t, err)
	require.Equal(t, int64(8), snap.Value)

	var records int64
	require.NoError(t, e.db.Model(&EngagementRecord{}).Count(&records).Error)
	require.Equal(t, int64(4), records)

	// Only the first pass published anything.
	require.Equal(t, 1, e.publisher.count("NEW_POST_"+e.camp.ID+"_farcaster"))
	require.Equal(t, 3, e.publisher.count("NEW_ENGAGEMENT_"+e.camp.ID+"_farcaster"))
	require.Equal(t, 1, e.publisher.count("POINTS_UPDATED_"+e.camp.ID))
}

func TestProcessTermSkipsNonMembers(t *testing.T) {
	e := newEnv(t)
	stranger := alicePost("I also love the #launch")
	stranger.AuthorHandle = "mallory"
	adapter := e.adapterWith(stranger, quoteAndComments())

	res := e.runTerm(t, adapter)
	require.False(t, res.scored)

	var records int64
	require.NoError(t, e.db.Model(&EngagementRecord{}).Count(&records).Error)
	require.Zero(t, records)
}

func TestProcessTermSkipsUnmatchedContent(t *testing.T) {
	e := newEnv(t)
	adapter := e.adapterWith(alicePost("a post about something else"), quoteAndComments())

	res := e.runTerm(t, adapter)
	require.False(t, res.scored)

	var records int64
	require.NoError(t, e.db.Model(&EngagementRecord{}).Count(&records).Error)
	require.Zero(t, records)
}

func TestProcessTermResumesFromCursor(t *testing.T) {
	e := newEnv(t)

	var seen []string
	adapter := &fakeAdapter{
		name: "farcaster",
		searchFn: func(ctx context.Context, term, cursor string, limit int) (*platform.PostPage, error) {
			seen = append(seen, cursor)
			return &platform.PostPage{Cursor: "page-2"}, nil
		},
	}

	e.runTerm(t, adapter)
	e.runTerm(t, adapter)

	require.Equal(t, []string{"", "page-2"}, seen)
}

func TestProcessTermSearchFailureIsIsolated(t *testing.T) {
	e := newEnv(t)

	adapter := &fakeAdapter{
		name: "farcaster",
		searchFn: func(ctx context.Context, term, cursor string, limit int) (*platform.PostPage, error) {
			return nil, context.DeadlineExceeded
		},
	}

	res := e.runTerm(t, adapter)
	require.False(t, res.scored)
	require.Empty(t, res.samples)
}

func TestQualityBonusAppliedOncePerUser(t *testing.T) {
	e := newEnv(t)
	occurred := time.Now().Add(-30 * time.Minute)

	// One verified mature account quoting and reposting: bonus counts
	// once. 3+13 for the quote, 1 for the repost.
	engagements := []platform.Engagement{
		{Type: platform.EngagementQuote, ExternalID: "eng-1", PostID: "post-1", ActorHandle: "whale",
			Profile: platform.EngagerProfile{Verified: true, AccountAgeDays: 400}, OccurredAt: occurred},
		{Type: platform.EngagementRepost, ExternalID: "eng-2", PostID: "post-1", ActorHandle: "whale",
			Profile: platform.EngagerProfile{Verified: true, AccountAgeDays: 400}, OccurredAt: occurred},
	}

	adapter := e.adapterWith(alicePost("#launch hype"), engagements)
	e.runTerm(t, adapter)

	snap, err := e.scores.Latest(context.Background(), e.camp.ID, e.aliceID)
	require.NoError(t, err)
	require.Equal(t, int64(17), snap.Value)
}

func TestRecentSamplesPostsOnly(t *testing.T) {
	db := testutil.NewTestDB(t, &EngagementRecord{})
	svc := &Service{db: db}

	now := time.Now()
	rows := []*EngagementRecord{
		// In-window post by an enrolled promoter: sampled.
		{ID: "r1", Platform: "farcaster", ExternalID: "p1", CampaignID: "camp-1",
			Kind: KindPost, PromoterID: "promo-1", OccurredAt: now, CreatedAt: now},
		// Third-party engagement: not a sampling basis.
		{ID: "r2", Platform: "farcaster", ExternalID: "e1", CampaignID: "camp-1",
			Kind: "quote", PromoterID: "promo-1", OccurredAt: now, CreatedAt: now},
		// Post outside the window.
		{ID: "r3", Platform: "farcaster", ExternalID: "p2", CampaignID: "camp-1",
			Kind: KindPost, PromoterID: "promo-1", OccurredAt: now.Add(-2 * time.Hour), CreatedAt: now.Add(-2 * time.Hour)},
		// Post with no promoter attribution.
		{ID: "r4", Platform: "farcaster", ExternalID: "p3", CampaignID: "camp-1",
			Kind: KindPost, PromoterID: "", OccurredAt: now, CreatedAt: now},
	}
	for _, r := range rows {
		require.NoError(t, db.Create(r).Error)
	}

	batches, err := svc.recentSamples(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches["camp-1"], 1)
	require.Equal(t, "promo-1", batches["camp-1"][0].PromoterID)
}
