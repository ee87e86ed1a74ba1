package platform

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"promoflow-engine/pkg/config"
)

const PlatformFarcaster = "farcaster"

type FarcasterAdapter struct {
	http *httpClient
	now  func() time.Time
}

func NewFarcasterAdapter(cfg *config.Config) *FarcasterAdapter {
	creds := cfg.Platforms.Farcaster
	return &FarcasterAdapter{
		http: newHTTPClient(creds.BaseURL, creds.APIKey, creds.Timeout),
		now:  time.Now,
	}
}

func (a *FarcasterAdapter) Name() string { return PlatformFarcaster }

type farcasterCast struct {
	Hash      string    `json:"hash"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Author    struct {
		FID      int64  `json:"fid"`
		Username string `json:"username"`
	} `json:"author"`
}

type farcasterCastsResponse struct {
	Result struct {
		Casts []farcasterCast `json:"casts"`
		Next  struct {
			Cursor string `json:"cursor"`
		} `json:"next"`
	} `json:"result"`
}

func (a *FarcasterAdapter) SearchPosts(ctx context.Context, term, cursor string, limit int) (*PostPage, error) {
	q := url.Values{}
	q.Set("q", term)
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var resp farcasterCastsResponse
	if err := a.http.getJSON(ctx, "/v2/search/casts", q, &resp); err != nil {
		return nil, err
	}

	page := &PostPage{
		Cursor:  resp.Result.Next.Cursor,
		HasMore: resp.Result.Next.Cursor != "",
	}
	for _, c := range resp.Result.Casts {
		page.Posts = append(page.Posts, Post{
			Platform:     PlatformFarcaster,
			ExternalID:   c.Hash,
			AuthorID:     strconv.FormatInt(c.Author.FID, 10),
			AuthorHandle: c.Author.Username,
			Content:      c.Text,
			URL:          "https://warpcast.com/~/conversations/" + c.Hash,
			PublishedAt:  c.Timestamp,
		})
	}
	return page, nil
}

type farcasterReaction struct {
	Cast      farcasterCast `json:"cast"`
	Timestamp time.Time     `json:"timestamp"`
	Reactor   struct {
		FID           int64     `json:"fid"`
		Username      string    `json:"username"`
		FollowerCount int       `json:"follower_count"`
		PowerBadge    bool      `json:"power_badge"`
		RegisteredAt  time.Time `json:"registered_at"`
	} `json:"reactor"`
}

type farcasterReactionsResponse struct {
	Result struct {
		Reactions []farcasterReaction `json:"reactions"`
		Next      struct {
			Cursor string `json:"cursor"`
		} `json:"next"`
	} `json:"result"`
}

func (a *FarcasterAdapter) Engagements(ctx context.Context, postID string, kind EngagementType, cursor string, limit int) (*EngagementPage, error) {
	q := url.Values{}
	q.Set("cast_hash", postID)
	q.Set("type", farcasterReactionType(kind))
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var resp farcasterReactionsResponse
	if err := a.http.getJSON(ctx, "/v2/cast/reactions", q, &resp); err != nil {
		return nil, err
	}

	now := a.now()
	page := &EngagementPage{
		Cursor:  resp.Result.Next.Cursor,
		HasMore: resp.Result.Next.Cursor != "",
	}
	for _, r := range resp.Result.Reactions {
		externalID := r.Cast.Hash
		if externalID == "" {
			externalID = syntheticEngagementID(postID, strconv.FormatInt(r.Reactor.FID, 10), kind)
		}
		page.Engagements = append(page.Engagements, Engagement{
			Type:        kind,
			ExternalID:  externalID,
			PostID:      postID,
			ActorID:     strconv.FormatInt(r.Reactor.FID, 10),
			ActorHandle: r.Reactor.Username,
			Profile: EngagerProfile{
				Verified:       r.Reactor.PowerBadge,
				FollowerCount:  r.Reactor.FollowerCount,
				AccountAgeDays: accountAgeDays(r.Reactor.RegisteredAt, now),
			},
			OccurredAt: r.Timestamp,
		})
	}
	return page, nil
}

func farcasterReactionType(kind EngagementType) string {
	switch kind {
	case EngagementQuote:
		return "quote"
	case EngagementRepost:
		return "recast"
	case EngagementReply:
		return "reply"
	default:
		return "comment"
	}
}
