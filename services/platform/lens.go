package platform

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"promoflow-engine/pkg/config"
)

const PlatformLens = "lens"

type LensAdapter struct {
	http *httpClient
	now  func() time.Time
}

func NewLensAdapter(cfg *config.Config) *LensAdapter {
	creds := cfg.Platforms.Lens
	return &LensAdapter{
		http: newHTTPClient(creds.BaseURL, creds.APIKey, creds.Timeout),
		now:  time.Now,
	}
}

func (a *LensAdapter) Name() string { return PlatformLens }

type lensPublication struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	By        struct {
		ID     string `json:"id"`
		Handle string `json:"handle"`
	} `json:"by"`
}

type lensPublicationsResponse struct {
	Items    []lensPublication `json:"items"`
	PageInfo struct {
		Next string `json:"next"`
	} `json:"pageInfo"`
}

func (a *LensAdapter) SearchPosts(ctx context.Context, term, cursor string, limit int) (*PostPage, error) {
	q := url.Values{}
	q.Set("query", term)
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var resp lensPublicationsResponse
	if err := a.http.getJSON(ctx, "/v2/publications/search", q, &resp); err != nil {
		return nil, err
	}

	page := &PostPage{
		Cursor:  resp.PageInfo.Next,
		HasMore: resp.PageInfo.Next != "",
	}
	for _, p := range resp.Items {
		page.Posts = append(page.Posts, Post{
			Platform:     PlatformLens,
			ExternalID:   p.ID,
			AuthorID:     p.By.ID,
			AuthorHandle: p.By.Handle,
			Content:      p.Content,
			URL:          "https://hey.xyz/posts/" + p.ID,
			PublishedAt:  p.CreatedAt,
		})
	}
	return page, nil
}

type lensReaction struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Profile   struct {
		ID        string    `json:"id"`
		Handle    string    `json:"handle"`
		Verified  bool      `json:"verified"`
		Followers int       `json:"followers"`
		CreatedAt time.Time `json:"createdAt"`
	} `json:"profile"`
}

type lensReactionsResponse struct {
	Items    []lensReaction `json:"items"`
	PageInfo struct {
		Next string `json:"next"`
	} `json:"pageInfo"`
}

func (a *LensAdapter) Engagements(ctx context.Context, postID string, kind EngagementType, cursor string, limit int) (*EngagementPage, error) {
	q := url.Values{}
	q.Set("for", postID)
	q.Set("type", lensReactionType(kind))
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var resp lensReactionsResponse
	if err := a.http.getJSON(ctx, "/v2/publications/reactions", q, &resp); err != nil {
		return nil, err
	}

	now := a.now()
	page := &EngagementPage{
		Cursor:  resp.PageInfo.Next,
		HasMore: resp.PageInfo.Next != "",
	}
	for _, r := range resp.Items {
		externalID := r.ID
		if externalID == "" {
			externalID = syntheticEngagementID(postID, r.Profile.ID, kind)
		}
		page.Engagements = append(page.Engagements, Engagement{
			Type:        kind,
			ExternalID:  externalID,
			PostID:      postID,
			ActorID:     r.Profile.ID,
			ActorHandle: r.Profile.Handle,
			Profile: EngagerProfile{
				Verified:       r.Profile.Verified,
				FollowerCount:  r.Profile.Followers,
				AccountAgeDays: accountAgeDays(r.Profile.CreatedAt, now),
			},
			OccurredAt: r.CreatedAt,
		})
	}
	return page, nil
}

func lensReactionType(kind EngagementType) string {
	switch kind {
	case EngagementQuote:
		return "QUOTE"
	case EngagementRepost:
		return "MIRROR"
	case EngagementReply:
		return "REPLY"
	default:
		return "COMMENT"
	}
}
