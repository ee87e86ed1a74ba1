package platform

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"promoflow-engine/pkg/config"
)

const PlatformMinds = "minds"

type MindsAdapter struct {
	http *httpClient
	now  func() time.Time
}

func NewMindsAdapter(cfg *config.Config) *MindsAdapter {
	creds := cfg.Platforms.Minds
	return &MindsAdapter{
		http: newHTTPClient(creds.BaseURL, creds.APIKey, creds.Timeout),
		now:  time.Now,
	}
}

func (a *MindsAdapter) Name() string { return PlatformMinds }

type mindsEntity struct {
	GUID      string `json:"guid"`
	Message   string `json:"message"`
	TimeTS    int64  `json:"time_created"`
	OwnerGUID string `json:"owner_guid"`
	Owner     struct {
		Username    string `json:"username"`
		Verified    bool   `json:"verified"`
		Subscribers int    `json:"subscribers_count"`
		TimeTS      int64  `json:"time_created"`
	} `json:"ownerObj"`
}

type mindsFeedResponse struct {
	Entities []mindsEntity `json:"entities"`
	LoadNext string        `json:"load-next"`
}

func (a *MindsAdapter) SearchPosts(ctx context.Context, term, cursor string, limit int) (*PostPage, error) {
	q := url.Values{}
	q.Set("q", term)
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("from_timestamp", cursor)
	}

	var resp mindsFeedResponse
	if err := a.http.getJSON(ctx, "/api/v3/newsfeed/search", q, &resp); err != nil {
		return nil, err
	}

	page := &PostPage{
		Cursor:  resp.LoadNext,
		HasMore: resp.LoadNext != "",
	}
	for _, e := range resp.Entities {
		page.Posts = append(page.Posts, Post{
			Platform:     PlatformMinds,
			ExternalID:   e.GUID,
			AuthorID:     e.OwnerGUID,
			AuthorHandle: e.Owner.Username,
			Content:      e.Message,
			URL:          "https://www.minds.com/newsfeed/" + e.GUID,
			PublishedAt:  time.Unix(e.TimeTS, 0),
		})
	}
	return page, nil
}

func (a *MindsAdapter) Engagements(ctx context.Context, postID string, kind EngagementType, cursor string, limit int) (*EngagementPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("offset", cursor)
	}

	var resp mindsFeedResponse
	path := "/api/v3/newsfeed/" + postID + "/" + mindsInteractionPath(kind)
	if err := a.http.getJSON(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	now := a.now()
	page := &EngagementPage{
		Cursor:  resp.LoadNext,
		HasMore: resp.LoadNext != "",
	}
	for _, e := range resp.Entities {
		externalID := e.GUID
		if externalID == "" {
			externalID = syntheticEngagementID(postID, e.OwnerGUID, kind)
		}
		page.Engagements = append(page.Engagements, Engagement{
			Type:        kind,
			ExternalID:  externalID,
			PostID:      postID,
			ActorID:     e.OwnerGUID,
			ActorHandle: e.Owner.Username,
			Profile: EngagerProfile{
				Verified:       e.Owner.Verified,
				FollowerCount:  e.Owner.Subscribers,
				AccountAgeDays: accountAgeDays(time.Unix(e.Owner.TimeTS, 0), now),
			},
			OccurredAt: time.Unix(e.TimeTS, 0),
		})
	}
	return page, nil
}

func mindsInteractionPath(kind EngagementType) string {
	switch kind {
	case EngagementQuote:
		return "quotes"
	case EngagementRepost:
		return "reminds"
	case EngagementReply:
		return "replies"
	default:
		return "comments"
	}
}
