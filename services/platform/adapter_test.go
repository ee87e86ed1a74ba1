package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRegistryLookup(t *testing.T) {
	a := &FarcasterAdapter{}
	r := NewRegistry(a)

	got, err := r.Get(PlatformFarcaster)
	require.NoError(t, err)
	require.Equal(t, a, got)

	_, err = r.Get("myspace")
	require.Error(t, err)
}

func TestFarcasterSearchPosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/search/casts", r.URL.Path)
		require.Equal(t, "launch", r.URL.Query().Get("q"))
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"result": {
				"casts": [{
					"hash": "0xcast",
					"text": "the #launch is live",
					"timestamp": "2026-08-30T12:00:00Z",
					"author": {"fid": 42, "username": "alice"}
				}],
				"next": {"cursor": "page-2"}
			}
		}`))
	}))
	defer srv.Close()

	adapter := &FarcasterAdapter{
		http: newHTTPClient(srv.URL, "secret", time.Second),
		now:  time.Now,
	}

	page, err := adapter.SearchPosts(context.Background(), "launch", "", 25)
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	require.Equal(t, "0xcast", page.Posts[0].ExternalID)
	require.Equal(t, "alice", page.Posts[0].AuthorHandle)
	require.Equal(t, PlatformFarcaster, page.Posts[0].Platform)
	require.Equal(t, "page-2", page.Cursor)
	require.True(t, page.HasMore)
}

func TestFarcasterEngagementsProfileMapping(t *testing.T) {
	now := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/cast/reactions", r.URL.Path)
		require.Equal(t, "recast", r.URL.Query().Get("type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"result": {
				"reactions": [{
					"timestamp": "2026-08-30T12:00:00Z",
					"reactor": {
						"fid": 7,
						"username": "bob",
						"follower_count": 12000,
						"power_badge": true,
						"registered_at": "2024-01-01T00:00:00Z"
					}
				}],
				"next": {"cursor": ""}
			}
		}`))
	}))
	defer srv.Close()

	adapter := &FarcasterAdapter{
		http: newHTTPClient(srv.URL, "", time.Second),
		now:  func() time.Time { return now },
	}

	page, err := adapter.Engagements(context.Background(), "0xcast", EngagementRepost, "", 25)
	require.NoError(t, err)
	require.Len(t, page.Engagements, 1)

	e := page.Engagements[0]
	require.Equal(t, EngagementRepost, e.Type)
	// No reaction id from upstream: the synthetic key keeps dedup stable.
	require.Equal(t, "0xcast:7:repost", e.ExternalID)
	require.True(t, e.Profile.Verified)
	require.Equal(t, 12000, e.Profile.FollowerCount)
	require.Greater(t, e.Profile.AccountAgeDays, 365)
	require.False(t, page.HasMore)
}

func TestClientSurfacesUpstreamErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	adapter := &FarcasterAdapter{
		http: newHTTPClient(srv.URL, "", time.Second),
		now:  time.Now,
	}

	_, err := adapter.SearchPosts(context.Background(), "launch", "", 25)
	require.Error(t, err)

	status = http.StatusInternalServerError
	_, err = adapter.SearchPosts(context.Background(), "launch", "", 25)
	require.Error(t, err)
}

func TestAccountAgeDays(t *testing.T) {
	now := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	require.Equal(t, 0, accountAgeDays(time.Time{}, now))
	require.Equal(t, 0, accountAgeDays(now.Add(time.Hour), now))
	require.Equal(t, 365, accountAgeDays(now.AddDate(-1, 0, 0), now))
}
