package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"promoflow-engine/pkg/errutil"
)

// httpClient wraps the shared request plumbing for the platform APIs:
// base URL, API key header, timeout, JSON decoding.
type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newHTTPClient(baseURL, apiKey string, timeout time.Duration) *httpClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *httpClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errutil.BadGateway("platform request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errutil.TooManyRequest("platform rate limited", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errutil.BadGateway(fmt.Sprintf("platform returned %d: %s", resp.StatusCode, body), nil)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// syntheticEngagementID builds a stable dedup key for platforms whose
// reaction payloads carry no identifier of their own.
func syntheticEngagementID(postID, actorID string, kind EngagementType) string {
	return fmt.Sprintf("%s:%s:%s", postID, actorID, kind)
}

func accountAgeDays(createdAt time.Time, now time.Time) int {
	if createdAt.IsZero() || createdAt.After(now) {
		return 0
	}
	return int(now.Sub(createdAt).Hours() / 24)
}
