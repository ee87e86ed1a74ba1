package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var (
	memberCacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_member_cache_hits_total"})
	memberCacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_member_cache_miss_total"})
)

func init() {
	prometheus.MustRegister(memberCacheHits, memberCacheMiss)
}

type memberKey struct {
	CampaignID string
	Platform   string
}

type memberEntry struct {
	handles   map[string]string
	updatedAt time.Time
}

// memberCache memoizes the enrolled-handle lookup per (campaign,
// platform) for the duration of a few cycles. Concurrent misses for
// the same key collapse into one load.
type memberCache struct {
	mu    sync.RWMutex
	items map[memberKey]*memberEntry
	ttl   time.Duration
	group singleflight.Group
}

func newMemberCache(ttl time.Duration) *memberCache {
	return &memberCache{
		items: make(map[memberKey]*memberEntry),
		ttl:   ttl,
	}
}

type memberLoader func(ctx context.Context, campaignID, platform string) (map[string]string, error)

func (c *memberCache) get(key memberKey) (map[string]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	if !ok || (c.ttl > 0 && time.Since(v.updatedAt) > c.ttl) {
		return nil, false
	}
	return v.handles, true
}

func (c *memberCache) set(key memberKey, handles map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = &memberEntry{handles: handles, updatedAt: time.Now()}
}

func (c *memberCache) Invalidate(campaignID, platform string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, memberKey{CampaignID: campaignID, Platform: platform})
}

// Handles returns the normalized-handle → promoter-id map for a
// campaign's enrolled members on one platform.
func (c *memberCache) Handles(ctx context.Context, campaignID, platform string, load memberLoader) (map[string]string, error) {
	key := memberKey{CampaignID: campaignID, Platform: platform}

	if handles, ok := c.get(key); ok {
		memberCacheHits.Inc()
		return handles, nil
	}
	memberCacheMiss.Inc()

	v, err, _ := c.group.Do(fmt.Sprintf("%s|%s", campaignID, platform), func() (any, error) {
		if handles, ok := c.get(key); ok {
			return handles, nil
		}
		handles, err := load(ctx, campaignID, platform)
		if err != nil {
			return nil, err
		}
		c.set(key, handles)
		return handles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}
