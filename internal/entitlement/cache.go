package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/ronikriger/jobflow-billing/internal/billingmetrics"
)

// DefaultCacheTTL bounds how long a cached entitlement is served before the
// store is consulted again.
const DefaultCacheTTL = 60 * time.Second

// StatusFetcher performs the authoritative entitlement-status query.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, userID string) (Status, error)
}

type cacheEntry struct {
	status    Status
	fetchedAt time.Time
}

// Cache is a process-local, time-bounded read-through cache over a
// StatusFetcher. Concurrent misses for the same user are coalesced into a
// single fetch. Fetch failures are never cached and degrade to a
// conservative free-tier status, so an outage cannot grant paid privileges.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry

	fetcher StatusFetcher
	limits  Limits
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group
}

// NewCache creates a Cache. A nil now uses wall-clock time; tests inject
// their own clock.
func NewCache(fetcher StatusFetcher, limits Limits, ttl time.Duration, now func() time.Time) *Cache {
	if limits == nil {
		limits = DefaultLimits
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		fetcher: fetcher,
		limits:  limits,
		ttl:     ttl,
		now:     now,
	}
}

// Get returns the cached status for userID if still within the TTL,
// otherwise fetches a fresh one. It never returns an error: a failed fetch
// yields the free-tier fallback.
func (c *Cache) Get(ctx context.Context, userID string) Status {
	c.mu.Lock()
	entry, ok := c.entries[userID]
	fresh := ok && c.now().Sub(entry.fetchedAt) < c.ttl
	c.mu.Unlock()

	if fresh {
		billingmetrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
		return entry.status
	}

	v, err, _ := c.group.Do(userID, func() (any, error) {
		status, err := c.fetcher.FetchStatus(ctx, userID)
		if err != nil {
			return Status{}, err
		}
		c.mu.Lock()
		c.entries[userID] = cacheEntry{status: status, fetchedAt: c.now()}
		c.mu.Unlock()
		return status, nil
	})
	if err != nil {
		billingmetrics.CacheRequestsTotal.WithLabelValues("fallback").Inc()
		log.Warn().Err(err).Str("user_id", userID).Msg("Entitlement fetch failed, serving free-tier fallback")
		return c.fallback(userID)
	}

	billingmetrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	return v.(Status)
}

// Invalidate drops the cached entry for userID. Call after any local action
// expected to change entitlement, since the webhook landing time is unknown.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// Reset flushes every entry. Called when the signed-in identity changes so
// one user's tier can never leak into another's session.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *Cache) fallback(userID string) Status {
	limit, _ := c.limits.LimitFor(TierFree)
	return Status{
		UserID:     userID,
		Tier:       TierFree,
		AppCount:   0,
		Limit:      limit,
		CanAddMore: CanAddMore(TierFree, 0, c.limits),
	}
}
