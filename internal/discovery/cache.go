package discovery

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"lending-health-alerts/internal/position"
)

const (
	// DefaultCacheTTL keeps discovery results just long enough for
	// overlapping on-demand checks to share one round of source calls.
	DefaultCacheTTL = 30 * time.Second

	cacheCleanupInterval = 5 * time.Minute
)

// ResultCache is a short-TTL store of per-(address, protocol) raw
// records. Entries expire, they are never invalidated by writes.
type ResultCache struct {
	store *gocache.Cache
}

func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ResultCache{store: gocache.New(ttl, cacheCleanupInterval)}
}

func (c *ResultCache) Get(protocol position.ProtocolID, address string) ([]position.Record, bool) {
	v, ok := c.store.Get(cacheKey(protocol, address))
	if !ok {
		return nil, false
	}
	records, ok := v.([]position.Record)
	return records, ok
}

func (c *ResultCache) Put(protocol position.ProtocolID, address string, records []position.Record) {
	c.store.SetDefault(cacheKey(protocol, address), records)
}

func cacheKey(protocol position.ProtocolID, address string) string {
	return string(protocol) + "|" + strings.ToLower(address)
}
