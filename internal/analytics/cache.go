// Package analytics wraps internal/store's aggregation queries with a
// two-tier cache, matching spec §9's "derived counters... may be cached
// with short TTLs but must be invalidated on RequestLog writes".
//
// Grounded on internal/secret/cache.go's go-cache decorator for the L1
// tier, generalized to store arbitrary JSON payloads keyed by query
// signature, and on caches/redis/redis.go's Get/Set/Delete shape for the
// L2 tier, rewritten directly against *goredis.Client instead of through
// the teacher's cache.Cache interface (analytics is the only caller, so the
// extra abstraction layer bought nothing here).
package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
	goredis "github.com/redis/go-redis/v9"
)

// twoTierCache is a read-through cache: L1 is an in-process TTL cache, L2
// is an optional Redis client shared across replicas. A nil Redis client
// degrades to L1-only, which is sufficient for a single-process deployment.
type twoTierCache struct {
	l1        *gocache.Cache
	l2        *goredis.Client
	namespace string
	ttl       time.Duration
}

func newTwoTierCache(ttl time.Duration, redisClient *goredis.Client, namespace string) *twoTierCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &twoTierCache{
		l1:        gocache.New(ttl, 2*ttl),
		l2:        redisClient,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (c *twoTierCache) key(k string) string { return c.namespace + ":" + k }

// getJSON looks up key, unmarshalling into dest on a hit. The returned bool
// reports whether a cached value was found at either tier.
func (c *twoTierCache) getJSON(ctx context.Context, k string, dest any) bool {
	if raw, found := c.l1.Get(k); found {
		if b, ok := raw.([]byte); ok && json.Unmarshal(b, dest) == nil {
			return true
		}
	}
	if c.l2 == nil {
		return false
	}
	b, err := c.l2.Get(ctx, c.key(k)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			// Redis is unavailable; fall through as a miss rather than fail the request.
		}
		return false
	}
	if json.Unmarshal(b, dest) != nil {
		return false
	}
	c.l1.Set(k, b, c.ttl)
	return true
}

func (c *twoTierCache) setJSON(ctx context.Context, k string, value any) {
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.l1.Set(k, b, c.ttl)
	if c.l2 != nil {
		_ = c.l2.Set(ctx, c.key(k), b, c.ttl).Err()
	}
}

// invalidateAll flushes L1 entirely and drops every key under namespace in
// L2. Called whenever a RequestLog write lands, since any aggregation over
// the log table is now stale (spec §9).
func (c *twoTierCache) invalidateAll(ctx context.Context) {
	c.l1.Flush()
	if c.l2 == nil {
		return
	}
	iter := c.l2.Scan(ctx, 0, c.namespace+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		_ = c.l2.Del(ctx, keys...).Err()
	}
}
