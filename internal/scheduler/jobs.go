package scheduler

import (
	"context"
	"time"

	"github.com/vectorcommerce/platform/internal/cache"
)

// hotKeyCache is the slice of *cache.Cache the cache-maintenance job needs,
// kept narrow so it can be faked in tests without a live Redis.
type hotKeyCache interface {
	HotKeys(minCount int64) []string
	ExtendTTL(ctx context.Context, id string, ttl time.Duration)
}

var _ hotKeyCache = (*cache.Cache)(nil)

// CacheMaintenanceJob extends the TTL of keys that crossed minAccessCount
// accesses since the last tick, so frequently read products stay resident
// through the cache's normal expiry instead of cache-stampeding back to
// Postgres every ttl. This is the "cache maintenance" job named in §9/§12;
// eviction and invalidation themselves stay lock-free and synchronous on
// the write path, per §5's shared-resource policy — this job only ever
// extends a TTL, never evicts or writes a value.
func CacheMaintenanceJob(c hotKeyCache, interval time.Duration, minAccessCount int64, extendTTL time.Duration) Job {
	return Job{
		Name:     "cache-maintenance",
		Interval: interval,
		Run: func(ctx context.Context) error {
			for _, id := range c.HotKeys(minAccessCount) {
				c.ExtendTTL(ctx, id, extendTTL)
			}
			return nil
		},
	}
}
