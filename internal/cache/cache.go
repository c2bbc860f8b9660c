// Package cache implements the write-through cache of §4.4: per-entry TTL,
// version-stamped conditional writes, pub/sub invalidation across peer
// processes, hot-item access tracking, and a failure policy that always
// falls through to the authoritative store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// entry is the wire shape stored in Redis: the raw caller payload plus the
// version stamp that makes writes conditional.
type entry struct {
	Version  int             `json:"version"`
	Data     json.RawMessage `json:"data"`
	CachedAt time.Time       `json:"cachedAt"`
}

// InvalidationScope enumerates the pub/sub invalidation broadcast shapes.
type InvalidationScope string

const (
	ScopeSingle InvalidationScope = "SINGLE"
	ScopeMulti  InvalidationScope = "MULTI"
	ScopeAll    InvalidationScope = "ALL"
)

// Invalidation is the message broadcast on the pub/sub channel so peer
// processes evict their local copy.
type Invalidation struct {
	Scope InvalidationScope `json:"scope"`
	Keys  []string          `json:"keys"`
}

const conditionalSetScript = `
local existing = redis.call("get", KEYS[1])
if existing then
	local decoded = cjson.decode(existing)
	if decoded.version >= tonumber(ARGV[2]) then
		return 0
	end
end
redis.call("set", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`

// Cache is a write-through cache over a Redis store, with an in-process L1
// layer kept consistent across peers via pub/sub invalidation.
type Cache struct {
	client           *redis.Client
	logger           *slog.Logger
	name             string // e.g. "product", "stock" — used as key prefix and channel suffix
	ttl              time.Duration
	refreshThreshold float64

	mu    sync.RWMutex
	local map[string]entry

	accessMu sync.Mutex
	access   map[string]int64

	channel string
}

// New constructs a Cache for the given logical name ("product", "stock")
// with the stated default TTL and refresh threshold (fraction of TTL
// remaining below which a read triggers an async refresh).
func New(client *redis.Client, logger *slog.Logger, name string, ttl time.Duration, refreshThreshold float64) *Cache {
	return &Cache{
		client:           client,
		logger:           logger,
		name:             name,
		ttl:              ttl,
		refreshThreshold: refreshThreshold,
		local:            map[string]entry{},
		access:           map[string]int64{},
		channel:          "cache:invalidate:" + name,
	}
}

func (c *Cache) key(id string) string {
	return c.name + ":" + id
}

// Get returns the cached payload and its version for id. found is false on
// a genuine miss. With found false, a non-nil err is an actual Redis
// failure, which the caller must treat as a miss (fall through to the
// authoritative store) rather than a fatal condition. With found true, a
// non-nil err is the refresh sentinel (see NeedsRefresh) and the returned
// data is valid.
func (c *Cache) Get(ctx context.Context, id string) (data []byte, version int, found bool, err error) {
	c.recordAccess(id)

	c.mu.RLock()
	if e, ok := c.local[id]; ok {
		c.mu.RUnlock()
		return e.Data, e.Version, true, nil
	}
	c.mu.RUnlock()

	raw, redisErr := c.client.Get(ctx, c.key(id)).Bytes()
	if redisErr == redis.Nil {
		return nil, 0, false, nil
	}
	if redisErr != nil {
		c.logger.Warn("cache get failed, falling through to store", "cache", c.name, "id", id, "error", redisErr)
		return nil, 0, false, redisErr
	}

	var e entry
	if jsonErr := json.Unmarshal(raw, &e); jsonErr != nil {
		c.logger.Warn("cache entry corrupt, treating as miss", "cache", c.name, "id", id, "error", jsonErr)
		return nil, 0, false, nil
	}

	c.mu.Lock()
	c.local[id] = e
	c.mu.Unlock()

	if c.needsRefresh(e) {
		return e.Data, e.Version, true, errNeedsRefresh
	}
	return e.Data, e.Version, true, nil
}

// errNeedsRefresh is a sentinel the caller can check with errors.Is to
// decide whether to kick off an asynchronous refresh; it is never treated
// as a failure.
var errNeedsRefresh = fmt.Errorf("cache: entry past refresh threshold")

// NeedsRefresh reports whether err is the refresh-threshold sentinel Get
// may return alongside a cache hit.
func NeedsRefresh(err error) bool {
	return err == errNeedsRefresh
}

func (c *Cache) needsRefresh(e entry) bool {
	age := time.Since(e.CachedAt)
	remaining := c.ttl - age
	return remaining < time.Duration(float64(c.ttl)*c.refreshThreshold)
}

// Set writes data under id with the given version, write-through. The
// write is conditional: a version older than or equal to what is already
// stored never overwrites it. Set never returns a fatal error to the
// caller's critical path: failures are logged and swallowed, since the
// authoritative store, not the cache, is the source of truth.
func (c *Cache) Set(ctx context.Context, id string, data []byte, version int) {
	e := entry{Version: version, Data: data, CachedAt: time.Now()}
	body, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("cache encode failed", "cache", c.name, "id", id, "error", err)
		return
	}

	res, err := c.client.Eval(ctx, conditionalSetScript, []string{c.key(id)}, body, version, c.ttl.Milliseconds()).Result()
	if err != nil {
		c.logger.Warn("cache set failed", "cache", c.name, "id", id, "error", err)
		return
	}
	if n, ok := res.(int64); ok && n == 0 {
		return // a newer version is already cached; do not overwrite it locally either
	}

	c.mu.Lock()
	c.local[id] = e
	c.mu.Unlock()
}

// Invalidate evicts id locally, in Redis, and broadcasts the eviction to
// peer processes.
func (c *Cache) Invalidate(ctx context.Context, id string) {
	c.evictLocal(id)
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", "cache", c.name, "id", id, "error", err)
	}
	c.publish(ctx, Invalidation{Scope: ScopeSingle, Keys: []string{id}})
}

// InvalidateMulti evicts several ids in one broadcast.
func (c *Cache) InvalidateMulti(ctx context.Context, ids []string) {
	for _, id := range ids {
		c.evictLocal(id)
		if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
			c.logger.Warn("cache invalidate failed", "cache", c.name, "id", id, "error", err)
		}
	}
	c.publish(ctx, Invalidation{Scope: ScopeMulti, Keys: ids})
}

func (c *Cache) evictLocal(id string) {
	c.mu.Lock()
	delete(c.local, id)
	c.mu.Unlock()
}

func (c *Cache) publish(ctx context.Context, inv Invalidation) {
	body, err := json.Marshal(inv)
	if err != nil {
		return
	}
	if err := c.client.Publish(ctx, c.channel, body).Err(); err != nil {
		// Invalidation is best-effort; TTL is the correctness floor per §4.4.
		c.logger.Warn("cache invalidation broadcast failed", "cache", c.name, "error", err)
	}
}

// Subscribe runs until ctx is cancelled, evicting this process's local
// entries whenever a peer broadcasts an invalidation. Each process calls
// this once at boot for each Cache it constructs.
func (c *Cache) Subscribe(ctx context.Context) {
	sub := c.client.Subscribe(ctx, c.channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var inv Invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				continue
			}
			switch inv.Scope {
			case ScopeAll:
				c.mu.Lock()
				c.local = map[string]entry{}
				c.mu.Unlock()
			default:
				for _, id := range inv.Keys {
					c.evictLocal(id)
				}
			}
		}
	}
}

// recordAccess bumps the sampled access counter the hot-item tracker reads.
func (c *Cache) recordAccess(id string) {
	c.accessMu.Lock()
	c.access[id]++
	c.accessMu.Unlock()
}

// HotKeys returns ids accessed at least minCount times since the last call,
// resetting their counters. The scheduler's cache-maintenance job calls
// this to decide which entries to extend or prefetch.
func (c *Cache) HotKeys(minCount int64) []string {
	c.accessMu.Lock()
	defer c.accessMu.Unlock()

	var hot []string
	for id, n := range c.access {
		if n >= minCount {
			hot = append(hot, id)
		}
	}
	c.access = map[string]int64{}
	return hot
}

// ExtendTTL refreshes id's TTL in Redis without changing its value, used by
// the cache-maintenance job to keep hot items resident longer than the
// default TTL.
func (c *Cache) ExtendTTL(ctx context.Context, id string, ttl time.Duration) {
	if err := c.client.Expire(ctx, c.key(id), ttl).Err(); err != nil {
		c.logger.Warn("cache TTL extension failed", "cache", c.name, "id", id, "error", err)
	}
}
