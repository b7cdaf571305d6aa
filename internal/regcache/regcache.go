// Package regcache is the registry's optional Redis-backed cache: a
// short-TTL cache of /status/summary responses and a heartbeat counter
// for runner lock activity, built on the same go-redis client construction
// idiom used elsewhere in this codebase.
package regcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a redis.Client. A nil *Cache is valid and behaves as an
// always-miss, no-op cache so the registry runs without Redis configured.
type Cache struct {
	client *redis.Client
}

// New connects to addr. Returns nil, nil if addr is empty (Redis disabled).
func New(addr, password string, db int) (*Cache, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &Cache{client: client}, nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

const statusSummaryTTL = 5 * time.Second

func statusSummaryKey(tenantID string) string {
	if tenantID == "" {
		return "status_summary:all"
	}
	return "status_summary:" + tenantID
}

// GetStatusSummary returns a cached response for tenantID, or ok=false on
// a miss (including when the cache is disabled or Redis is unreachable).
func (c *Cache) GetStatusSummary(ctx context.Context, tenantID string, out interface{}) bool {
	if c == nil || c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, statusSummaryKey(tenantID)).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// SetStatusSummary caches v for tenantID for a few seconds. Failures are
// swallowed; caching is strictly an optimization over StatusSummary.
func (c *Cache) SetStatusSummary(ctx context.Context, tenantID string, v interface{}) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, statusSummaryKey(tenantID), raw, statusSummaryTTL).Err()
}

// IncrRunnerHeartbeat bumps a per-runner-lock liveness counter each time a
// run is claimed, so an operator can watch claim throughput in Redis
// without scraping Prometheus.
func (c *Cache) IncrRunnerHeartbeat(ctx context.Context, lockID string) {
	if c == nil || c.client == nil {
		return
	}
	key := "runner_heartbeat:" + lockID
	_ = c.client.Incr(ctx, key).Err()
	_ = c.client.Expire(ctx, key, time.Minute).Err()
}
