package quota

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kohakuhub/server/internal/shared/logger"
)

const cacheTTL = 5 * time.Minute

// usageCache is a read-through Redis cache for usage snapshots. Failures are
// logged and swallowed; the database stays the source of truth.
type usageCache struct {
	client *redis.Client
	log    *logger.Logger
}

// NewUsageCache creates the cache. Returns nil when the client is nil so the
// engine can skip caching entirely.
func NewUsageCache(client *redis.Client, log *logger.Logger) *usageCache {
	if client == nil {
		return nil
	}
	return &usageCache{client: client, log: log}
}

func (c *usageCache) get(ctx context.Context, key string) (*Usage, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("quota cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var usage Usage
	if err := json.Unmarshal(data, &usage); err != nil {
		return nil, false
	}
	return &usage, true
}

func (c *usageCache) set(ctx context.Context, key string, usage *Usage) {
	data, err := json.Marshal(usage)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, cacheTTL).Err(); err != nil {
		c.log.Warn("quota cache write failed", "key", key, "error", err)
	}
}

func (c *usageCache) del(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Warn("quota cache invalidation failed", "key", key, "error", err)
	}
}
