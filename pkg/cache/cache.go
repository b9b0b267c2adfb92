package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vortexhq/vortex/pkg/observability"
)

const scanBatchSize = 100

// Cache wraps a Redis client with best-effort JSON operations. All methods
// swallow Redis errors: they log and return a neutral value so callers fall
// back to the durable store instead of failing.
type Cache struct {
	rdb     *redis.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates a Cache. metrics may be nil.
func New(rdb *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *Cache {
	return &Cache{
		rdb:     rdb,
		logger:  logger.Named("cache"),
		metrics: metrics,
	}
}

// SetJSON marshals value and stores it under key with the given TTL.
// A zero TTL stores the key without expiry. Returns false on any failure.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("failed to marshal cache value")
		c.metrics.ObserveCacheOp("set", false)
		return false
	}

	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache set failed")
		c.metrics.ObserveCacheOp("set", false)
		return false
	}

	c.metrics.ObserveCacheOp("set", true)
	return true
}

// GetJSON fetches key and unmarshals it into dest. Returns false on a miss,
// on a Redis failure, or when the stored value is not valid JSON for dest.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		c.metrics.ObserveCacheOp("get", true)
		return false
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache get failed")
		c.metrics.ObserveCacheOp("get", false)
		return false
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		// Corrupt entry: drop it so the next writer repopulates.
		c.rdb.Del(ctx, key)
		c.logger.WithError(err).WithField("key", key).Warn("discarded corrupt cache entry")
		c.metrics.ObserveCacheOp("get", false)
		return false
	}

	c.metrics.ObserveCacheOp("get", true)
	return true
}

// MGetJSON batch-fetches keys and returns the present values as raw JSON,
// keyed by cache key. Missing keys are omitted. Returns an empty map on
// failure.
func (c *Cache) MGetJSON(ctx context.Context, keys []string) map[string]json.RawMessage {
	result := make(map[string]json.RawMessage)
	if len(keys) == 0 {
		return result
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.WithError(err).Warnf("cache mget failed for %d keys", len(keys))
		c.metrics.ObserveCacheOp("mget", false)
		return result
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		result[keys[i]] = json.RawMessage(s)
	}

	c.metrics.ObserveCacheOp("mget", true)
	return result
}

// DelKeys deletes keys in a single pipelined batch and returns the number
// of keys removed. Returns 0 on failure.
func (c *Cache) DelKeys(ctx context.Context, keys []string) int {
	if len(keys) == 0 {
		return 0
	}

	deleted, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		c.logger.WithError(err).Warnf("cache delete failed for %d keys", len(keys))
		c.metrics.ObserveCacheOp("del", false)
		return 0
	}

	c.metrics.ObserveCacheOp("del", true)
	return int(deleted)
}

// ScanKeys returns all keys matching pattern using cursor-based SCAN
// iteration, never a blocking KEYS listing. Returns an empty slice on
// failure.
func (c *Cache) ScanKeys(ctx context.Context, pattern string) []string {
	var keys []string

	iter := c.rdb.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.WithError(err).WithField("pattern", pattern).Warn("cache scan failed")
		c.metrics.ObserveCacheOp("scan", false)
		return nil
	}

	c.metrics.ObserveCacheOp("scan", true)
	return keys
}

// Incr increments a counter key and returns the new value, or 0 on failure.
func (c *Cache) Incr(ctx context.Context, key string) int64 {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache incr failed")
		c.metrics.ObserveCacheOp("incr", false)
		return 0
	}

	c.metrics.ObserveCacheOp("incr", true)
	return n
}

// GetInt64 reads an integer counter key, returning 0 on miss or failure.
func (c *Cache) GetInt64(ctx context.Context, key string) int64 {
	n, err := c.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache get failed")
		return 0
	}
	return n
}
