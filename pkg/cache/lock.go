package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Lock is a held distributed lock. The token identifies this holder so a
// release after TTL expiry cannot drop a lock owned by someone else.
type Lock struct {
	Key   string
	Token string
}

// AcquireLock attempts to take a named lock via SETNX with the given TTL.
// On contention it polls every retryEvery until maxWait elapses, then
// returns nil. A nil return also covers Redis being unavailable: callers
// decide whether to proceed without mutual exclusion.
func (c *Cache) AcquireLock(ctx context.Context, name string, ttl, retryEvery, maxWait time.Duration) *Lock {
	key := "vortex:lock:" + name
	token := uuid.NewString()
	deadline := time.Now().Add(maxWait)
	start := time.Now()

	for {
		ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			c.logger.WithError(err).WithField("lock", name).Warn("lock acquire failed")
			c.metrics.ObserveCacheOp("lock_acquire", false)
			return nil
		}
		if ok {
			if c.metrics != nil {
				c.metrics.CacheLockWaitSeconds.Observe(time.Since(start).Seconds())
			}
			c.metrics.ObserveCacheOp("lock_acquire", true)
			return &Lock{Key: key, Token: token}
		}

		if time.Now().After(deadline) {
			c.logger.WithField("lock", name).Warnf("lock acquisition timed out after %s", maxWait)
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retryEvery):
		}
	}
}

// ReleaseLock releases a held lock, deleting the key only when the stored
// token still matches. Returns false when the lock had already expired and
// been re-acquired by another holder, or on Redis failure.
func (c *Cache) ReleaseLock(ctx context.Context, lock *Lock) bool {
	if lock == nil {
		return false
	}

	current, err := c.rdb.Get(ctx, lock.Key).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.logger.WithError(err).WithField("lock", lock.Key).Warn("lock release read failed")
		return false
	}
	if current != lock.Token {
		c.logger.WithField("lock", lock.Key).Warn("lock token mismatch on release, lock was taken over")
		return false
	}

	if err := c.rdb.Del(ctx, lock.Key).Err(); err != nil {
		c.logger.WithError(err).WithField("lock", lock.Key).Warn("lock release failed")
		return false
	}
	return true
}
