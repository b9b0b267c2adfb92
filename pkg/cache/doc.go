// Package cache provides best-effort JSON caching primitives and a
// distributed lock over Redis.
//
// Every operation degrades to a neutral value (false, 0, nil, empty) when
// Redis is unavailable. Callers must treat the cache as an optimization:
// the durable store remains the source of truth for every correctness
// decision, and a cache failure only costs latency, never correctness.
//
// The lock acquired by AcquireLock is a SETNX+TTL lock with a random
// token. ReleaseLock deletes the key only when the stored token still
// matches the holder's token, so a slow holder cannot release a lock
// already taken over by a new holder after TTL expiry. The lock carries
// no fencing beyond that: locked operations are expected to be idempotent
// and safe under rare double execution.
package cache
