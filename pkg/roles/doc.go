// Package roles implements the dynamic role registry and permission
// checker for the vortex moderation service.
//
// # Overview
//
// Role definitions originate from three places with different latency and
// availability characteristics:
//
//  1. Code: the "admin" role is compiled at startup from an ordered list
//     of statement providers and can never be removed.
//  2. Cache: dynamic roles propagated between instances through Redis.
//  3. Durable store: the roles table in Postgres, the source of truth.
//
// The Registry reconciles all three without double-registering or racing
// two initializations. Registration is idempotent by construction, so
// redundant loads across processes are harmless. Within one process,
// EnsureInitialized guarantees at most one concurrent initialization run;
// concurrent callers share the same in-flight result.
//
// # Statements
//
// A role's grants are expressed as statements, a map from domain name to
// the set of allowed actions:
//
//	{"violation": ["create", "list"], "moderation": ["view"]}
//
// Statements loaded from cache or the store are validated strictly: any
// value that is not an object whose every property is a non-empty array
// of strings is silently discarded as malformed.
//
// # Checking
//
// The Checker evaluates exactly one domain per request. A user may hold
// multiple roles as a comma-joined role string; the request is allowed if
// ANY single role grants the full requested action set. Partial grants
// across roles do not combine. Every ambiguity or internal failure
// resolves to a denial.
//
// # Refresh
//
// The Refresher coordinates distributed reloads (cache bust, store
// reload, dynamic-role clearing) guarded by a best-effort Redis lock.
// Failing to take the lock does not abort a refresh: concurrent refreshes
// are an accepted race because registration is idempotent, so the worst
// outcome is redundant work.
package roles
