// Package permissions implements the permission evaluation and caching layer
// of the merchant dashboard backend.
//
// # Overview
//
// The package answers the question "may user U perform action A on resource
// R" cache-first, against a pluggable remote authorization source, and fails
// closed: any remote error resolves to denied. It consists of three layers:
//
//  1. Cache: a TTL key/value store mapping a permission fingerprint to a
//     boolean (single check) or a permission set (per user). Entries expire
//     lazily on read; per-user invalidation removes exactly one user's keys.
//  2. Evaluator: cache-first permission checks, permission-set fetches, and
//     role mutations with cache invalidation. Every cache event, check
//     outcome, latency, and role mutation is reported to a Recorder
//     (implemented by pkg/monitoring).
//  3. Guard: a render-time tri-state gate (pending/granted/denied) for UI
//     callers, with stale-result discarding when its inputs change.
//
// # Cache keys
//
// Single checks use "permission:<userID>:<resource>:<action>"; a user's full
// permission set uses "permissions:<userID>". Both key families are removed
// by InvalidateUserPermissions for that user and no other.
//
// # Fail-closed policy
//
// CheckPermission never returns an error. A remote failure is logged, denied,
// and the denial is cached so a flapping backend does not get hammered.
// GetUserPermissions degrades to an empty set without caching it. Role
// mutations return false on failure and leave the cache intact, since nothing
// changed remotely.
//
// # Implementations
//
// MemoryCache is the default in-process cache. RedisCache offers the same
// contract over Redis for deployments running several dashboard backends
// against one authorization source.
package permissions
