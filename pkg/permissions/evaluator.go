package permissions

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/reviewforge/accessctl/pkg/observability"
)

// Authorizer is the remote authorization source consumed by the evaluator.
// Implementations include the SQL-backed store and the edge-function client
// in pkg/authz.
type Authorizer interface {
	// CheckPermission answers a single permission question for a user.
	CheckPermission(ctx context.Context, userID string, resource Resource, action Action) (bool, error)

	// GetUserPermissions returns the user's effective permission set.
	GetUserPermissions(ctx context.Context, userID string) ([]Permission, error)

	// AssignRole grants a role to a user.
	AssignRole(ctx context.Context, userID, roleName string) error

	// RemoveRole revokes a role from a user.
	RemoveRole(ctx context.Context, userID, roleName string) error
}

// Recorder receives cache, check, and role-mutation events. Satisfied by
// monitoring.Service.
type Recorder interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheInvalidation()
	UpdateCacheSize(n int)
	RecordPermissionCheck(resource, action string, granted bool, latency time.Duration)
	RecordRoleAssignment(roleName string)
	RecordRoleRemoval(roleName string)
}

// nopRecorder discards all events.
type nopRecorder struct{}

func (nopRecorder) RecordCacheHit()                                          {}
func (nopRecorder) RecordCacheMiss()                                         {}
func (nopRecorder) RecordCacheInvalidation()                                 {}
func (nopRecorder) UpdateCacheSize(int)                                      {}
func (nopRecorder) RecordPermissionCheck(string, string, bool, time.Duration) {}
func (nopRecorder) RecordRoleAssignment(string)                              {}
func (nopRecorder) RecordRoleRemoval(string)                                 {}

// Evaluator answers permission questions cache-first and fails closed: any
// remote error resolves to denied (or an empty permission set) and is logged,
// never returned to callers.
type Evaluator struct {
	authz   Authorizer
	cache   Cache
	monitor Recorder
	logger  *observability.Logger
	ttl     time.Duration

	// Simultaneous misses for the same fingerprint share one remote call.
	inflight singleflight.Group
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithMonitor wires the evaluator's event stream to a recorder.
func WithMonitor(m Recorder) EvaluatorOption {
	return func(e *Evaluator) {
		if m != nil {
			e.monitor = m
		}
	}
}

// WithTTL overrides the TTL applied to cache fills.
func WithTTL(ttl time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// NewEvaluator creates an evaluator over the given authorization source and
// cache.
func NewEvaluator(authz Authorizer, cache Cache, logger *observability.Logger, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		authz:   authz,
		cache:   cache,
		monitor: nopRecorder{},
		logger:  logger,
		ttl:     DefaultTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckPermission reports whether the user may perform the action on the
// resource. The cache is always consulted before the remote source; on a miss
// the remote answer (denied on any error) is cached and the check latency is
// recorded.
func (e *Evaluator) CheckPermission(ctx context.Context, userID string, resource Resource, action Action) bool {
	key := CheckKey(userID, resource, action)

	if v, ok := e.cache.Get(key); ok {
		e.monitor.RecordCacheHit()
		if granted, ok := v.(bool); ok {
			return granted
		}
		// Wrong-typed entry, treat as a miss and re-resolve.
		e.cache.Delete(key)
	}
	e.monitor.RecordCacheMiss()

	result, _, _ := e.inflight.Do(key, func() (interface{}, error) {
		start := time.Now()
		granted, err := e.authz.CheckPermission(ctx, userID, resource, action)
		latency := time.Since(start)
		if err != nil {
			// Fail closed: deny, and cache the denial so a flapping
			// backend is not hammered.
			e.logger.WithError(err).WithFields(map[string]interface{}{
				"user_id":  userID,
				"resource": resource,
				"action":   action,
			}).Warn("permission check failed, denying")
			granted = false
		}

		e.cache.Set(key, granted, e.ttl)
		e.monitor.UpdateCacheSize(e.cache.Len())
		e.monitor.RecordPermissionCheck(string(resource), string(action), granted, latency)
		return granted, nil
	})

	return result.(bool)
}

// GetUserPermissions returns the user's effective permission set, cached
// under the user's aggregate fingerprint. On any remote error it returns an
// empty set without caching it.
func (e *Evaluator) GetUserPermissions(ctx context.Context, userID string) []Permission {
	key := SetKey(userID)

	if v, ok := e.cache.Get(key); ok {
		e.monitor.RecordCacheHit()
		if perms, ok := v.([]Permission); ok {
			return perms
		}
		e.cache.Delete(key)
	}
	e.monitor.RecordCacheMiss()

	result, _, _ := e.inflight.Do(key, func() (interface{}, error) {
		perms, err := e.authz.GetUserPermissions(ctx, userID)
		if err != nil {
			e.logger.WithError(err).WithField("user_id", userID).
				Warn("permission set fetch failed, returning empty set")
			return []Permission{}, nil
		}
		if perms == nil {
			perms = []Permission{}
		}

		e.cache.Set(key, perms, e.ttl)
		e.monitor.UpdateCacheSize(e.cache.Len())
		return perms, nil
	})

	return result.([]Permission)
}

// AssignRoleToUser grants a role and invalidates the user's cached
// permissions. Returns false on any failure; the cache is left intact when
// the remote mutation did not happen.
func (e *Evaluator) AssignRoleToUser(ctx context.Context, userID, roleName string) bool {
	if err := e.authz.AssignRole(ctx, userID, roleName); err != nil {
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id": userID,
			"role":    roleName,
		}).Error("role assignment failed")
		return false
	}

	e.invalidateUser(userID)
	e.monitor.RecordRoleAssignment(roleName)
	return true
}

// RemoveRoleFromUser revokes a role and invalidates the user's cached
// permissions. Returns false on any failure.
func (e *Evaluator) RemoveRoleFromUser(ctx context.Context, userID, roleName string) bool {
	if err := e.authz.RemoveRole(ctx, userID, roleName); err != nil {
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id": userID,
			"role":    roleName,
		}).Error("role removal failed")
		return false
	}

	e.invalidateUser(userID)
	e.monitor.RecordRoleRemoval(roleName)
	return true
}

// InvalidateUserPermissionCache drops every cached entry for the user so the
// next check re-resolves against the remote source. Used by logout and
// profile refresh flows.
func (e *Evaluator) InvalidateUserPermissionCache(userID string) {
	e.invalidateUser(userID)
}

func (e *Evaluator) invalidateUser(userID string) {
	e.cache.InvalidateUserPermissions(userID)
	e.monitor.RecordCacheInvalidation()
	e.monitor.UpdateCacheSize(e.cache.Len())
}
