// Package authz provides the remote authorization sources consumed by the
// permission evaluator.
//
// Two implementations of permissions.Authorizer are available:
//
//   - Store resolves permissions from SQL tables (roles, user_roles). Role
//     definitions are cached in a small expiring LRU since they change
//     rarely; assignments are always read fresh.
//
//   - EdgeClient delegates to remote edge functions (check-permission,
//     get-user-permissions, manage-user-role) over HTTP, timing and
//     reporting every call.
//
// Backend failures are classified with Error and Kind so callers can
// distinguish a missing role from an unreachable backend. The evaluator
// treats every error the same way (fail closed), but the admin API surfaces
// the distinction as 404 versus 502.
package authz
