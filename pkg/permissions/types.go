package permissions

import (
	"strings"
	"time"
)

// Resource represents a resource class in the merchant dashboard
type Resource string

const (
	ResourceCampaigns  Resource = "campaigns"
	ResourceMerchants  Resource = "merchants"
	ResourceReviews    Resource = "reviews"
	ResourceIncentives Resource = "incentives"
	ResourceAnalytics  Resource = "analytics"
	ResourceSettings   Resource = "settings"
	ResourceUsers      Resource = "users"
	ResourceRoles      Resource = "roles"
	ResourcePerms      Resource = "permissions"
	ResourceAuditLogs  Resource = "audit_logs"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
	ActionExport Action = "export"
)

// Permission represents the set of actions a user may perform on a resource
// class. A user's effective permission set is a slice of these, replaced
// wholesale on refresh.
type Permission struct {
	Resource Resource `json:"resource"`
	Actions  []Action `json:"actions"`
}

// Allows reports whether the permission grants the given action.
func (p Permission) Allows(action Action) bool {
	for _, a := range p.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// PermissionSetAllows reports whether any permission in the set grants the
// action on the resource.
func PermissionSetAllows(perms []Permission, resource Resource, action Action) bool {
	for _, p := range perms {
		if p.Resource == resource && p.Allows(action) {
			return true
		}
	}
	return false
}

// DefaultTTL is the default lifetime of a cached permission entry.
const DefaultTTL = 5 * time.Minute

const (
	checkKeyPrefix = "permission:"
	setKeyPrefix   = "permissions:"
)

// CheckKey returns the cache fingerprint for a single permission question.
func CheckKey(userID string, resource Resource, action Action) string {
	return checkKeyPrefix + userID + ":" + string(resource) + ":" + string(action)
}

// SetKey returns the cache fingerprint for a user's full permission set.
func SetKey(userID string) string {
	return setKeyPrefix + userID
}

// keyBelongsToUser reports whether a cache key is scoped to the given user.
func keyBelongsToUser(key, userID string) bool {
	if key == setKeyPrefix+userID {
		return true
	}
	return strings.HasPrefix(key, checkKeyPrefix+userID+":")
}
