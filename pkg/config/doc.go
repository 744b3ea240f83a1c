// Package config loads and validates application configuration from
// ACCESSCTL_* environment variables, with sensible defaults for local
// development.
//
// The authorization backend is selected with ACCESSCTL_AUTHZ_MODE: "store"
// (default) resolves permissions from the local PostgreSQL tables, "edge"
// delegates to remote edge functions and requires ACCESSCTL_EDGE_BASE_URL
// and ACCESSCTL_EDGE_SERVICE_KEY. Setting ACCESSCTL_REDIS_URL switches the
// permission cache from in-memory to Redis.
package config
