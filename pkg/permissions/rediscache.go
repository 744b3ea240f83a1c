package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/reviewforge/accessctl/pkg/observability"
)

// cachedValue is the wire envelope for Redis-held entries. Exactly one of
// the two fields is set.
type cachedValue struct {
	Granted     *bool        `json:"granted,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// RedisCache is a Redis-backed permission cache for deployments that run
// multiple dashboard backends against one authorization source. Redis
// failures degrade to cache misses so the evaluator falls back to the remote
// check; they never surface to callers.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int, logger *observability.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    DefaultTTL,
		logger: logger,
	}, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying Redis connection for health probes.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Set stores a value with the given TTL (cache default when ttl <= 0).
func (c *RedisCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	var envelope cachedValue
	switch v := value.(type) {
	case bool:
		envelope.Granted = &v
	case []Permission:
		envelope.Permissions = v
	default:
		c.logger.Warnf("redis cache: unsupported value type %T for key %s", value, key)
		return
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		c.logger.WithError(err).Warn("redis cache: failed to marshal entry")
		return
	}

	ctx := context.Background()
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("redis cache: set failed")
	}
}

// Get returns the value for the key, treating Redis errors as misses.
func (c *RedisCache) Get(key string) (interface{}, bool) {
	ctx := context.Background()
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Warn("redis cache: get failed")
		}
		return nil, false
	}

	var envelope cachedValue
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		c.logger.WithError(err).Warn("redis cache: failed to unmarshal entry")
		return nil, false
	}

	if envelope.Granted != nil {
		return *envelope.Granted, true
	}
	return envelope.Permissions, true
}

// Has reports whether Get would return a value.
func (c *RedisCache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes one entry.
func (c *RedisCache) Delete(key string) {
	ctx := context.Background()
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.WithError(err).Warn("redis cache: delete failed")
	}
}

// InvalidateUserPermissions removes every entry scoped to the user: a cursor
// scan over the user's check-key prefix plus the aggregate set key. The scan
// pattern ends at the user's trailing colon so it can never match another
// user's keys.
func (c *RedisCache) InvalidateUserPermissions(userID string) {
	ctx := context.Background()

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, checkKeyPrefix+userID+":*", 100).Result()
		if err != nil {
			c.logger.WithError(err).Warn("redis cache: scan failed during invalidation")
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.logger.WithError(err).Warn("redis cache: delete failed during invalidation")
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if err := c.client.Del(ctx, SetKey(userID)).Err(); err != nil {
		c.logger.WithError(err).Warn("redis cache: delete failed during invalidation")
	}
}

// Clear removes all entries in the cache's database.
func (c *RedisCache) Clear() {
	ctx := context.Background()
	if err := c.client.FlushDB(ctx).Err(); err != nil {
		c.logger.WithError(err).Warn("redis cache: flush failed")
	}
}

// Len returns the number of keys in the cache's database.
func (c *RedisCache) Len() int {
	ctx := context.Background()
	n, err := c.client.DBSize(ctx).Result()
	if err != nil {
		c.logger.WithError(err).Warn("redis cache: dbsize failed")
		return 0
	}
	return int(n)
}
