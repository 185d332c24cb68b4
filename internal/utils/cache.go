package utils

import (
	"context"       // Context for Redis operations
	"encoding/json" // JSON encoding/decoding
	"errors"        // Sentinel errors
	"time"          // Time durations

	"github.com/redis/go-redis/v9" // Redis client
)

// Cache lifetimes
const (
	AccountCacheTTL = 60 * time.Second // Display copy of an account
	AdminCacheTTL   = 30 * time.Second // Admin listings
	InflightTTL     = 2 * time.Minute  // Upper bound for one priced action
	FloorTTL        = 10 * time.Minute // Outlives any request that read an older version
)

// ErrActionInFlight is returned when the account already runs a priced action
var ErrActionInFlight = errors.New("another action is in progress")

// AccountKey is the cache key of an account's display view
func AccountKey(accountID string) string { return "account:" + accountID }

// AccountFloorKey holds the lowest account version the cache may still store
func AccountFloorKey(accountID string) string { return "account:floor:" + accountID }

// InflightKey marks an account with a priced action in progress
func InflightKey(accountID string) string { return "inflight:" + accountID }

// GetCache retrieves a value from Redis and unmarshals it into dest
func GetCache(ctx context.Context, rdb *redis.Client, key string, dest any) (bool, error) {
	val, err := rdb.Get(ctx, key).Result() // Get value from Redis
	if err == redis.Nil {
		return false, nil // Key does not exist
	} else if err != nil {
		return false, err // Other Redis error
	}
	return true, json.Unmarshal([]byte(val), dest) // Unmarshal JSON into dest
}

// SetCache sets a value in Redis with a specified TTL
func SetCache(ctx context.Context, rdb *redis.Client, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value) // Marshal value to JSON
	if err != nil {
		return err // Return error if marshaling fails
	}
	return rdb.Set(ctx, key, b, ttl).Err() // Set value in Redis with TTL
}

// DeleteCache deletes one or more keys from Redis
func DeleteCache(ctx context.Context, rdb *redis.Client, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return rdb.Del(ctx, keys...).Err() // Delete keys from Redis
}

// DeletePattern drops every key matching pattern, e.g. "admin:accounts:*"
func DeletePattern(ctx context.Context, rdb *redis.Client, pattern string) error {
	iter := rdb.Scan(ctx, 0, pattern, 100).Iterator() // Walk matching keys
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return DeleteCache(ctx, rdb, keys...)
}

// Stores the view only when its version is not older than the floor
var setAccountScript = redis.NewScript(`
local floor = tonumber(redis.call("GET", KEYS[2]) or "-1")
if tonumber(ARGV[2]) < floor then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// Raises the floor, never lowers it, then drops the view
var markAccountScript = redis.NewScript(`
local floor = tonumber(redis.call("GET", KEYS[2]) or "-1")
if tonumber(ARGV[1]) > floor then
	redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
end
return redis.call("DEL", KEYS[1])
`)

// Deletes the in-flight marker only while it still holds the caller's token
var releaseInflightScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SetAccountCache caches the view of an account read at version.
// It reports false when a newer version was committed in the meantime.
func SetAccountCache(ctx context.Context, rdb *redis.Client, accountID string, version int64, view any) (bool, error) {
	b, err := json.Marshal(view) // Marshal value to JSON
	if err != nil {
		return false, err
	}
	keys := []string{AccountKey(accountID), AccountFloorKey(accountID)}
	stored, err := setAccountScript.Run(ctx, rdb, keys, b, version, AccountCacheTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// MarkAccountChanged records a committed version and drops the cached view
func MarkAccountChanged(ctx context.Context, rdb *redis.Client, accountID string, version int64) error {
	keys := []string{AccountKey(accountID), AccountFloorKey(accountID)}
	return markAccountScript.Run(ctx, rdb, keys, version, FloorTTL.Milliseconds()).Err()
}

// ReleaseInflight drops the in-flight marker if token still owns it
func ReleaseInflight(ctx context.Context, rdb *redis.Client, accountID, token string) (bool, error) {
	n, err := releaseInflightScript.Run(ctx, rdb, []string{InflightKey(accountID)}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AcquireInflight sets the in-flight marker of an account.
// It returns ErrActionInFlight when the marker is already held.
// The returned release is safe to call more than once.
func AcquireInflight(ctx context.Context, rdb *redis.Client, accountID, token string) (func(), error) {
	key := InflightKey(accountID)
	ok, err := rdb.SetNX(ctx, key, token, InflightTTL).Result() // Only one holder at a time
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrActionInFlight
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Fresh context: the request may already be cancelled
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = ReleaseInflight(rctx, rdb, accountID, token) // Only drops the marker we own
	}, nil
}
