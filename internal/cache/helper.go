package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"roadcrew/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	ProfileKeyPrefix = "profile:%s"
	ProfilesAllKey   = "profiles:all"
)

const ProfilesAllTTL = time.Minute

// ProfileTTL bounds how long a single profile stays cached. It is set once
// at startup from PROFILE_CACHE_TTL.
var ProfileTTL = 10 * time.Minute

func ProfileKey(userID string) string {
	return fmt.Sprintf(ProfileKeyPrefix, userID)
}

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	c := GetClient()
	if c == nil {
		return false, nil
	}
	s, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	c := GetClient()
	if c == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, b, ttl).Err()
}

// Aside tries Redis first and on a miss calls fetch, which must populate
// dest, then stores dest with ttl. Redis failures fall through to fetch.
func Aside(ctx context.Context, family, key string, dest any, ttl time.Duration, fetch func() error) error {
	found, err := GetJSON(ctx, key, dest)
	switch {
	case err != nil:
		observability.CacheLookups.WithLabelValues(family, "error").Inc()
	case found:
		observability.CacheLookups.WithLabelValues(family, "hit").Inc()
		return nil
	default:
		observability.CacheLookups.WithLabelValues(family, "miss").Inc()
	}

	if err := fetch(); err != nil {
		return err
	}

	_ = SetJSON(ctx, key, dest, ttl)
	return nil
}

// Invalidate deletes keys, ignoring a missing client.
func Invalidate(ctx context.Context, keys ...string) {
	if c := GetClient(); c != nil && len(keys) > 0 {
		c.Del(ctx, keys...)
	}
}

// InvalidateProfile drops a profile and the full listing that contains it.
func InvalidateProfile(ctx context.Context, userID string) {
	Invalidate(ctx, ProfileKey(userID), ProfilesAllKey)
}
