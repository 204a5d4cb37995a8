// Package presence tracks which users hold a live relay connection in Redis,
// so other replicas and the REST API can answer "is this user online".
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:user:"

// Deleting only when the stored connection id still matches keeps a late
// disconnect of a superseded socket from clearing a newer session.
var offlineScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Refreshing re-creates a missing key, since the connection is still live,
// but never takes over a key owned by another connection.
var refreshScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or cur == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

// RedisPresence stores user -> connection id with a TTL.
type RedisPresence struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisPresence wraps an existing client.
func NewRedisPresence(rdb redis.UniversalClient, ttl time.Duration) *RedisPresence {
	return &RedisPresence{rdb: rdb, ttl: ttl}
}

// Dial parses a redis:// URL, connects and pings.
func Dial(ctx context.Context, url string, ttl time.Duration) (*RedisPresence, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisPresence(rdb, ttl), nil
}

func key(userID string) string {
	return keyPrefix + userID
}

// Online records connID as the live connection of userID.
func (p *RedisPresence) Online(ctx context.Context, userID, connID string) error {
	if err := p.rdb.Set(ctx, key(userID), connID, p.ttl).Err(); err != nil {
		return fmt.Errorf("presence online %s: %w", userID, err)
	}
	return nil
}

// Offline clears userID if connID is still its recorded connection.
func (p *RedisPresence) Offline(ctx context.Context, userID, connID string) error {
	if err := offlineScript.Run(ctx, p.rdb, []string{key(userID)}, connID).Err(); err != nil {
		return fmt.Errorf("presence offline %s: %w", userID, err)
	}
	return nil
}

// Refresh extends the TTL of userID while connID is its recorded connection.
func (p *RedisPresence) Refresh(ctx context.Context, userID, connID string) error {
	if err := refreshScript.Run(ctx, p.rdb, []string{key(userID)}, connID, p.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("presence refresh %s: %w", userID, err)
	}
	return nil
}

// IsOnline reports whether userID has a recorded connection.
func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	_, err := p.rdb.Get(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("presence lookup %s: %w", userID, err)
	}
	return true, nil
}

// Ping checks the Redis connection.
func (p *RedisPresence) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (p *RedisPresence) Close() error {
	return p.rdb.Close()
}
