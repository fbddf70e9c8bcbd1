package identity

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLockout keeps one counter per key. The window starts at the first
// failure (INCR then PEXPIRE), so the counter resets on its own.
type RedisLockout struct {
	redis  redis.UniversalClient
	cfg    LockoutConfig
	prefix string
	hash   func(string) string
}

// NewRedisLockout creates a Redis-backed Lockout. hash maps a key (a
// normalized email) to the stored name, so raw emails never reach Redis.
func NewRedisLockout(client redis.UniversalClient, cfg LockoutConfig, hash func(string) string) *RedisLockout {
	if hash == nil {
		hash = func(s string) string { return s }
	}
	return &RedisLockout{redis: client, cfg: cfg, prefix: "sf:lock:", hash: hash}
}

func (l *RedisLockout) key(k string) string { return l.prefix + l.hash(k) }

func (l *RedisLockout) Locked(ctx context.Context, key string) (bool, time.Duration, error) {
	if !l.cfg.enabled() || key == "" {
		return false, 0, nil
	}

	count, err := l.redis.Get(ctx, l.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, 0, nil
		}
		return false, 0, unavailable("identity.Lockout", err)
	}
	if count < int64(l.cfg.Threshold) {
		return false, 0, nil
	}

	ttl, err := l.redis.PTTL(ctx, l.key(key)).Result()
	if err != nil {
		return false, 0, unavailable("identity.Lockout", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return true, ttl, nil
}

func (l *RedisLockout) Fail(ctx context.Context, key string) (bool, error) {
	if !l.cfg.enabled() || key == "" {
		return false, nil
	}

	count, err := l.redis.Incr(ctx, l.key(key)).Result()
	if err != nil {
		return false, unavailable("identity.Lockout", err)
	}
	if count == 1 {
		if err := l.redis.PExpire(ctx, l.key(key), l.cfg.Window).Err(); err != nil {
			return false, unavailable("identity.Lockout", err)
		}
	}
	return count >= int64(l.cfg.Threshold), nil
}

func (l *RedisLockout) Reset(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return unavailable("identity.Lockout", err)
	}
	return nil
}
