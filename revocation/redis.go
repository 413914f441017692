package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "gtr"

// RedisStore keeps one key per revoked jti with a TTL matching the token's
// remaining lifetime, so Redis expires entries on its own.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	leeway time.Duration
	now    func() time.Time
}

// NewRedisStore creates a [RedisStore]. An empty prefix uses "gtr".
func NewRedisStore(redisClient redis.UniversalClient, prefix string, leeway time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
		leeway: leeway,
		now:    time.Now,
	}
}

func (s *RedisStore) key(jti string) string {
	return s.prefix + ":" + jti
}

// Revoke sets the key with a TTL up to expiresAt plus leeway. A jti maps to a
// single token with a fixed exp, so rewriting the TTL is idempotent. Already
// expired tokens are not stored.
func (s *RedisStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := validate(jti, expiresAt); err != nil {
		return err
	}
	ttl := expiresAt.Add(s.leeway).Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := s.redis.Set(ctx, s.key(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeOnce claims the key with SET NX. A token already past its expiry
// still holds the key for a second so the race has a single winner.
func (s *RedisStore) RevokeOnce(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	if err := validate(jti, expiresAt); err != nil {
		return false, err
	}
	ttl := expiresAt.Add(s.leeway).Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	first, err := s.redis.SetNX(ctx, s.key(jti), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return first, nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
