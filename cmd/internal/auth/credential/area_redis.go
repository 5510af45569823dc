package credential

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisFieldAccess  = "access_token"
	redisFieldRefresh = "refresh_token"
	redisFieldSavedAt = "saved_at"
)

// RedisArea persists a pair as a Redis hash keyed by profile.
type RedisArea struct {
	rdb    redis.Cmdable
	prefix string
	key    string
	ttl    time.Duration
}

// RedisOption configures RedisArea behavior.
type RedisOption func(*RedisArea) error

// WithRedisPrefix sets the key prefix (default: "labdash:cred").
func WithRedisPrefix(prefix string) RedisOption {
	return func(a *RedisArea) error {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			return errors.New("credential: empty redis prefix")
		}
		a.prefix = prefix
		return nil
	}
}

// WithRedisTTL bounds how long a pair survives in Redis. Zero disables expiry.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(a *RedisArea) error {
		if ttl < 0 {
			return errors.New("credential: negative redis ttl")
		}
		a.ttl = ttl
		return nil
	}
}

// NewRedisArea constructs a Redis-backed area for the given profile.
func NewRedisArea(rdb redis.Cmdable, profile string, opts ...RedisOption) (*RedisArea, error) {
	a := &RedisArea{
		rdb:    rdb,
		prefix: "labdash:cred",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.rdb == nil {
		return nil, errors.New("credential: nil redis client")
	}
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return nil, errors.New("credential: empty profile")
	}
	a.key = a.prefix + ":" + profile
	return a, nil
}

// Key returns the Redis key holding the pair.
func (a *RedisArea) Key() string { return a.key }

func (a *RedisArea) Load(ctx context.Context) (Pair, bool, error) {
	m, err := a.rdb.HGetAll(ctx, a.key).Result()
	if err != nil {
		return Pair{}, false, err
	}
	p := Pair{AccessToken: m[redisFieldAccess], RefreshToken: m[redisFieldRefresh]}
	if p.IsZero() {
		return Pair{}, false, nil
	}
	return p, true, nil
}

func (a *RedisArea) Save(ctx context.Context, p Pair) error {
	_, err := a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, a.key)
		pipe.HSet(ctx, a.key,
			redisFieldAccess, p.AccessToken,
			redisFieldRefresh, p.RefreshToken,
			redisFieldSavedAt, time.Now().UTC().Unix(),
		)
		if a.ttl > 0 {
			pipe.Expire(ctx, a.key, a.ttl)
		}
		return nil
	})
	return err
}

func (a *RedisArea) Clear(ctx context.Context) error {
	return a.rdb.Del(ctx, a.key).Err()
}
