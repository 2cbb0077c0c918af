package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockKey is the Redis key holding the cycle lease.
const DefaultLockKey = "vatwatch:cycle:lock"

// Locker hands out an exclusive lease for one cycle. Acquire returns ok=false,
// without an error, when another holder owns the lease. Extend pushes the
// lease expiry forward and reports false once the lease has been lost.
type Locker interface {
	Acquire(ctx context.Context) (token string, ok bool, err error)
	Extend(ctx context.Context, token string) (bool, error)
	Release(ctx context.Context, token string) error
}

// NopLocker always grants the lease. It is used when a single process runs the scheduler.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context) (string, bool, error) { return "local", true, nil }
func (NopLocker) Extend(context.Context, string) (bool, error) { return true, nil }
func (NopLocker) Release(context.Context, string) error { return nil }

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the TTL only when the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig configures the Redis lease.
type RedisConfig struct {
	URL     string        `yaml:"url" envconfig:"REDIS_URL"`
	LockKey string        `yaml:"lock_key" envconfig:"REDIS_LOCK_KEY"`
	LockTTL time.Duration `yaml:"lock_ttl" envconfig:"REDIS_LOCK_TTL"`
}

// RedisLocker is a lease stored under a single key with SET NX PX.
// The TTL bounds how long a crashed holder blocks other processes.
type RedisLocker struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewRedisLocker builds a locker on an existing client.
func NewRedisLocker(client redis.Cmdable, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

// Acquire tries to take the lease.
func (l *RedisLocker) Acquire(ctx context.Context) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis lock acquire: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Extend renews the lease for another TTL if it is still ours.
func (l *RedisLocker) Extend(ctx context.Context, token string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis lock extend: %w", err)
	}
	return n == 1, nil
}

// Release gives the lease back if it is still ours.
func (l *RedisLocker) Release(ctx context.Context, token string) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis lock release: %w", err)
	}
	return nil
}

// NewRedisClient connects to Redis and verifies the connection.
// It returns nil, nil when no URL is configured.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
