package aicache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes generation for a slot across server replicas. The
// in-process singleflight group already covers a single replica.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// ErrLockTimeout is returned when a slot lock cannot be taken before the
// caller's context ends.
var ErrLockTimeout = errors.New("slot lock not acquired")

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-taken by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

type RedisLocker struct {
	client    redisClient
	keyPrefix string
	ttl       time.Duration
	poll      time.Duration
}

// NewRedisLocker parses url and pings the server. ttl bounds how long a
// crashed holder can block a slot; it should exceed the generator timeout.
func NewRedisLocker(ctx context.Context, url string, ttl time.Duration) (*RedisLocker, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newRedisLocker(client, ttl), client, nil
}

func newRedisLocker(client redisClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, keyPrefix: "reports:aicache:lock", ttl: ttl, poll: 100 * time.Millisecond}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	full := l.keyPrefix + ":" + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire slot lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-time.After(l.poll):
		}
	}

	return func() {
		// The holder's context may already be done.
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(relCtx, l.client, []string{full}, token).Err()
	}, nil
}
