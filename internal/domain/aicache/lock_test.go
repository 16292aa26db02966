package aicache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis implements the two commands the locker relies on.
type fakeRedis struct {
	redis.Scripter
	mu   sync.Mutex
	keys map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]string)}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[keys[0]] == args[0] {
		delete(f.keys, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLocker_ExclusiveUntilReleased(t *testing.T) {
	rdb := newFakeRedis()
	l := newRedisLocker(rdb, time.Minute)
	l.poll = 5 * time.Millisecond

	release, err := l.Acquire(context.Background(), "slot-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "slot-a"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected lock timeout while held, got %v", err)
	}

	other, err := l.Acquire(context.Background(), "slot-b")
	if err != nil {
		t.Fatalf("independent slot should not block: %v", err)
	}
	other()

	release()
	again, err := l.Acquire(context.Background(), "slot-a")
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	again()
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	rdb := newFakeRedis()
	l := newRedisLocker(rdb, time.Minute)

	release, _ := l.Acquire(context.Background(), "slot-a")
	// Simulate expiry and takeover by another replica.
	key := l.keyPrefix + ":slot-a"
	rdb.keys[key] = "someone-else"

	release()
	if rdb.keys[key] != "someone-else" {
		t.Error("release must not delete a lock held by another token")
	}
}
