package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLock_AcquireReleaseOwnership(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	ok, err := AcquireLock(ctx, rdb, "lock:x", "owner-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	ok, _ = AcquireLock(ctx, rdb, "lock:x", "owner-2", time.Minute)
	if ok {
		t.Fatalf("expected second acquire to fail")
	}
	if ttl := mr.TTL("lock:x"); ttl <= 0 {
		t.Fatalf("expected lock ttl to be set, got %v", ttl)
	}

	// A non-owner release must not drop the lock.
	if err := ReleaseLock(ctx, rdb, "lock:x", "owner-2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !mr.Exists("lock:x") {
		t.Fatalf("lock released by non-owner")
	}
	if err := ReleaseLock(ctx, rdb, "lock:x", "owner-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("lock:x") {
		t.Fatalf("expected lock to be released")
	}
}

func TestRedisHelpers_RejectNilClient(t *testing.T) {
	if _, err := AcquireLock(context.Background(), nil, "k", "t", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
