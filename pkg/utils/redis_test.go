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

func TestAcquireLease_SingleHolder(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	ok, holder, err := AcquireLease(ctx, rdb, "lease:room-1", "s1", time.Minute)
	if err != nil || !ok || holder != "s1" {
		t.Fatalf("expected acquire, got ok=%v holder=%q err=%v", ok, holder, err)
	}

	ok, holder, err = AcquireLease(ctx, rdb, "lease:room-1", "s2", time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatalf("expected second owner to be rejected")
	}
	if holder != "s1" {
		t.Fatalf("expected holder s1, got %q", holder)
	}
}

func TestReleaseLease_OnlyOwner(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	if _, _, err := AcquireLease(ctx, rdb, "lease:room-1", "s1", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	released, err := ReleaseLease(ctx, rdb, "lease:room-1", "s2")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released || !mr.Exists("lease:room-1") {
		t.Fatalf("expected foreign release to be a no-op")
	}

	released, err = ReleaseLease(ctx, rdb, "lease:room-1", "s1")
	if err != nil || !released {
		t.Fatalf("expected owner release, got %v %v", released, err)
	}
	if mr.Exists("lease:room-1") {
		t.Fatalf("expected lease key deleted")
	}
}

func TestAcquireLease_ExpiresWithTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	if ok, _, _ := AcquireLease(ctx, rdb, "lease:room-1", "s1", time.Second); !ok {
		t.Fatalf("expected acquire")
	}
	mr.FastForward(2 * time.Second)

	ok, _, err := AcquireLease(ctx, rdb, "lease:room-1", "s2", time.Second)
	if err != nil || !ok {
		t.Fatalf("expected acquire after expiry, got %v %v", ok, err)
	}
}

func TestExtendLease_OnlyOwner(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	if ok, _, _ := AcquireLease(ctx, rdb, "lease:room-1", "s1", time.Second); !ok {
		t.Fatalf("expected acquire")
	}
	if ok, err := ExtendLease(ctx, rdb, "lease:room-1", "s2", time.Hour); err != nil || ok {
		t.Fatalf("expected foreign extend to be rejected, got %v %v", ok, err)
	}
	if ok, err := ExtendLease(ctx, rdb, "lease:room-1", "s1", time.Hour); err != nil || !ok {
		t.Fatalf("expected owner extend, got %v %v", ok, err)
	}
	if ttl := mr.TTL("lease:room-1"); ttl < time.Minute {
		t.Fatalf("expected extended ttl, got %v", ttl)
	}
}

func TestAcquireLease_ValidatesArgs(t *testing.T) {
	_, rdb := newTestRedis(t)
	if _, _, err := AcquireLease(context.Background(), rdb, "", "o", time.Second); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, _, err := AcquireLease(context.Background(), rdb, "k", "o", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	if _, _, err := AcquireLease(context.Background(), nil, "k", "o", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
