package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisMirror(t *testing.T) (*miniredis.Miniredis, *RedisMirror) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisMirror(rdb)
}

func TestRedisMirror_HeartbeatExpiry(t *testing.T) {
	mr, m := newRedisMirror(t)
	ctx := context.Background()

	if err := m.MarkOnline(ctx, "cart-1", "room-1", 30*time.Second); err != nil {
		t.Fatalf("mark online: %v", err)
	}
	if !mr.Exists("device:heartbeat:cart-1") || !mr.Exists("device:state:cart-1") {
		t.Fatalf("expected heartbeat and state keys")
	}
	if ok, err := m.LocationOnline(ctx, "room-1"); err != nil || !ok {
		t.Fatalf("expected online, got %v %v", ok, err)
	}

	mr.FastForward(31 * time.Second)
	if ok, err := m.LocationOnline(ctx, "room-1"); err != nil || ok {
		t.Fatalf("expected offline after heartbeat ttl, got %v %v", ok, err)
	}

	if err := m.Touch(ctx, "cart-1", "room-1", 30*time.Second); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if ok, _ := m.LocationOnline(ctx, "room-1"); !ok {
		t.Fatalf("expected online after touch")
	}
}

func TestRedisMirror_StateTransitions(t *testing.T) {
	_, m := newRedisMirror(t)
	ctx := context.Background()

	_ = m.MarkOnline(ctx, "cart-1", "room-1", time.Minute)
	if err := m.SetState(ctx, "cart-1", StateInCall); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if st, _ := m.State(ctx, "cart-1"); st != StateInCall {
		t.Fatalf("expected IN_CALL, got %s", st)
	}
	if ok, _ := m.LocationOnline(ctx, "room-1"); !ok {
		t.Fatalf("expected in-call endpoint online")
	}

	if err := m.MarkOffline(ctx, "cart-1", "room-1"); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	if st, _ := m.State(ctx, "cart-1"); st != StateOffline {
		t.Fatalf("expected OFFLINE, got %s", st)
	}
	if ok, _ := m.LocationOnline(ctx, "room-1"); ok {
		t.Fatalf("expected location offline")
	}
}

func TestRedisMirror_SetStateOnUnknownEndpoint(t *testing.T) {
	mr, m := newRedisMirror(t)
	ctx := context.Background()

	if err := m.SetState(ctx, "ghost", StateInCall); err != nil {
		t.Fatalf("expected no error for unknown endpoint, got %v", err)
	}
	if mr.Exists("device:state:ghost") {
		t.Fatalf("expected no state key created")
	}
	if st, _ := m.State(ctx, "ghost"); st != StateOffline {
		t.Fatalf("expected OFFLINE default, got %s", st)
	}
}

func TestRedisMirror_AnyLiveEndpointKeepsLocationOnline(t *testing.T) {
	_, m := newRedisMirror(t)
	ctx := context.Background()

	_ = m.MarkOnline(ctx, "cart-1", "room-1", time.Minute)
	_ = m.MarkOnline(ctx, "browser-1", "room-1", time.Minute)
	_ = m.MarkOffline(ctx, "cart-1", "room-1")

	if ok, _ := m.LocationOnline(ctx, "room-1"); !ok {
		t.Fatalf("expected location online via remaining endpoint")
	}
}
