package audit

import (
	"context"
	"testing"
	"time"
)

func TestService_AppendRequiresTypeAndSubject(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{SessionID: "s1"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if err := svc.Append(context.Background(), Event{Type: EventCallAttempt}); err == nil {
		t.Fatalf("expected error for missing subject")
	}
}

func TestService_LogCall(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.clock = func() time.Time { return fixed }

	if err := svc.LogCall(context.Background(), EventCallRinging, "s1", "m1", "room-7", "nurse-1", "target signaled"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].ID == "" || !evs[0].CreatedAt.Equal(fixed) {
		t.Fatalf("expected generated id and clock time, got %+v", evs[0])
	}
	if evs[0].Type != EventCallRinging || evs[0].LocationID != "room-7" {
		t.Fatalf("unexpected event %+v", evs[0])
	}
}

func TestService_LogDevice(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogDevice(context.Background(), EventDeviceOffline, "cam-1", "room-7", "heartbeat expired"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	evs := repo.Events()
	if len(evs) != 1 || evs[0].EndpointID != "cam-1" || evs[0].ActorID != "cam-1" {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestService_NoRepository(t *testing.T) {
	svc := NewService(nil)
	if err := svc.LogCall(context.Background(), EventCallAttempt, "s1", "", "", "", ""); err == nil {
		t.Fatalf("expected error without repository")
	}
}

func TestNewPostgresRepo_NilDB(t *testing.T) {
	if _, err := NewPostgresRepo(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
	var _ Repository = (*PostgresRepo)(nil)
	var _ Repository = (*MemoryRepo)(nil)
}
