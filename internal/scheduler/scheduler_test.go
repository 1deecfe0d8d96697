package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedule_FiresOnceAfterDelay(t *testing.T) {
	s := New(20 * time.Millisecond)
	fired := make(chan struct{}, 2)

	if !s.Schedule("s1", func() { fired <- struct{}{} }) {
		t.Fatalf("expected schedule to arm")
	}
	if s.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", s.Pending())
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not fire")
	}

	select {
	case <-fired:
		t.Fatalf("timer fired twice")
	case <-time.After(50 * time.Millisecond):
	}
	if s.Pending() != 0 {
		t.Fatalf("expected no pending timers after fire, got %d", s.Pending())
	}
}

func TestSchedule_NotRenewable(t *testing.T) {
	s := New(time.Hour)
	defer s.Stop()

	if !s.Schedule("s1", func() {}) {
		t.Fatalf("expected first schedule to arm")
	}
	if s.Schedule("s1", func() {}) {
		t.Fatalf("expected second schedule for same key to be rejected")
	}
	if !s.Schedule("s2", func() {}) {
		t.Fatalf("expected other key to arm")
	}
}

func TestStop_DropsPendingTimers(t *testing.T) {
	s := New(20 * time.Millisecond)
	var calls atomic.Int32
	s.Schedule("s1", func() { calls.Add(1) })
	s.Stop()

	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("expected stopped timer not to fire")
	}
	if s.Schedule("s2", func() {}) {
		t.Fatalf("expected schedule after stop to be rejected")
	}
}
