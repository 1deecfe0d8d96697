package scheduler

import (
	"sync"
	"time"
)

// Scheduler runs at most one deferred callback per key after a fixed delay.
//
// Timers are not renewable and there is no per-key cancel: the callback is expected
// to re-check the state it acts on. Stop drops every pending timer (process shutdown).
type Scheduler struct {
	delay time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func New(delay time.Duration) *Scheduler {
	return &Scheduler{
		delay:  delay,
		timers: map[string]*time.Timer{},
	}
}

func (s *Scheduler) Delay() time.Duration { return s.delay }

// Schedule arms fn for key. It returns false if key is already armed or the
// scheduler has been stopped.
func (s *Scheduler) Schedule(key string, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if _, ok := s.timers[key]; ok {
		return false
	}
	s.timers[key] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		fn()
	})
	return true
}

// Pending reports the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for k, t := range s.timers {
		t.Stop()
		delete(s.timers, k)
	}
}
