package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"virtualcare-platform/internal/calls"
)

// MemoryStore is a process-local store with the same TTLs and read-modify-write
// semantics as the default RedisStore: fn runs without the lock held, so concurrent
// updates of one session can overwrite each other. Used by tests and single-process runs.
type MemoryStore struct {
	mu       sync.Mutex
	clock    func() time.Time
	sessions map[string]sessionEntry
	meetings map[string]stringEntry
	claims   map[string]stringEntry
}

type sessionEntry struct {
	s         calls.Session
	expiresAt time.Time
}

type stringEntry struct {
	v         string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clock:    time.Now,
		sessions: map[string]sessionEntry{},
		meetings: map[string]stringEntry{},
		claims:   map[string]stringEntry{},
	}
}

func (m *MemoryStore) alive(exp time.Time) bool { return m.clock().Before(exp) }

func (m *MemoryStore) Create(ctx context.Context, cs calls.Session) error {
	if cs.SessionID == "" || cs.MeetingID == "" || cs.LocationID == "" {
		return fmt.Errorf("session, meeting and location id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if c, ok := m.claims[cs.LocationID]; !ok || c.v != cs.SessionID || !m.alive(c.expiresAt) {
		return calls.ErrClaimLost
	}
	m.claims[cs.LocationID] = stringEntry{v: cs.SessionID, expiresAt: now.Add(SessionTTL)}
	if e, ok := m.sessions[cs.SessionID]; ok && m.alive(e.expiresAt) {
		return fmt.Errorf("session %s already exists", cs.SessionID)
	}
	m.sessions[cs.SessionID] = sessionEntry{s: cs, expiresAt: now.Add(SessionTTL)}
	m.meetings[cs.MeetingID] = stringEntry{v: cs.SessionID, expiresAt: now.Add(MeetingIndexTTL)}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (calls.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok || !m.alive(e.expiresAt) {
		return calls.Session{}, ErrNotFound
	}
	return e.s, nil
}

func (m *MemoryStore) Update(ctx context.Context, sessionID string, fn func(*calls.Session) error) (calls.Session, error) {
	cs, err := m.Get(ctx, sessionID)
	if err != nil {
		return calls.Session{}, err
	}
	cur := cs
	if err := fn(&cs); err != nil {
		return cur, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok || !m.alive(e.expiresAt) {
		return calls.Session{}, ErrNotFound
	}
	m.sessions[sessionID] = sessionEntry{s: cs, expiresAt: e.expiresAt}
	return cs, nil
}

func (m *MemoryStore) SessionIDByMeeting(ctx context.Context, meetingID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.meetings[meetingID]
	if !ok || !m.alive(e.expiresAt) {
		return "", ErrNotFound
	}
	return e.v, nil
}

func (m *MemoryStore) ClaimLocation(ctx context.Context, locationID, sessionID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.claims[locationID]; ok && m.alive(c.expiresAt) {
		return c.v, false, nil
	}
	m.claims[locationID] = stringEntry{v: sessionID, expiresAt: m.clock().Add(InitiationClaimTTL)}
	return sessionID, true, nil
}

func (m *MemoryStore) ReleaseLocation(ctx context.Context, locationID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.claims[locationID]; ok && c.v == sessionID {
		delete(m.claims, locationID)
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, cs calls.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, cs.SessionID)
	if cs.MeetingID != "" {
		delete(m.meetings, cs.MeetingID)
	}
	if c, ok := m.claims[cs.LocationID]; ok && c.v == cs.SessionID {
		delete(m.claims, cs.LocationID)
	}
	return nil
}
