package presence

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is the mirrored endpoint state.
type State string

const (
	StateOnline  State = "ONLINE"
	StateOffline State = "OFFLINE"
	StateInCall  State = "IN_CALL"
)

const (
	stateKeyPrefix     = "device:state:"
	heartbeatKeyPrefix = "device:heartbeat:"
	locationKeyPrefix  = "location:endpoints:"

	// stateTTL keeps state keys of endpoints that vanished without a disconnect from piling up.
	stateTTL = 24 * time.Hour
)

// Mirror holds endpoint liveness outside the process that owns the socket, so any
// instance can answer "is this location online". An endpoint is live while its
// heartbeat entry exists; the entry's TTL is the heartbeat interval times the
// missed-beat threshold.
type Mirror interface {
	MarkOnline(ctx context.Context, endpointID, locationID string, ttl time.Duration) error
	// Touch refreshes the heartbeat entry and restores state and membership if they were lost.
	Touch(ctx context.Context, endpointID, locationID string, ttl time.Duration) error
	SetState(ctx context.Context, endpointID string, st State) error
	MarkOffline(ctx context.Context, endpointID, locationID string) error
	State(ctx context.Context, endpointID string) (State, error)
	// LocationOnline reports whether any endpoint at the location is ONLINE or IN_CALL
	// with a live heartbeat.
	LocationOnline(ctx context.Context, locationID string) (bool, error)
}

func live(st State) bool { return st == StateOnline || st == StateInCall }

// RedisMirror implements Mirror with plain keys:
// device:state:<id>, device:heartbeat:<id> and the set location:endpoints:<location>.
type RedisMirror struct {
	rdb   *redis.Client
	clock func() time.Time
}

func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb, clock: time.Now}
}

func (m *RedisMirror) MarkOnline(ctx context.Context, endpointID, locationID string, ttl time.Duration) error {
	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, stateKeyPrefix+endpointID, string(StateOnline), stateTTL)
		p.Set(ctx, heartbeatKeyPrefix+endpointID, m.stamp(), ttl)
		p.SAdd(ctx, locationKeyPrefix+locationID, endpointID)
		return nil
	})
	return err
}

func (m *RedisMirror) Touch(ctx context.Context, endpointID, locationID string, ttl time.Duration) error {
	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, heartbeatKeyPrefix+endpointID, m.stamp(), ttl)
		p.SetNX(ctx, stateKeyPrefix+endpointID, string(StateOnline), stateTTL)
		p.SAdd(ctx, locationKeyPrefix+locationID, endpointID)
		return nil
	})
	return err
}

func (m *RedisMirror) SetState(ctx context.Context, endpointID string, st State) error {
	err := m.rdb.SetArgs(ctx, stateKeyPrefix+endpointID, string(st), redis.SetArgs{Mode: "XX", TTL: stateTTL}).Err()
	if errors.Is(err, redis.Nil) {
		// Endpoint went away meanwhile; nothing to update.
		return nil
	}
	return err
}

func (m *RedisMirror) MarkOffline(ctx context.Context, endpointID, locationID string) error {
	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, stateKeyPrefix+endpointID, string(StateOffline), stateTTL)
		p.Del(ctx, heartbeatKeyPrefix+endpointID)
		p.SRem(ctx, locationKeyPrefix+locationID, endpointID)
		return nil
	})
	return err
}

func (m *RedisMirror) State(ctx context.Context, endpointID string) (State, error) {
	v, err := m.rdb.Get(ctx, stateKeyPrefix+endpointID).Result()
	if errors.Is(err, redis.Nil) {
		return StateOffline, nil
	}
	return State(v), err
}

func (m *RedisMirror) LocationOnline(ctx context.Context, locationID string) (bool, error) {
	ids, err := m.rdb.SMembers(ctx, locationKeyPrefix+locationID).Result()
	if err != nil || len(ids) == 0 {
		return false, err
	}

	states := make([]*redis.StringCmd, len(ids))
	beats := make([]*redis.IntCmd, len(ids))
	_, err = m.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			states[i] = p.Get(ctx, stateKeyPrefix+id)
			beats[i] = p.Exists(ctx, heartbeatKeyPrefix+id)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	for i := range ids {
		st, err := states[i].Result()
		if err != nil {
			continue
		}
		if live(State(st)) && beats[i].Val() == 1 {
			return true, nil
		}
	}
	return false, nil
}

func (m *RedisMirror) stamp() string {
	return strconv.FormatInt(m.clock().UnixMilli(), 10)
}

// MemoryMirror is a process-local Mirror for tests and single-process runs.
type MemoryMirror struct {
	mu        sync.Mutex
	clock     func() time.Time
	states    map[string]State
	beats     map[string]time.Time // endpoint -> heartbeat expiry
	locations map[string]map[string]struct{}
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{
		clock:     time.Now,
		states:    map[string]State{},
		beats:     map[string]time.Time{},
		locations: map[string]map[string]struct{}{},
	}
}

func (m *MemoryMirror) addLocked(endpointID, locationID string) {
	set, ok := m.locations[locationID]
	if !ok {
		set = map[string]struct{}{}
		m.locations[locationID] = set
	}
	set[endpointID] = struct{}{}
}

func (m *MemoryMirror) MarkOnline(ctx context.Context, endpointID, locationID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[endpointID] = StateOnline
	m.beats[endpointID] = m.clock().Add(ttl)
	m.addLocked(endpointID, locationID)
	return nil
}

func (m *MemoryMirror) Touch(ctx context.Context, endpointID, locationID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beats[endpointID] = m.clock().Add(ttl)
	if _, ok := m.states[endpointID]; !ok {
		m.states[endpointID] = StateOnline
	}
	m.addLocked(endpointID, locationID)
	return nil
}

func (m *MemoryMirror) SetState(ctx context.Context, endpointID string, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[endpointID]; ok {
		m.states[endpointID] = st
	}
	return nil
}

func (m *MemoryMirror) MarkOffline(ctx context.Context, endpointID, locationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[endpointID] = StateOffline
	delete(m.beats, endpointID)
	delete(m.locations[locationID], endpointID)
	return nil
}

func (m *MemoryMirror) State(ctx context.Context, endpointID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[endpointID]; ok {
		return st, nil
	}
	return StateOffline, nil
}

func (m *MemoryMirror) LocationOnline(ctx context.Context, locationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	for id := range m.locations[locationID] {
		if exp, ok := m.beats[id]; ok && now.Before(exp) && live(m.states[id]) {
			return true, nil
		}
	}
	return false, nil
}
