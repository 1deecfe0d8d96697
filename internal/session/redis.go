package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"virtualcare-platform/internal/calls"
	"virtualcare-platform/pkg/utils"
)

const maxTxRetries = 5

// RedisStore keeps sessions as JSON strings with a TTL.
//
// By default Update is a plain read-modify-write: two concurrent writers to the same
// session can lose an update, and the orchestrator's status guards are the only
// ordering. With Strict set, Update runs under WATCH/MULTI and retries on conflict,
// so every fn sees the latest record.
type RedisStore struct {
	rdb    *redis.Client
	Strict bool
}

func NewRedisStore(rdb *redis.Client, strict bool) *RedisStore {
	return &RedisStore{rdb: rdb, Strict: strict}
}

func (s *RedisStore) Create(ctx context.Context, cs calls.Session) error {
	if cs.SessionID == "" || cs.MeetingID == "" || cs.LocationID == "" {
		return fmt.Errorf("session, meeting and location id are required")
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	// Extend the claim before writing anything so a session that lost its location
	// never becomes visible.
	held, err := utils.ExtendLease(ctx, s.rdb, locationKey(cs.LocationID), cs.SessionID, SessionTTL)
	if err != nil {
		return fmt.Errorf("extend location claim: %w", err)
	}
	if !held {
		return calls.ErrClaimLost
	}
	ok, err := s.rdb.SetNX(ctx, sessionKey(cs.SessionID), b, SessionTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s already exists", cs.SessionID)
	}
	if err := s.rdb.Set(ctx, meetingKey(cs.MeetingID), cs.SessionID, MeetingIndexTTL).Err(); err != nil {
		_ = s.rdb.Del(ctx, sessionKey(cs.SessionID)).Err()
		return err
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (calls.Session, error) {
	return get(ctx, s.rdb, sessionID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func get(ctx context.Context, g getter, sessionID string) (calls.Session, error) {
	b, err := g.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return calls.Session{}, ErrNotFound
	}
	if err != nil {
		return calls.Session{}, err
	}
	var cs calls.Session
	if err := json.Unmarshal(b, &cs); err != nil {
		return calls.Session{}, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return cs, nil
}

// writeBack replaces an existing record, keeping its TTL. A record deleted
// since it was read is not resurrected.
func writeBack(ctx context.Context, c redis.Cmdable, cs calls.Session) *redis.StatusCmd {
	b, _ := json.Marshal(cs)
	return c.SetArgs(ctx, sessionKey(cs.SessionID), b, redis.SetArgs{Mode: "XX", KeepTTL: true})
}

func (s *RedisStore) Update(ctx context.Context, sessionID string, fn func(*calls.Session) error) (calls.Session, error) {
	if s.Strict {
		return s.updateTx(ctx, sessionID, fn)
	}
	cs, err := get(ctx, s.rdb, sessionID)
	if err != nil {
		return calls.Session{}, err
	}
	cur := cs
	if err := fn(&cs); err != nil {
		return cur, err
	}
	if err := writeBack(ctx, s.rdb, cs).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return calls.Session{}, ErrNotFound
		}
		return cur, err
	}
	return cs, nil
}

func (s *RedisStore) updateTx(ctx context.Context, sessionID string, fn func(*calls.Session) error) (calls.Session, error) {
	key := sessionKey(sessionID)
	var out calls.Session

	txf := func(tx *redis.Tx) error {
		cs, err := get(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		out = cs
		if err := fn(&cs); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			writeBack(ctx, p, cs)
			return nil
		})
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out = cs
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return calls.Session{}, err
		}
		return out, err
	}
	return out, fmt.Errorf("update session %s: too much contention", sessionID)
}

func (s *RedisStore) SessionIDByMeeting(ctx context.Context, meetingID string) (string, error) {
	id, err := s.rdb.Get(ctx, meetingKey(meetingID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return id, err
}

func (s *RedisStore) ClaimLocation(ctx context.Context, locationID, sessionID string) (string, bool, error) {
	ok, holder, err := utils.AcquireLease(ctx, s.rdb, locationKey(locationID), sessionID, InitiationClaimTTL)
	return holder, ok, err
}

func (s *RedisStore) ReleaseLocation(ctx context.Context, locationID, sessionID string) error {
	_, err := utils.ReleaseLease(ctx, s.rdb, locationKey(locationID), sessionID)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, cs calls.Session) error {
	keys := []string{sessionKey(cs.SessionID)}
	if cs.MeetingID != "" {
		keys = append(keys, meetingKey(cs.MeetingID))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return err
	}
	if cs.LocationID == "" {
		return nil
	}
	_, err := utils.ReleaseLease(ctx, s.rdb, locationKey(cs.LocationID), cs.SessionID)
	return err
}
