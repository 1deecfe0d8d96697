package calls

import (
	"context"

	"virtualcare-platform/internal/audit"
	"virtualcare-platform/internal/protocol"
	"virtualcare-platform/internal/recording"
)

// SessionStore is the TTL-bounded record store for sessions, the meeting index and
// the per-location claim. Missing records are reported as ErrSessionNotFound.
type SessionStore interface {
	// Create writes the session record and its meeting index entry together and
	// extends the session's location claim to the record's lifetime. It fails with
	// ErrClaimLost when sessionID no longer holds the claim.
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (Session, error)
	// Update reads the record, applies fn and writes it back whole. If fn returns an
	// error nothing is written and the current record is returned with that error.
	Update(ctx context.Context, sessionID string, fn func(*Session) error) (Session, error)
	SessionIDByMeeting(ctx context.Context, meetingID string) (string, error)

	// ClaimLocation takes the single active-call slot for a location. When the slot is
	// held, ok is false and holder names the session holding it.
	ClaimLocation(ctx context.Context, locationID, sessionID string) (holder string, ok bool, err error)
	// ReleaseLocation frees the slot only if sessionID still holds it.
	ReleaseLocation(ctx context.Context, locationID, sessionID string) error

	// Delete removes the record, the meeting index entry and the session's claim.
	Delete(ctx context.Context, s Session) error
}

// Signaler is the presence registry surface the orchestrator uses.
type Signaler interface {
	IsOnline(ctx context.Context, locationID string) (bool, error)
	// Signal delivers msg to the endpoints at locationID selected by aud and reports
	// whether at least one delivery succeeded.
	Signal(ctx context.Context, locationID string, aud protocol.Audience, msg any) bool
	// Broadcast sends msg to every party subscribed to locationID.
	Broadcast(ctx context.Context, locationID string, msg any)
}

// Timer arms a single deferred callback per key.
type Timer interface {
	Schedule(key string, fn func()) bool
}

type AuditLog interface {
	LogCall(ctx context.Context, typ audit.EventType, sessionID, meetingID, locationID, actorID, message string) error
}

type MetadataSink interface {
	Save(ctx context.Context, m recording.Metadata) error
}
