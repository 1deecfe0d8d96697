package audit

import "time"

// Event is an immutable, append-only audit log record for call and device activity.
//
// Invariants:
// - Events are never updated or deleted.
// - Every event names its subject: a session (call events) or an endpoint (device events).
// - Identifiers only. Caller display names and other identifying text stay out of audit rows.
// - Audit writes are best-effort; do not block call flows on audit failures.
//
// Storage (Postgres): table audit_events, INSERT-only.

type Event struct {
	ID string `json:"id" db:"id"`

	Type EventType `json:"type" db:"type"`

	// ActorID is the user or endpoint causing the event (if applicable).
	ActorID string `json:"actor_id,omitempty" db:"actor_id"`

	SessionID  string `json:"session_id,omitempty" db:"session_id"`
	MeetingID  string `json:"meeting_id,omitempty" db:"meeting_id"`
	LocationID string `json:"location_id,omitempty" db:"location_id"`
	EndpointID string `json:"endpoint_id,omitempty" db:"endpoint_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventCallAttempt    EventType = "CALL_ATTEMPT"
	EventCallRinging    EventType = "CALL_RINGING"
	EventCallAccepted   EventType = "CALL_ACCEPTED"
	EventCallDeclined   EventType = "CALL_DECLINED"
	EventCallConnected  EventType = "CALL_CONNECTED"
	EventCallTerminated EventType = "CALL_TERMINATED"
	EventCallFailed     EventType = "CALL_FAILED"
	EventCallTimeout    EventType = "CALL_TIMEOUT"
	EventDeviceOnline   EventType = "DEVICE_ONLINE"
	EventDeviceOffline  EventType = "DEVICE_OFFLINE"
)
