package session

import (
	"time"

	"virtualcare-platform/internal/calls"
)

const (
	// SessionTTL bounds how long a session record outlives a crashed process.
	SessionTTL = 2 * time.Hour
	// MeetingIndexTTL bounds the meeting -> session index entry.
	MeetingIndexTTL = time.Hour
	// InitiationClaimTTL bounds a location claim until its session is committed;
	// Create extends it to SessionTTL.
	InitiationClaimTTL = 2 * time.Minute

	sessionKeyPrefix  = "call:session:"
	meetingKeyPrefix  = "meeting:map:"
	locationKeyPrefix = "call:location:"
)

// ErrNotFound is returned for missing sessions and index entries.
var ErrNotFound = calls.ErrSessionNotFound

func sessionKey(id string) string  { return sessionKeyPrefix + id }
func meetingKey(id string) string  { return meetingKeyPrefix + id }
func locationKey(id string) string { return locationKeyPrefix + id }

var (
	_ calls.SessionStore = (*RedisStore)(nil)
	_ calls.SessionStore = (*MemoryStore)(nil)
)
