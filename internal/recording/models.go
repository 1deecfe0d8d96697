package recording

import "time"

// Metadata records where a call's capture pipeline wrote its artifacts.
//
// Rows are written once, after teardown, and never updated. They carry
// identifiers only; caller display names are not stored here.
type Metadata struct {
	ID         string     `json:"id" db:"id"`
	SessionID  string     `json:"session_id" db:"session_id"`
	MeetingID  string     `json:"meeting_id" db:"meeting_id"`
	PipelineID string     `json:"pipeline_id" db:"pipeline_id"`
	LocationID string     `json:"location_id" db:"location_id"`
	CallerID   string     `json:"caller_id" db:"caller_id"`
	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// StoragePrefix is the object-store prefix holding the artifacts.
	StoragePrefix string `json:"storage_prefix" db:"storage_prefix"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// StoragePrefix returns the prefix the capture pipeline writes under.
func StoragePrefix(pipelineID string) string {
	return "captures/" + pipelineID
}
