package calls

import (
	"fmt"
	"strings"
	"time"

	"virtualcare-platform/internal/meeting"
)

// Session is one call attempt from initiation to teardown.
//
// Invariants:
// - At most one session with a non-terminal Status exists per LocationID.
// - MeetingID is assigned once, at initiation, and never changes.
// - PipelineID is set only if recording started; its absence is not an error.
// - TerminatedAt is set exactly once, by the transition into a terminal status.
// - Target attendee credentials exist only after the target accepted.
type Session struct {
	SessionID  string   `json:"sessionId"`
	MeetingID  string   `json:"meetingId"`
	LocationID string   `json:"locationId"`
	CallerID   string   `json:"callerId"`
	CallerName string   `json:"callerName"`
	CallType   CallType `json:"callType"`
	Status     Status   `json:"status"`

	MediaRegion    string            `json:"mediaRegion"`
	MediaPlacement meeting.Placement `json:"mediaPlacement"`

	CallerAttendeeID string `json:"callerAttendeeId"`
	CallerJoinToken  string `json:"callerJoinToken,omitempty"`
	TargetAttendeeID string `json:"targetAttendeeId,omitempty"`
	TargetJoinToken  string `json:"targetJoinToken,omitempty"`

	PipelineID string `json:"pipelineId,omitempty"`

	CreatedAt    time.Time  `json:"createdAt"`
	RingingAt    *time.Time `json:"ringingAt,omitempty"`
	AcceptedAt   *time.Time `json:"acceptedAt,omitempty"`
	ConnectedAt  *time.Time `json:"connectedAt,omitempty"`
	TerminatedAt *time.Time `json:"terminatedAt,omitempty"`
}

// Public returns a copy without join tokens, safe to show to consoles.
func (s Session) Public() Session {
	out := s
	out.CallerJoinToken = ""
	out.TargetJoinToken = ""
	return out
}

type Status string

const (
	StatusInitiating Status = "INITIATING"
	StatusRinging    Status = "RINGING"
	StatusAccepted   Status = "ACCEPTED"
	StatusConnected  Status = "CONNECTED"
	StatusDeclined   Status = "DECLINED"
	StatusIgnored    Status = "IGNORED"
	StatusTerminated Status = "TERMINATED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition may follow s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeclined, StatusIgnored, StatusTerminated, StatusFailed:
		return true
	default:
		return false
	}
}

type CallType string

const (
	CallTypeRegular  CallType = "regular"
	CallTypeOverride CallType = "override"
)

// ParseCallType accepts "regular" or "override"; empty means regular.
func ParseCallType(v string) (CallType, error) {
	switch CallType(strings.ToLower(strings.TrimSpace(v))) {
	case "", CallTypeRegular:
		return CallTypeRegular, nil
	case CallTypeOverride:
		return CallTypeOverride, nil
	default:
		return "", fmt.Errorf("%w: unknown call type %q", ErrInvalidArgument, v)
	}
}

// TargetAction is the target's answer to an incoming call.
type TargetAction string

const (
	ActionAccepted TargetAction = "ACCEPTED"
	ActionDeclined TargetAction = "DECLINED"
	ActionIgnored  TargetAction = "IGNORED"
)

func ParseTargetAction(v string) (TargetAction, error) {
	switch a := TargetAction(strings.ToUpper(strings.TrimSpace(v))); a {
	case ActionAccepted, ActionDeclined, ActionIgnored:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidArgument, v)
	}
}

type InitiateRequest struct {
	LocationID string
	CallerID   string
	CallerName string
	CallType   CallType
	// MediaRegion overrides the configured default region when set.
	MediaRegion string
}

// InitiateResult carries the caller's join credentials. Target credentials are
// never returned here; they are produced on acceptance and sent to the target only.
type InitiateResult struct {
	SessionID      string            `json:"sessionId"`
	MeetingID      string            `json:"meetingId"`
	Status         Status            `json:"status"`
	MediaRegion    string            `json:"mediaRegion"`
	MediaPlacement meeting.Placement `json:"mediaPlacement"`
	Attendee       meeting.Attendee  `json:"attendee"`
	PipelineID     string            `json:"pipelineId,omitempty"`
}
