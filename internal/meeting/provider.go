package meeting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider is the meeting-provider boundary used by the call orchestrator.
//
// Rules:
// - No provider SDK calls outside meeting adapters.
// - Every create call carries a fresh idempotency token so a retried request never
//   bills a second meeting or pipeline.
// - Adapters bound their own network calls with timeouts; the orchestrator does not.
type Provider interface {
	Name() string

	CreateMeeting(ctx context.Context, req CreateMeetingRequest) (Meeting, error)
	CreateAttendee(ctx context.Context, meetingID, externalUserID string) (Attendee, error)
	DeleteMeeting(ctx context.Context, meetingID string) error

	// StartRecording starts a capture pipeline for the meeting and returns its id.
	StartRecording(ctx context.Context, meetingID string) (string, error)
	StopRecording(ctx context.Context, pipelineID string) error
}

type CreateMeetingRequest struct {
	// ClientRequestToken makes the create call idempotent at the provider.
	ClientRequestToken string `json:"client_request_token"`
	ExternalMeetingID  string `json:"external_meeting_id"`
	MediaRegion        string `json:"media_region"`
}

// Placement is the set of media URLs a client needs to join a meeting.
type Placement struct {
	AudioHostURL      string `json:"audioHostUrl"`
	AudioFallbackURL  string `json:"audioFallbackUrl"`
	SignalingURL      string `json:"signalingUrl"`
	TurnControlURL    string `json:"turnControlUrl"`
	ScreenDataURL     string `json:"screenDataUrl"`
	ScreenSharingURL  string `json:"screenSharingUrl"`
	ScreenViewingURL  string `json:"screenViewingUrl"`
	EventIngestionURL string `json:"eventIngestionUrl"`
}

type Meeting struct {
	MeetingID      string    `json:"meetingId"`
	MediaRegion    string    `json:"mediaRegion"`
	MediaPlacement Placement `json:"mediaPlacement"`
}

type Attendee struct {
	AttendeeID     string `json:"attendeeId"`
	ExternalUserID string `json:"externalUserId"`
	JoinToken      string `json:"joinToken"`
}

// NewClientRequestToken returns a unique idempotency token, optionally prefixed
// for readability in provider consoles ("mtg-…", "pipe-…").
func NewClientRequestToken(prefix string) string {
	tok := uuid.NewString()
	if prefix == "" {
		return tok
	}
	return prefix + "-" + tok
}

// ExternalMeetingID correlates a provider meeting with the location and caller that started it.
func ExternalMeetingID(locationID, callerID string, at time.Time) string {
	return fmt.Sprintf("gw-%s-%s-%d", locationID, callerID, at.UnixMilli())
}
