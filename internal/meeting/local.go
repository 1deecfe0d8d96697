package meeting

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var ErrMeetingNotFound = errors.New("meeting not found")

// LocalProvider is an in-process meeting provider for local development and tests.
//
// It hands out placement URLs under BaseURL and tracks live meetings and pipelines
// so that leaks are observable. It never talks to a real media service.
type LocalProvider struct {
	BaseURL          string
	RecordingEnabled bool

	mu        sync.Mutex
	tokens    map[string]string // client request token -> meeting id
	meetings  map[string]Meeting
	pipelines map[string]string // pipeline id -> meeting id
}

func NewLocalProvider(baseURL string, recordingEnabled bool) *LocalProvider {
	if baseURL == "" {
		baseURL = "https://media.local"
	}
	return &LocalProvider{
		BaseURL:          baseURL,
		RecordingEnabled: recordingEnabled,
		tokens:           map[string]string{},
		meetings:         map[string]Meeting{},
		pipelines:        map[string]string{},
	}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) CreateMeeting(ctx context.Context, req CreateMeetingRequest) (Meeting, error) {
	if req.ClientRequestToken == "" {
		return Meeting{}, fmt.Errorf("client request token is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.tokens[req.ClientRequestToken]; ok {
		return p.meetings[id], nil
	}

	id := uuid.NewString()
	base := fmt.Sprintf("%s/%s", p.BaseURL, id)
	m := Meeting{
		MeetingID:   id,
		MediaRegion: req.MediaRegion,
		MediaPlacement: Placement{
			AudioHostURL:      base + "/audio",
			AudioFallbackURL:  base + "/audio-fallback",
			SignalingURL:      base + "/signal",
			TurnControlURL:    base + "/turn",
			ScreenDataURL:     base + "/screen/data",
			ScreenSharingURL:  base + "/screen/share",
			ScreenViewingURL:  base + "/screen/view",
			EventIngestionURL: base + "/events",
		},
	}
	p.tokens[req.ClientRequestToken] = id
	p.meetings[id] = m
	return m, nil
}

func (p *LocalProvider) CreateAttendee(ctx context.Context, meetingID, externalUserID string) (Attendee, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.meetings[meetingID]; !ok {
		return Attendee{}, ErrMeetingNotFound
	}
	return Attendee{
		AttendeeID:     uuid.NewString(),
		ExternalUserID: externalUserID,
		JoinToken:      uuid.NewString(),
	}, nil
}

func (p *LocalProvider) DeleteMeeting(ctx context.Context, meetingID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.meetings[meetingID]; !ok {
		return ErrMeetingNotFound
	}
	delete(p.meetings, meetingID)
	return nil
}

func (p *LocalProvider) StartRecording(ctx context.Context, meetingID string) (string, error) {
	if !p.RecordingEnabled {
		return "", fmt.Errorf("recording disabled")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.meetings[meetingID]; !ok {
		return "", ErrMeetingNotFound
	}
	id := NewClientRequestToken("pipe")
	p.pipelines[id] = meetingID
	return id, nil
}

func (p *LocalProvider) StopRecording(ctx context.Context, pipelineID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pipelines[pipelineID]; !ok {
		return fmt.Errorf("pipeline %q not found", pipelineID)
	}
	delete(p.pipelines, pipelineID)
	return nil
}

// Active reports the number of live meetings.
func (p *LocalProvider) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.meetings)
}
