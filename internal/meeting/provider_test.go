package meeting

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLocalProvider_ImplementsProvider(t *testing.T) {
	var _ Provider = (*LocalProvider)(nil)
}

func TestNewClientRequestToken(t *testing.T) {
	a := NewClientRequestToken("mtg")
	b := NewClientRequestToken("mtg")
	if !strings.HasPrefix(a, "mtg-") {
		t.Fatalf("expected prefix, got %q", a)
	}
	if a == b {
		t.Fatalf("expected unique tokens")
	}
	if tok := NewClientRequestToken(""); len(tok) != 36 {
		t.Fatalf("expected bare uuid without prefix, got %q", tok)
	}
}

func TestExternalMeetingID(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	if got := ExternalMeetingID("room-7", "nurse-1", at); got != "gw-room-7-nurse-1-1700000000123" {
		t.Fatalf("unexpected external id %q", got)
	}
}

func TestLocalProvider_Lifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider("", true)

	m, err := p.CreateMeeting(ctx, CreateMeetingRequest{ClientRequestToken: "mtg-1", MediaRegion: "us-east-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.MeetingID == "" || m.MediaPlacement.SignalingURL == "" {
		t.Fatalf("expected meeting with placement, got %+v", m)
	}

	again, err := p.CreateMeeting(ctx, CreateMeetingRequest{ClientRequestToken: "mtg-1"})
	if err != nil || again.MeetingID != m.MeetingID {
		t.Fatalf("expected idempotent create, got %+v %v", again, err)
	}

	att, err := p.CreateAttendee(ctx, m.MeetingID, "nurse-1")
	if err != nil || att.JoinToken == "" || att.ExternalUserID != "nurse-1" {
		t.Fatalf("unexpected attendee %+v %v", att, err)
	}

	pid, err := p.StartRecording(ctx, m.MeetingID)
	if err != nil || !strings.HasPrefix(pid, "pipe-") {
		t.Fatalf("unexpected pipeline %q %v", pid, err)
	}
	if err := p.StopRecording(ctx, pid); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if err := p.DeleteMeeting(ctx, m.MeetingID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if p.Active() != 0 {
		t.Fatalf("expected no active meetings")
	}
	if _, err := p.CreateAttendee(ctx, m.MeetingID, "x"); err != ErrMeetingNotFound {
		t.Fatalf("expected ErrMeetingNotFound, got %v", err)
	}
}

func TestLocalProvider_RecordingDisabled(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider("", false)
	m, _ := p.CreateMeeting(ctx, CreateMeetingRequest{ClientRequestToken: "t"})
	if _, err := p.StartRecording(ctx, m.MeetingID); err == nil {
		t.Fatalf("expected recording to fail when disabled")
	}
}
