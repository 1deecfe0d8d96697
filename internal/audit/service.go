package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to console users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.SessionID == "" && e.EndpointID == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogCall records a call lifecycle event.
func (s *Service) LogCall(ctx context.Context, typ EventType, sessionID, meetingID, locationID, actorID, message string) error {
	return s.Append(ctx, Event{
		Type:       typ,
		ActorID:    actorID,
		SessionID:  sessionID,
		MeetingID:  meetingID,
		LocationID: locationID,
		Message:    message,
	})
}

// LogDevice records a device presence change.
func (s *Service) LogDevice(ctx context.Context, typ EventType, endpointID, locationID, message string) error {
	return s.Append(ctx, Event{
		Type:       typ,
		ActorID:    endpointID,
		EndpointID: endpointID,
		LocationID: locationID,
		Message:    message,
	})
}
