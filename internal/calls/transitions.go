package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"virtualcare-platform/internal/audit"
	"virtualcare-platform/internal/protocol"
	"virtualcare-platform/internal/recording"
)

// accept moves a RINGING session to ACCEPTED, creates the target attendee and tells
// the target to join. Delivery confirmed means CONNECTED; otherwise FAILED and teardown.
// Every status change is persisted before the next provider call. Returns the status
// the session ended up in as seen by this path.
func (s *Service) accept(ctx context.Context, sessionID string) Status {
	l := s.log.With("session_id", sessionID)

	acceptedAt := s.now()
	cur, err := s.store.Update(ctx, sessionID, func(cs *Session) error {
		if cs.Status != StatusRinging {
			return ErrStatusConflict
		}
		cs.Status = StatusAccepted
		cs.AcceptedAt = &acceptedAt
		return nil
	})
	if err != nil {
		if isStale(err) {
			l.Info("accept ignored", "status", string(cur.Status))
		} else {
			l.Error("persist accepted failed", "err", err)
		}
		return cur.Status
	}
	l = l.With("meeting_id", cur.MeetingID, "location_id", cur.LocationID)

	s.metrics.CallEvent("accepted")
	if cur.RingingAt != nil {
		s.metrics.ObserveRingDuration(acceptedAt.Sub(*cur.RingingAt))
	}
	s.auditCall(ctx, audit.EventCallAccepted, cur, "target accepted")
	s.broadcastStatus(ctx, cur)

	att, err := s.meetings.CreateAttendee(ctx, cur.MeetingID, "device-"+cur.LocationID)
	if err != nil {
		s.providerFailed(l, s.meetings.Name(), "create_target_attendee", err)
		return s.finish(ctx, sessionID, StatusFailed, "target attendee not created", StatusAccepted)
	}

	cur, err = s.store.Update(ctx, sessionID, func(cs *Session) error {
		if cs.Status != StatusAccepted {
			return ErrStatusConflict
		}
		cs.TargetAttendeeID = att.AttendeeID
		cs.TargetJoinToken = att.JoinToken
		return nil
	})
	if err != nil {
		if isStale(err) {
			l.Info("session advanced during accept", "status", string(cur.Status))
			return cur.Status
		}
		l.Error("persist target attendee failed", "err", err)
		return s.finish(ctx, sessionID, StatusFailed, "target attendee not persisted", StatusAccepted)
	}

	join := protocol.JoinMeeting{
		Type:           protocol.TypeJoinMeeting,
		SessionID:      cur.SessionID,
		MeetingID:      cur.MeetingID,
		MediaRegion:    cur.MediaRegion,
		MediaPlacement: cur.MediaPlacement,
		AttendeeID:     att.AttendeeID,
		JoinToken:      att.JoinToken,
	}
	if !s.presence.Signal(ctx, cur.LocationID, protocol.AudienceAny, join) {
		l.Warn("join signal not delivered")
		return s.finish(ctx, sessionID, StatusFailed, "join signal not delivered", StatusAccepted)
	}

	connectedAt := s.now()
	cur, err = s.store.Update(ctx, sessionID, func(cs *Session) error {
		if cs.Status != StatusAccepted {
			return ErrStatusConflict
		}
		cs.Status = StatusConnected
		cs.ConnectedAt = &connectedAt
		return nil
	})
	if err != nil {
		if isStale(err) {
			l.Info("session advanced before connect", "status", string(cur.Status))
		} else {
			l.Error("persist connected failed", "err", err)
		}
		return cur.Status
	}

	s.metrics.CallEvent("connected")
	s.auditCall(ctx, audit.EventCallConnected, cur, "target joined")
	s.broadcastStatus(ctx, cur)
	l.Info("call connected")
	return StatusConnected
}

// finish moves the session into the terminal status to and runs teardown. With from
// set, the transition only applies while the session is in one of those statuses.
// A session that is already terminal is never touched again, so TerminatedAt is
// stamped by exactly one path.
func (s *Service) finish(ctx context.Context, sessionID string, to Status, reason string, from ...Status) Status {
	l := s.log.With("session_id", sessionID)

	terminatedAt := s.now()
	cur, err := s.store.Update(ctx, sessionID, func(cs *Session) error {
		if cs.Status.Terminal() {
			return ErrStatusConflict
		}
		if len(from) > 0 && !slices.Contains(from, cs.Status) {
			return ErrStatusConflict
		}
		cs.Status = to
		cs.TerminatedAt = &terminatedAt
		return nil
	})
	if err != nil {
		if isStale(err) {
			l.Info("transition ignored", "to", string(to), "status", string(cur.Status))
		} else {
			l.Error("persist terminal status failed", "to", string(to), "err", err)
		}
		return cur.Status
	}

	s.metrics.CallEvent(strings.ToLower(string(to)))
	s.auditCall(ctx, terminalEvent(to), cur, reason)
	l.Info("call finished", "status", string(to), "reason", reason)

	s.teardown(ctx, cur)
	return to
}

// onTimeout fires when the ring timer expires. It only acts if the session is
// still RINGING; any action that got there first wins.
func (s *Service) onTimeout(sessionID string) {
	ctx := context.Background()
	l := s.log.With("session_id", sessionID)

	cur, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			l.Error("ring timeout: load session failed", "err", err)
		}
		return
	}
	if cur.Status != StatusRinging {
		l.Debug("ring timeout no-op", "status", string(cur.Status))
		return
	}
	s.metrics.CallEvent("timeout")
	s.finish(ctx, sessionID, StatusIgnored, "ring timeout", StatusRinging)
}

// teardown releases everything a session holds. Each step is isolated: a failing
// step is logged and counted and the remaining steps still run.
func (s *Service) teardown(ctx context.Context, cs Session) {
	ctx = context.WithoutCancel(ctx)
	l := s.log.With("session_id", cs.SessionID, "meeting_id", cs.MeetingID, "location_id", cs.LocationID)

	if cs.PipelineID != "" {
		s.step(l, "stop_recording", func() error {
			return s.meetings.StopRecording(ctx, cs.PipelineID)
		})
		s.persistMetadata(l, cs)
	}
	s.step(l, "delete_meeting", func() error {
		return s.meetings.DeleteMeeting(ctx, cs.MeetingID)
	})
	s.step(l, "leave_signal", func() error {
		s.presence.Signal(ctx, cs.LocationID, protocol.AudienceAny, protocol.LeaveMeeting{
			Type:      protocol.TypeLeaveMeeting,
			SessionID: cs.SessionID,
			MeetingID: cs.MeetingID,
		})
		return nil
	})
	s.step(l, "restore_notify", func() error {
		return s.notifier.SignalRestore(ctx, cs.LocationID, cs.MeetingID)
	})
	s.step(l, "broadcast_status", func() error {
		s.broadcastStatus(ctx, cs)
		return nil
	})
	s.step(l, "call_ended", func() error {
		s.presence.Signal(ctx, cs.LocationID, protocol.AudienceBrowser, protocol.CallEnded{
			Type:      protocol.TypeCallEnded,
			SessionID: cs.SessionID,
			MeetingID: cs.MeetingID,
			Status:    string(cs.Status),
		})
		return nil
	})
	s.step(l, "delete_session", func() error {
		return s.store.Delete(ctx, cs)
	})

	s.metrics.CallEnded()
	l.Info("call torn down", "status", string(cs.Status))
}

// abort undoes an initiation that failed after the meeting was created. committed
// says whether the session record was already written.
func (s *Service) abort(ctx context.Context, l *slog.Logger, sess Session, committed bool) {
	ctx = context.WithoutCancel(ctx)

	s.metrics.CallEvent("failed")
	s.auditCall(ctx, audit.EventCallFailed, sess, "initiation aborted")

	if sess.PipelineID != "" {
		s.step(l, "stop_recording", func() error {
			return s.meetings.StopRecording(ctx, sess.PipelineID)
		})
	}
	s.step(l, "delete_meeting", func() error {
		return s.meetings.DeleteMeeting(ctx, sess.MeetingID)
	})
	if !committed {
		s.releaseClaim(ctx, l, sess.LocationID, sess.SessionID)
		return
	}
	s.step(l, "delete_session", func() error {
		return s.store.Delete(ctx, sess)
	})
	s.metrics.CallEnded()
}

func (s *Service) step(l *slog.Logger, name string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			s.metrics.TeardownError(name)
			l.Error("teardown step panicked", "step", name, "panic", fmt.Sprint(p))
		}
	}()
	if err := fn(); err != nil {
		s.metrics.TeardownError(name)
		l.Error("teardown step failed", "step", name, "err", err)
	}
}

// persistMetadata writes the recording metadata in the background, or inline once
// Wait has been called. Failures are logged and never reach the caller.
func (s *Service) persistMetadata(l *slog.Logger, cs Session) {
	if s.metadata == nil {
		return
	}
	startedAt := cs.CreatedAt
	m := recording.Metadata{
		SessionID:     cs.SessionID,
		MeetingID:     cs.MeetingID,
		PipelineID:    cs.PipelineID,
		LocationID:    cs.LocationID,
		CallerID:      cs.CallerID,
		StartedAt:     &startedAt,
		EndedAt:       cs.TerminatedAt,
		StoragePrefix: recording.StoragePrefix(cs.PipelineID),
	}

	save := func() {
		ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
		defer cancel()
		if err := s.metadata.Save(ctx, m); err != nil {
			s.metrics.TeardownError("persist_metadata")
			l.Error("recording metadata not persisted", "pipeline_id", cs.PipelineID, "err", err)
			return
		}
		l.Debug("recording metadata persisted", "pipeline_id", cs.PipelineID)
	}
	if !s.goBackground(save) {
		save()
	}
}

// goBackground runs fn on a tracked goroutine. It reports false once Wait has
// started, so no goroutine is added to a WaitGroup that is being waited on.
func (s *Service) goBackground(fn func()) bool {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.draining {
		return false
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
	return true
}

func isStale(err error) bool {
	return errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrSessionNotFound)
}

func terminalEvent(st Status) audit.EventType {
	switch st {
	case StatusDeclined:
		return audit.EventCallDeclined
	case StatusIgnored:
		return audit.EventCallTimeout
	case StatusTerminated:
		return audit.EventCallTerminated
	default:
		return audit.EventCallFailed
	}
}
