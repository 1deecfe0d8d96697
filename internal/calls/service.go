package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"virtualcare-platform/internal/audit"
	"virtualcare-platform/internal/meeting"
	"virtualcare-platform/internal/notify"
	"virtualcare-platform/internal/observability"
	"virtualcare-platform/internal/protocol"
)

const (
	DefaultMediaRegion = "us-east-1"

	metadataTimeout = 10 * time.Second
)

type Options struct {
	// RequireOnline rejects initiation when no live endpoint is registered for the location.
	RequireOnline bool
	// StrictNotify aborts initiation when the digital knock fails. Otherwise the
	// failure is logged and the call keeps ringing.
	StrictNotify     bool
	RecordingEnabled bool
	DefaultRegion    string

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Deps are the collaborators of the orchestrator. Metadata and Audit are optional.
type Deps struct {
	Store    SessionStore
	Presence Signaler
	Timer    Timer
	Meetings meeting.Provider
	Notifier notify.Notifier
	Metadata MetadataSink
	Audit    AuditLog
}

// Service is the call orchestrator. It drives a session through its states in
// response to initiation, target actions, ring timeouts and explicit ends.
//
// Concurrency: there is no lock around a session. Every transition is a guarded
// read-modify-write through the SessionStore, so whichever event observes the
// expected status first wins and later events become no-ops. No lock is held while
// a provider call is in flight.
type Service struct {
	store    SessionStore
	presence Signaler
	timer    Timer
	meetings meeting.Provider
	notifier notify.Notifier
	metadata MetadataSink
	audit    AuditLog

	opts    Options
	log     *slog.Logger
	metrics *observability.Metrics
	clock   func() time.Time

	bgMu     sync.Mutex
	draining bool
	bg       sync.WaitGroup
}

func NewService(d Deps, opts Options) (*Service, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("calls: session store is required")
	case d.Presence == nil:
		return nil, errors.New("calls: presence registry is required")
	case d.Timer == nil:
		return nil, errors.New("calls: timer is required")
	case d.Meetings == nil:
		return nil, errors.New("calls: meeting provider is required")
	}
	if d.Notifier == nil {
		d.Notifier = notify.Noop{}
	}
	if opts.DefaultRegion == "" {
		opts.DefaultRegion = DefaultMediaRegion
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Service{
		store:    d.Store,
		presence: d.Presence,
		timer:    d.Timer,
		meetings: d.Meetings,
		notifier: d.Notifier,
		metadata: d.Metadata,
		audit:    d.Audit,
		opts:     opts,
		log:      l.With("component", "calls"),
		metrics:  opts.Metrics,
		clock:    time.Now,
	}, nil
}

func (s *Service) now() time.Time { return s.clock().UTC() }

// Wait blocks until background metadata writes have finished. Call on shutdown;
// teardowns that run afterwards write their metadata inline.
func (s *Service) Wait() {
	s.bgMu.Lock()
	s.draining = true
	s.bgMu.Unlock()
	s.bg.Wait()
}

// Get returns the current session record.
func (s *Service) Get(ctx context.Context, sessionID string) (Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Session{}, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	return s.store.Get(ctx, sessionID)
}

// Initiate starts a call to the target at req.LocationID.
//
// Rejections (ErrDeviceOffline, ErrActiveCallExists) happen before any provider call.
// Meeting or attendee creation failure, and in strict mode a failed digital knock,
// abort the call and return a *ProviderError after undoing what was created.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	req.LocationID = strings.TrimSpace(req.LocationID)
	req.CallerID = strings.TrimSpace(req.CallerID)
	if req.LocationID == "" || req.CallerID == "" {
		return InitiateResult{}, fmt.Errorf("%w: location and caller are required", ErrInvalidArgument)
	}
	switch req.CallType {
	case "":
		req.CallType = CallTypeRegular
	case CallTypeRegular, CallTypeOverride:
	default:
		return InitiateResult{}, fmt.Errorf("%w: unknown call type %q", ErrInvalidArgument, req.CallType)
	}
	region := strings.TrimSpace(req.MediaRegion)
	if region == "" {
		region = s.opts.DefaultRegion
	}

	l := s.log.With("location_id", req.LocationID, "caller_id", req.CallerID, "call_type", string(req.CallType))
	s.metrics.CallEvent("attempt")

	online, err := s.presence.IsOnline(ctx, req.LocationID)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("check presence: %w", err)
	}
	if !online {
		if s.opts.RequireOnline {
			l.Info("call rejected: target offline")
			s.metrics.CallEvent("rejected_offline")
			return InitiateResult{}, ErrDeviceOffline
		}
		l.Warn("target offline, online check disabled")
	}

	sessionID := uuid.NewString()
	l = l.With("session_id", sessionID)
	if err := s.claimLocation(ctx, l, req.LocationID, sessionID); err != nil {
		if errors.Is(err, ErrActiveCallExists) {
			s.metrics.CallEvent("rejected_busy")
		}
		return InitiateResult{}, err
	}

	sess := Session{
		SessionID:  sessionID,
		LocationID: req.LocationID,
		CallerID:   req.CallerID,
		CallerName: req.CallerName,
		CallType:   req.CallType,
		Status:     StatusInitiating,
		CreatedAt:  s.now(),
	}
	s.auditCall(ctx, audit.EventCallAttempt, sess, "call initiated")

	mtg, err := s.meetings.CreateMeeting(ctx, meeting.CreateMeetingRequest{
		ClientRequestToken: meeting.NewClientRequestToken("mtg"),
		ExternalMeetingID:  meeting.ExternalMeetingID(req.LocationID, req.CallerID, sess.CreatedAt),
		MediaRegion:        region,
	})
	if err != nil {
		s.providerFailed(l, s.meetings.Name(), "create_meeting", err)
		s.releaseClaim(context.WithoutCancel(ctx), l, req.LocationID, sessionID)
		s.auditCall(ctx, audit.EventCallFailed, sess, "meeting creation failed")
		s.metrics.CallEvent("failed")
		return InitiateResult{}, &ProviderError{Op: "create_meeting", Err: err}
	}
	sess.MeetingID = mtg.MeetingID
	sess.MediaRegion = mtg.MediaRegion
	if sess.MediaRegion == "" {
		sess.MediaRegion = region
	}
	sess.MediaPlacement = mtg.MediaPlacement
	l = l.With("meeting_id", mtg.MeetingID)

	att, err := s.meetings.CreateAttendee(ctx, mtg.MeetingID, req.CallerID)
	if err != nil {
		s.providerFailed(l, s.meetings.Name(), "create_attendee", err)
		s.abort(ctx, l, sess, false)
		return InitiateResult{}, &ProviderError{Op: "create_attendee", Err: err}
	}
	sess.CallerAttendeeID = att.AttendeeID
	sess.CallerJoinToken = att.JoinToken

	if s.opts.RecordingEnabled {
		pipelineID, err := s.meetings.StartRecording(ctx, mtg.MeetingID)
		if err != nil {
			s.providerFailed(l, s.meetings.Name(), "start_recording", err)
			l.Warn("recording not started, continuing without it")
		} else {
			sess.PipelineID = pipelineID
		}
	}

	if err := s.store.Create(ctx, sess); err != nil {
		s.abort(ctx, l, sess, false)
		if errors.Is(err, ErrClaimLost) {
			// A provider call outlasted the initiation claim and another call may own
			// the location now.
			l.Warn("call aborted: location claim lost during initiation")
			s.metrics.CallEvent("rejected_busy")
			return InitiateResult{}, ErrActiveCallExists
		}
		l.Error("persist session failed", "err", err)
		return InitiateResult{}, fmt.Errorf("persist session: %w", err)
	}
	s.metrics.CallStarted()

	// The session is committed; the rest of the flow must not depend on the caller staying.
	ctx = context.WithoutCancel(ctx)

	if err := s.knock(ctx, l, sess); err != nil {
		if s.opts.StrictNotify {
			s.abort(ctx, l, sess, true)
			return InitiateResult{}, &ProviderError{Op: "signal_incoming", Err: err}
		}
		l.Warn("digital knock failed, call keeps ringing", "err", err)
	}

	ringingAt := s.now()
	cur, err := s.store.Update(ctx, sessionID, func(cs *Session) error {
		if cs.Status != StatusInitiating {
			return ErrStatusConflict
		}
		cs.Status = StatusRinging
		cs.RingingAt = &ringingAt
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrStatusConflict), errors.Is(err, ErrSessionNotFound):
		// Ended before it could ring.
		status := cur.Status
		if status == "" {
			status = StatusTerminated
		}
		l.Info("session advanced before ringing", "status", string(status))
		return s.result(sess, status), nil
	default:
		l.Error("persist ringing failed", "err", err)
		s.abort(ctx, l, sess, true)
		return InitiateResult{}, fmt.Errorf("persist session: %w", err)
	}

	s.metrics.CallEvent("ringing")
	s.auditCall(ctx, audit.EventCallRinging, cur, "target signaled")
	s.broadcastStatus(ctx, cur)

	status := StatusRinging
	if req.CallType == CallTypeOverride {
		status = s.accept(ctx, sessionID)
	} else if !s.timer.Schedule(sessionID, func() { s.onTimeout(sessionID) }) {
		l.Warn("ring timeout not armed")
	}

	l.Info("call initiated", "status", string(status))
	return s.result(sess, status), nil
}

// HandleTargetAction applies the target's answer to the session owning meetingID.
// Unknown or already torn down meetings are discarded without error: webhooks are
// retried and may arrive late or twice.
func (s *Service) HandleTargetAction(ctx context.Context, action TargetAction, meetingID, locationID string) error {
	switch action {
	case ActionAccepted, ActionDeclined, ActionIgnored:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidArgument, action)
	}
	if strings.TrimSpace(meetingID) == "" {
		return fmt.Errorf("%w: meeting id is required", ErrInvalidArgument)
	}
	l := s.log.With("meeting_id", meetingID, "location_id", locationID, "action", string(action))

	sessionID, err := s.store.SessionIDByMeeting(ctx, meetingID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			l.Info("target action for unknown meeting discarded")
			return nil
		}
		return fmt.Errorf("lookup meeting: %w", err)
	}
	cur, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			l.Info("target action for finished session discarded", "session_id", sessionID)
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}
	if locationID != "" && cur.LocationID != locationID {
		l.Warn("target action location mismatch, discarded", "session_id", sessionID, "session_location_id", cur.LocationID)
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	switch action {
	case ActionAccepted:
		s.accept(ctx, sessionID)
	case ActionDeclined:
		s.finish(ctx, sessionID, StatusDeclined, "target declined", StatusRinging)
	case ActionIgnored:
		s.finish(ctx, sessionID, StatusIgnored, "target ignored", StatusRinging)
	}
	return nil
}

// EndCall terminates the session from any non-terminal status. Ending a session whose
// teardown is already under way is a no-op.
func (s *Service) EndCall(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	cur, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("load session: %w", err)
	}
	if cur.Status.Terminal() {
		return nil
	}
	s.finish(context.WithoutCancel(ctx), sessionID, StatusTerminated, "ended by request")
	return nil
}

// claimLocation takes the location's active-call slot. A slot held by a session that
// already reached a terminal status (teardown in progress) is taken over once.
func (s *Service) claimLocation(ctx context.Context, l *slog.Logger, locationID, sessionID string) error {
	for attempt := 0; attempt < 2; attempt++ {
		holder, ok, err := s.store.ClaimLocation(ctx, locationID, sessionID)
		if err != nil {
			return fmt.Errorf("claim location: %w", err)
		}
		if ok {
			return nil
		}
		if holder == "" {
			continue
		}
		cur, err := s.store.Get(ctx, holder)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				// Holder is still initiating; its claim expires on its own if it died.
				break
			}
			return fmt.Errorf("load claim holder: %w", err)
		}
		if !cur.Status.Terminal() {
			break
		}
		l.Info("taking over location from finished session", "holder_session_id", holder, "holder_status", string(cur.Status))
		if err := s.store.ReleaseLocation(ctx, locationID, holder); err != nil {
			return fmt.Errorf("release stale claim: %w", err)
		}
	}
	l.Info("call rejected: active call exists")
	return ErrActiveCallExists
}

func (s *Service) releaseClaim(ctx context.Context, l *slog.Logger, locationID, sessionID string) {
	if err := s.store.ReleaseLocation(ctx, locationID, sessionID); err != nil {
		l.Error("release location failed", "err", err)
	}
}

// knock tells the target about the incoming call: directly over a browser socket
// when one is connected, otherwise through the notification provider.
func (s *Service) knock(ctx context.Context, l *slog.Logger, sess Session) error {
	msg := protocol.IncomingCall{
		Type:       protocol.TypeIncomingCall,
		SessionID:  sess.SessionID,
		MeetingID:  sess.MeetingID,
		LocationID: sess.LocationID,
		CallerName: sess.CallerName,
		CallType:   string(sess.CallType),
	}
	if s.presence.Signal(ctx, sess.LocationID, protocol.AudienceBrowser, msg) {
		l.Debug("incoming call pushed over signaling channel")
		return nil
	}
	err := s.notifier.SignalIncoming(ctx, notify.Knock{
		LocationID: sess.LocationID,
		MeetingID:  sess.MeetingID,
		CallerName: sess.CallerName,
		CallType:   string(sess.CallType),
	})
	if err != nil {
		s.providerFailed(l, s.notifier.Name(), "signal_incoming", err)
	}
	return err
}

func (s *Service) result(sess Session, status Status) InitiateResult {
	return InitiateResult{
		SessionID:      sess.SessionID,
		MeetingID:      sess.MeetingID,
		Status:         status,
		MediaRegion:    sess.MediaRegion,
		MediaPlacement: sess.MediaPlacement,
		Attendee: meeting.Attendee{
			AttendeeID:     sess.CallerAttendeeID,
			ExternalUserID: sess.CallerID,
			JoinToken:      sess.CallerJoinToken,
		},
		PipelineID: sess.PipelineID,
	}
}

func (s *Service) providerFailed(l *slog.Logger, provider, op string, err error) {
	s.metrics.ProviderError(provider, op)
	l.Error("provider call failed", "provider", provider, "op", op, "err", err)
}

func (s *Service) auditCall(ctx context.Context, typ audit.EventType, cs Session, message string) {
	if s.audit == nil {
		return
	}
	err := s.audit.LogCall(context.WithoutCancel(ctx), typ, cs.SessionID, cs.MeetingID, cs.LocationID, cs.CallerID, message)
	if err != nil {
		s.log.Warn("audit append failed", "event", string(typ), "session_id", cs.SessionID, "err", err)
	}
}

func (s *Service) broadcastStatus(ctx context.Context, cs Session) {
	s.presence.Broadcast(ctx, cs.LocationID, protocol.CallStatusUpdate{
		Type:       protocol.TypeCallStatusUpdate,
		SessionID:  cs.SessionID,
		LocationID: cs.LocationID,
		Status:     string(cs.Status),
		TSMs:       s.now().UnixMilli(),
	})
}
