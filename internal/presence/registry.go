package presence

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"virtualcare-platform/internal/audit"
	"virtualcare-platform/internal/observability"
	"virtualcare-platform/internal/protocol"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultOfflineThreshold  = 3
)

var (
	ErrNotRegistered   = errors.New("endpoint not registered")
	ErrInvalidEndpoint = errors.New("invalid endpoint registration")
)

// Conn is one live signaling connection. Send must be safe for concurrent use.
type Conn interface {
	Send(msg any) error
	Close() error
}

type AuditLog interface {
	LogDevice(ctx context.Context, typ audit.EventType, endpointID, locationID, message string) error
}

// EndpointInfo describes a registered target endpoint.
type EndpointInfo struct {
	ID              string
	LocationID      string
	Kind            protocol.Audience // AudienceDevice or AudienceBrowser
	FirmwareVersion string
	Capabilities    []string
}

type endpoint struct {
	EndpointInfo
	conn          Conn
	lastHeartbeat time.Time
}

type Options struct {
	HeartbeatInterval time.Duration
	OfflineThreshold  int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Audit   AuditLog
}

// Registry maps endpoints and console subscriptions to their connections.
//
// The maps are process-local; liveness is mirrored through Mirror so other
// processes can answer IsOnline. Connections are always written to outside the
// registry lock: targets are copied under RLock and sent to afterwards.
type Registry struct {
	mirror    Mirror
	interval  time.Duration
	threshold int

	log     *slog.Logger
	metrics *observability.Metrics
	audit   AuditLog
	clock   func() time.Time

	mu          sync.RWMutex
	endpoints   map[string]*endpoint
	byLocation  map[string]map[string]struct{}
	subscribers map[string]map[Conn]struct{}
}

func NewRegistry(mirror Mirror, opts Options) *Registry {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.OfflineThreshold <= 0 {
		opts.OfflineThreshold = DefaultOfflineThreshold
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Registry{
		mirror:      mirror,
		interval:    opts.HeartbeatInterval,
		threshold:   opts.OfflineThreshold,
		log:         l.With("component", "presence"),
		metrics:     opts.Metrics,
		audit:       opts.Audit,
		clock:       time.Now,
		endpoints:   map[string]*endpoint{},
		byLocation:  map[string]map[string]struct{}{},
		subscribers: map[string]map[Conn]struct{}{},
	}
}

func (r *Registry) HeartbeatInterval() time.Duration { return r.interval }

// TTL is how long an endpoint stays live without a heartbeat.
func (r *Registry) TTL() time.Duration { return r.interval * time.Duration(r.threshold) }

// Register binds an endpoint to conn. A previous connection for the same endpoint id
// is replaced and closed.
func (r *Registry) Register(ctx context.Context, info EndpointInfo, conn Conn) error {
	if info.ID == "" || info.LocationID == "" || conn == nil {
		return ErrInvalidEndpoint
	}
	if info.Kind != protocol.AudienceDevice && info.Kind != protocol.AudienceBrowser {
		return ErrInvalidEndpoint
	}
	l := r.log.With("endpoint_id", info.ID, "location_id", info.LocationID, "kind", string(info.Kind))

	r.mu.Lock()
	old, existed := r.endpoints[info.ID]
	if existed {
		r.removeLocked(old)
	}
	r.endpoints[info.ID] = &endpoint{EndpointInfo: info, conn: conn, lastHeartbeat: r.clock()}
	set, ok := r.byLocation[info.LocationID]
	if !ok {
		set = map[string]struct{}{}
		r.byLocation[info.LocationID] = set
	}
	set[info.ID] = struct{}{}
	r.mu.Unlock()

	if existed {
		r.metrics.EndpointConnected(string(old.Kind), -1)
		if old.conn != conn {
			_ = old.conn.Close()
		}
		if old.LocationID != info.LocationID {
			if err := r.mirror.MarkOffline(ctx, info.ID, old.LocationID); err != nil {
				l.Warn("mirror offline for previous location failed", "err", err)
			}
		}
	}
	r.metrics.EndpointConnected(string(info.Kind), 1)

	if err := r.mirror.MarkOnline(ctx, info.ID, info.LocationID, r.TTL()); err != nil {
		l.Error("mirror online failed", "err", err)
	}
	r.auditDevice(ctx, audit.EventDeviceOnline, info, "registered")
	l.Info("endpoint registered", "replaced", existed)
	return nil
}

// Unregister removes the endpoint if it is still bound to conn (nil matches any).
// A stale connection of a re-registered endpoint therefore cannot evict the new one.
func (r *Registry) Unregister(ctx context.Context, endpointID string, conn Conn) bool {
	return r.unregister(ctx, endpointID, conn, "disconnected")
}

func (r *Registry) unregister(ctx context.Context, endpointID string, conn Conn, reason string) bool {
	r.mu.Lock()
	ep, ok := r.endpoints[endpointID]
	if !ok || (conn != nil && ep.conn != conn) {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(ep)
	r.mu.Unlock()

	r.metrics.EndpointConnected(string(ep.Kind), -1)
	if err := r.mirror.MarkOffline(ctx, ep.ID, ep.LocationID); err != nil {
		r.log.Error("mirror offline failed", "endpoint_id", ep.ID, "err", err)
	}
	r.auditDevice(ctx, audit.EventDeviceOffline, ep.EndpointInfo, reason)
	r.log.Info("endpoint unregistered", "endpoint_id", ep.ID, "location_id", ep.LocationID, "reason", reason)
	return true
}

func (r *Registry) removeLocked(ep *endpoint) {
	delete(r.endpoints, ep.ID)
	if set, ok := r.byLocation[ep.LocationID]; ok {
		delete(set, ep.ID)
		if len(set) == 0 {
			delete(r.byLocation, ep.LocationID)
		}
	}
}

// Heartbeat refreshes the endpoint's liveness. conn must be the registered connection.
func (r *Registry) Heartbeat(ctx context.Context, endpointID string, conn Conn) error {
	r.mu.Lock()
	ep, ok := r.endpoints[endpointID]
	if !ok || ep.conn != conn {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	ep.lastHeartbeat = r.clock()
	loc := ep.LocationID
	r.mu.Unlock()

	return r.mirror.Touch(ctx, endpointID, loc, r.TTL())
}

// IsOnline answers from the mirror, not from local connections.
func (r *Registry) IsOnline(ctx context.Context, locationID string) (bool, error) {
	return r.mirror.LocationOnline(ctx, locationID)
}

type target struct {
	id   string
	conn Conn
}

// Signal sends msg to every endpoint at locationID selected by aud. It returns true if
// at least one send succeeded. An endpoint whose send fails is treated as gone.
func (r *Registry) Signal(ctx context.Context, locationID string, aud protocol.Audience, msg any) bool {
	msgType, _ := protocol.TypeOf(msg)
	l := r.log.With("location_id", locationID, "type", string(msgType))

	r.mu.RLock()
	var targets []target
	for id := range r.byLocation[locationID] {
		ep := r.endpoints[id]
		if ep != nil && aud.Matches(ep.Kind) {
			targets = append(targets, target{id: id, conn: ep.conn})
		}
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		l.Debug("signal: no endpoint registered", "audience", string(aud))
		r.metrics.SignalDelivery(string(msgType), false)
		return false
	}

	var delivered []string
	for _, t := range targets {
		if err := r.send(t.conn, msgType, msg); err != nil {
			l.Warn("signal delivery failed, dropping endpoint", "endpoint_id", t.id, "err", err)
			r.drop(ctx, t.id, t.conn, "send failed")
			continue
		}
		delivered = append(delivered, t.id)
	}
	r.metrics.SignalDelivery(string(msgType), len(delivered) > 0)

	var st State
	switch msgType {
	case protocol.TypeJoinMeeting:
		st = StateInCall
	case protocol.TypeLeaveMeeting:
		st = StateOnline
	}
	if st != "" {
		for _, id := range delivered {
			if err := r.mirror.SetState(ctx, id, st); err != nil {
				l.Warn("mirror state update failed", "endpoint_id", id, "err", err)
			}
		}
	}
	return len(delivered) > 0
}

// Subscribe adds conn to the parties receiving broadcasts for locationID.
func (r *Registry) Subscribe(locationID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subscribers[locationID]
	if !ok {
		set = map[Conn]struct{}{}
		r.subscribers[locationID] = set
	}
	set[conn] = struct{}{}
}

// Unsubscribe removes conn from every location.
func (r *Registry) Unsubscribe(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for loc, set := range r.subscribers {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.subscribers, loc)
		}
	}
}

// Broadcast sends msg to all subscribers of locationID. Subscribers that fail are removed.
func (r *Registry) Broadcast(ctx context.Context, locationID string, msg any) {
	msgType, _ := protocol.TypeOf(msg)

	r.mu.RLock()
	conns := make([]Conn, 0, len(r.subscribers[locationID]))
	for c := range r.subscribers[locationID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if err := r.send(c, msgType, msg); err != nil {
			r.log.Debug("broadcast to subscriber failed", "location_id", locationID, "err", err)
			r.Unsubscribe(c)
			_ = c.Close()
		}
	}
}

// Relay forwards a console command to one device endpoint.
func (r *Registry) Relay(ctx context.Context, deviceID string, msg any) bool {
	r.mu.RLock()
	ep, ok := r.endpoints[deviceID]
	var conn Conn
	if ok && ep.Kind == protocol.AudienceDevice {
		conn = ep.conn
	}
	r.mu.RUnlock()
	if conn == nil {
		return false
	}
	msgType, _ := protocol.TypeOf(msg)
	if err := r.send(conn, msgType, msg); err != nil {
		r.drop(ctx, deviceID, conn, "send failed")
		return false
	}
	return true
}

func (r *Registry) send(c Conn, msgType protocol.MessageType, msg any) error {
	if err := c.Send(msg); err != nil {
		return err
	}
	r.metrics.WSMessage("outbound", string(msgType))
	return nil
}

func (r *Registry) drop(ctx context.Context, endpointID string, conn Conn, reason string) {
	_ = conn.Close()
	r.unregister(ctx, endpointID, conn, reason)
}

// Sweep drops local endpoints whose last heartbeat is older than TTL.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := r.clock().Add(-r.TTL())

	r.mu.RLock()
	var expired []target
	for id, ep := range r.endpoints {
		if ep.lastHeartbeat.Before(cutoff) {
			expired = append(expired, target{id: id, conn: ep.conn})
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, t := range expired {
		_ = t.conn.Close()
		if r.unregister(ctx, t.id, t.conn, "heartbeat expired") {
			n++
		}
	}
	return n
}

// Run sweeps once per heartbeat interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Sweep(ctx); n > 0 {
				r.log.Info("heartbeat watchdog dropped endpoints", "count", n)
			}
		}
	}
}

// Endpoints lists the endpoints registered locally for a location, sorted by id.
func (r *Registry) Endpoints(locationID string) []EndpointInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EndpointInfo, 0, len(r.byLocation[locationID]))
	for id := range r.byLocation[locationID] {
		out = append(out, r.endpoints[id].EndpointInfo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) auditDevice(ctx context.Context, typ audit.EventType, info EndpointInfo, message string) {
	if r.audit == nil {
		return
	}
	err := r.audit.LogDevice(context.WithoutCancel(ctx), typ, info.ID, info.LocationID, message)
	if err != nil {
		r.log.Warn("audit append failed", "event", string(typ), "endpoint_id", info.ID, "err", err)
	}
}
