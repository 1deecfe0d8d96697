package presence

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"virtualcare-platform/internal/observability"
	"virtualcare-platform/internal/protocol"
	"virtualcare-platform/pkg/logger"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 64 << 10
)

// Handler is the signaling websocket gateway. One connection may register as an
// endpoint, subscribe to locations as a console, or both.
type Handler struct {
	reg      *Registry
	upgrader websocket.Upgrader
	log      *slog.Logger
	metrics  *observability.Metrics
}

// NewHandler builds the gateway. Browsers are accepted from the request host or from
// allowedOrigins ("*" allows any); clients that send no Origin are always accepted.
func NewHandler(reg *Registry, allowedOrigins []string, l *slog.Logger, m *observability.Metrics) *Handler {
	if l == nil {
		l = slog.Default()
	}
	allowAny := false
	allowed := map[string]struct{}{}
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAny = true
		}
		if o != "" {
			allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
		}
	}
	return &Handler{
		reg:     reg,
		log:     l.With("component", "ws"),
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAny {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				if _, ok := allowed[strings.ToLower(origin)]; ok {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws        *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) Send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.ws.Close() })
	return err
}

// connState is what the read loop knows about its own connection.
type connState struct {
	endpointID string
	subscribed bool
}

func (h *Handler) ServeWS(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logger.FromGin(c).Debug("websocket upgrade failed", "err", err)
		return
	}
	conn := &wsConn{ws: ws}
	l := logger.FromGin(c).With("remote", c.ClientIP())
	l.Debug("websocket connected")

	st := &connState{}
	defer func() {
		ctx := context.WithoutCancel(c.Request.Context())
		if st.endpointID != "" {
			h.reg.Unregister(ctx, st.endpointID, conn)
		}
		if st.subscribed {
			h.reg.Unsubscribe(conn)
		}
		_ = conn.Close()
		l.Debug("websocket closed", "endpoint_id", st.endpointID)
	}()

	idle := h.reg.TTL() + h.reg.HeartbeatInterval()
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(idle))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.Info("websocket read failed", "endpoint_id", st.endpointID, "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(idle))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			code := "invalid_client_message"
			if errors.Is(err, protocol.ErrUnsupportedType) {
				code = "unsupported_type"
			}
			h.reply(conn, protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: code, Detail: err.Error()})
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			h.metrics.WSMessage("inbound", string(t))
		}
		h.dispatch(c.Request.Context(), l, conn, st, parsed)
	}
}

func (h *Handler) dispatch(ctx context.Context, l *slog.Logger, conn *wsConn, st *connState, msg any) {
	switch m := msg.(type) {
	case protocol.Register:
		h.register(ctx, l, conn, st, EndpointInfo{
			ID:              m.EndpointID,
			LocationID:      m.LocationID,
			Kind:            protocol.AudienceDevice,
			FirmwareVersion: m.FirmwareVersion,
			Capabilities:    m.Capabilities,
		})
	case protocol.RegisterBrowser:
		id := strings.TrimSpace(m.EndpointID)
		if id == "" {
			id = "browser-" + uuid.NewString()
		}
		h.register(ctx, l, conn, st, EndpointInfo{ID: id, LocationID: m.LocationID, Kind: protocol.AudienceBrowser})
	case protocol.JoinLocation:
		h.reg.Subscribe(m.LocationID, conn)
		st.subscribed = true
		l.Debug("console subscribed", "location_id", m.LocationID)
	case protocol.Heartbeat:
		if m.EndpointID != st.endpointID {
			h.reply(conn, protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "not_registered"})
			return
		}
		if err := h.reg.Heartbeat(ctx, m.EndpointID, conn); err != nil {
			code := "heartbeat_failed"
			if errors.Is(err, ErrNotRegistered) {
				code = "not_registered"
			} else {
				l.Warn("heartbeat mirror failed", "endpoint_id", m.EndpointID, "err", err)
			}
			h.reply(conn, protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: code})
		}
	case protocol.PTZCommand:
		if !h.reg.Relay(ctx, m.DeviceID, m) {
			h.reply(conn, protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "device_unavailable", Detail: m.DeviceID})
		}
	}
}

func (h *Handler) register(ctx context.Context, l *slog.Logger, conn *wsConn, st *connState, info EndpointInfo) {
	if st.endpointID != "" && st.endpointID != info.ID {
		// Re-registering under a new id releases the old one.
		h.reg.Unregister(ctx, st.endpointID, conn)
	}
	if err := h.reg.Register(ctx, info, conn); err != nil {
		h.reply(conn, protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "invalid_registration", Detail: err.Error()})
		return
	}
	st.endpointID = info.ID
	h.reply(conn, protocol.Registered{
		Type:                protocol.TypeRegistered,
		EndpointID:          info.ID,
		LocationID:          info.LocationID,
		HeartbeatIntervalMs: h.reg.HeartbeatInterval().Milliseconds(),
	})
	l.Debug("endpoint bound to connection", "endpoint_id", info.ID)
}

func (h *Handler) reply(conn *wsConn, msg any) {
	if err := conn.Send(msg); err != nil {
		h.log.Debug("websocket reply failed", "err", err)
		return
	}
	if t, ok := protocol.TypeOf(msg); ok {
		h.metrics.WSMessage("outbound", string(t))
	}
}
