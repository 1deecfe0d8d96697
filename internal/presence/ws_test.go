package presence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"virtualcare-platform/internal/protocol"
	"virtualcare-platform/pkg/logger"
)

func newWSServer(t *testing.T, origins []string) (*Registry, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := NewRegistry(NewMemoryMirror(), Options{Logger: logger.Discard()})
	h := NewHandler(reg, origins, logger.Discard(), nil)

	r := gin.New()
	r.GET("/ws", h.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return reg, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readJSON(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out map[string]any
	if err := c.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	return out
}

func TestServeWS_RegisterSignalDisconnect(t *testing.T) {
	reg, url := newWSServer(t, nil)
	ctx := context.Background()
	c := dial(t, url, nil)

	if err := c.WriteJSON(map[string]any{"type": "register", "endpoint_id": "cart-1", "location_id": "room-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ack := readJSON(t, c)
	if ack["type"] != string(protocol.TypeRegistered) || ack["endpoint_id"] != "cart-1" {
		t.Fatalf("unexpected ack %v", ack)
	}
	if ack["heartbeat_interval_ms"] != float64(10000) {
		t.Fatalf("expected default heartbeat interval, got %v", ack["heartbeat_interval_ms"])
	}
	if ok, _ := reg.IsOnline(ctx, "room-1"); !ok {
		t.Fatalf("expected room-1 online")
	}

	if err := c.WriteJSON(map[string]any{"type": "heartbeat", "endpoint_id": "cart-1"}); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}

	join := protocol.JoinMeeting{Type: protocol.TypeJoinMeeting, SessionID: "s1", MeetingID: "m1", JoinToken: "tok"}
	if !reg.Signal(ctx, "room-1", protocol.AudienceDevice, join) {
		t.Fatalf("expected delivery")
	}
	got := readJSON(t, c)
	if got["type"] != string(protocol.TypeJoinMeeting) || got["meeting_id"] != "m1" {
		t.Fatalf("unexpected message %v", got)
	}

	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		ok, _ := reg.IsOnline(ctx, "room-1")
		if !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected endpoint offline after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServeWS_InvalidMessages(t *testing.T) {
	_, url := newWSServer(t, nil)
	c := dial(t, url, nil)

	_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`))
	got := readJSON(t, c)
	if got["type"] != string(protocol.TypeErrorEvent) || got["code"] != "unsupported_type" {
		t.Fatalf("unexpected reply %v", got)
	}

	_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"register","endpoint_id":""}`))
	got = readJSON(t, c)
	if got["code"] != "invalid_client_message" {
		t.Fatalf("unexpected reply %v", got)
	}

	_ = c.WriteJSON(map[string]any{"type": "heartbeat", "endpoint_id": "cart-1"})
	got = readJSON(t, c)
	if got["code"] != "not_registered" {
		t.Fatalf("expected not_registered, got %v", got)
	}
}

func TestServeWS_BrowserGetsAssignedID(t *testing.T) {
	reg, url := newWSServer(t, nil)
	c := dial(t, url, nil)

	_ = c.WriteJSON(map[string]any{"type": "register_browser", "location_id": "room-1"})
	ack := readJSON(t, c)
	id, _ := ack["endpoint_id"].(string)
	if !strings.HasPrefix(id, "browser-") {
		t.Fatalf("expected assigned browser id, got %v", ack)
	}
	eps := reg.Endpoints("room-1")
	if len(eps) != 1 || eps[0].Kind != protocol.AudienceBrowser {
		t.Fatalf("unexpected endpoints %+v", eps)
	}
}

func TestServeWS_ConsoleReceivesBroadcast(t *testing.T) {
	reg, url := newWSServer(t, nil)
	c := dial(t, url, nil)

	_ = c.WriteJSON(map[string]any{"type": "join_location", "location_id": "room-1"})
	// join_location has no ack; a follow-up heartbeat error proves it was processed.
	_ = c.WriteJSON(map[string]any{"type": "heartbeat", "endpoint_id": "x"})
	_ = readJSON(t, c)

	reg.Broadcast(context.Background(), "room-1", protocol.CallStatusUpdate{
		Type: protocol.TypeCallStatusUpdate, SessionID: "s1", LocationID: "room-1", Status: "RINGING",
	})
	got := readJSON(t, c)
	if got["type"] != string(protocol.TypeCallStatusUpdate) || got["status"] != "RINGING" {
		t.Fatalf("unexpected broadcast %v", got)
	}
}

func TestServeWS_RejectsForeignOrigin(t *testing.T) {
	_, url := newWSServer(t, []string{"https://console.example.com"})

	h := http.Header{}
	h.Set("Origin", "https://evil.example.com")
	if _, _, err := websocket.DefaultDialer.Dial(url, h); err == nil {
		t.Fatalf("expected foreign origin to be rejected")
	}

	h.Set("Origin", "https://console.example.com")
	c := dial(t, url, h)
	_ = c.Close()
}
