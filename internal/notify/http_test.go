package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeAPI struct {
	tokenCalls atomic.Int32
	starts     atomic.Int32
	ends       atomic.Int32
	failStart  bool

	mu        sync.Mutex
	lastStart startCallPayload
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		id, secret, ok := r.BasicAuth()
		if !ok || id != "cid" || secret != "csecret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc(startCallPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		f.starts.Add(1)
		var p startCallPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		f.mu.Lock()
		f.lastStart = p
		f.mu.Unlock()
		if f.failStart {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(endCallPath, func(w http.ResponseWriter, r *http.Request) {
		f.ends.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newTestNotifier(t *testing.T, api *fakeAPI) *HTTPNotifier {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	n, err := NewHTTPNotifier(HTTPConfig{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/oauth/token",
		ClientID:     "cid",
		ClientSecret: "csecret",
		SystemName:   "VirtualCare",
	})
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	return n
}

func TestHTTPNotifier_CachesToken(t *testing.T) {
	api := &fakeAPI{}
	n := newTestNotifier(t, api)
	ctx := context.Background()

	if err := n.SignalIncoming(ctx, Knock{LocationID: "room-7", MeetingID: "m1", CallerName: "Nurse Joy"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := n.SignalRestore(ctx, "room-7", "m1"); err != nil {
		t.Fatalf("end: %v", err)
	}

	if api.tokenCalls.Load() != 1 {
		t.Fatalf("expected token fetched once, got %d", api.tokenCalls.Load())
	}
	if api.starts.Load() != 1 || api.ends.Load() != 1 {
		t.Fatalf("expected one start and one end call")
	}
	api.mu.Lock()
	last := api.lastStart
	api.mu.Unlock()
	if last.CallType != "regular" || last.SystemName != "VirtualCare" || last.LocationID != "room-7" {
		t.Fatalf("unexpected start payload %+v", last)
	}
}

func TestHTTPNotifier_Non2xxIsError(t *testing.T) {
	api := &fakeAPI{failStart: true}
	n := newTestNotifier(t, api)
	if err := n.SignalIncoming(context.Background(), Knock{LocationID: "room-7", MeetingID: "m1"}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestNewHTTPNotifier_Validates(t *testing.T) {
	if _, err := NewHTTPNotifier(HTTPConfig{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
	if _, err := NewHTTPNotifier(HTTPConfig{BaseURL: "http://x", TokenURL: "http://x/t"}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}

func TestNoop_ImplementsNotifier(t *testing.T) {
	var _ Notifier = Noop{}
	var _ Notifier = (*HTTPNotifier)(nil)
}
