package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"virtualcare-platform/internal/auth"
	"virtualcare-platform/internal/calls"
	"virtualcare-platform/internal/config"
	"virtualcare-platform/internal/observability"
	"virtualcare-platform/internal/presence"
	"virtualcare-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type nopCalls struct{ initiated int }

func (n *nopCalls) Initiate(ctx context.Context, req calls.InitiateRequest) (calls.InitiateResult, error) {
	n.initiated++
	return calls.InitiateResult{SessionID: "s1", Status: calls.StatusRinging}, nil
}

func (n *nopCalls) Get(ctx context.Context, sessionID string) (calls.Session, error) {
	return calls.Session{}, calls.ErrSessionNotFound
}

func (n *nopCalls) EndCall(ctx context.Context, sessionID string) error { return nil }

func (n *nopCalls) HandleTargetAction(ctx context.Context, action calls.TargetAction, meetingID, locationID string) error {
	return nil
}

func testRouter(t *testing.T) (*gin.Engine, *auth.Manager, *nopCalls) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret"})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	registry := presence.NewRegistry(presence.NewMemoryMirror(), presence.Options{Logger: logger.Discard(), Metrics: metrics})
	svc := &nopCalls{}

	r := gin.New()
	registerRoutes(r, routeDeps{
		AuthMW:   auth.RequireAccessToken(m),
		Calls:    svc,
		WS:       presence.NewHandler(registry, nil, logger.Discard(), metrics),
		Gatherer: reg,
	})
	return r, m, svc
}

func TestRoutes_PublicEndpoints(t *testing.T) {
	r, _, _ := testRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	body := `{"action":"accepted","meetingId":"m1","locationId":"room-7"}`
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/target-action", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRoutes_CallsRequireTokenAndRole(t *testing.T) {
	r, m, svc := testRouter(t)
	start := func(tok string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(`{"location_id":"room-7"}`))
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := start(""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}

	observer, _ := m.IssueAccess(time.Now(), "obs-1", "", "observer")
	if code := start(observer); code != http.StatusForbidden {
		t.Fatalf("expected 403 for observer, got %d", code)
	}

	nurse, _ := m.IssueAccess(time.Now(), "nurse-1", "Nurse Joy", "nurse")
	if code := start(nurse); code != http.StatusCreated {
		t.Fatalf("expected 201 for nurse, got %d", code)
	}
	if svc.initiated != 1 {
		t.Fatalf("expected one initiation, got %d", svc.initiated)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/calls/missing", nil)
	req.Header.Set("Authorization", "Bearer "+observer)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", w.Code)
	}
}
