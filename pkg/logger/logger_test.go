package logger

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestParseLevel(t *testing.T) {
	if got := ParseLevel("production", ""); got != slog.LevelInfo {
		t.Fatalf("expected info for production, got %v", got)
	}
	if got := ParseLevel("dev", ""); got != slog.LevelDebug {
		t.Fatalf("expected debug for dev, got %v", got)
	}
	if got := ParseLevel("dev", "warn"); got != slog.LevelWarn {
		t.Fatalf("expected explicit warn to win, got %v", got)
	}
}

func TestFromFallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
	l := Discard()
	if From(With(context.Background(), l)) != l {
		t.Fatalf("expected stored logger")
	}
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware(Discard()))
	r.GET("/x", func(c *gin.Context) {
		if From(c.Request.Context()) == slog.Default() {
			t.Errorf("expected request-scoped logger in request context")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-Id"); got != "rid-1" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}
