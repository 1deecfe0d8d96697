package logger

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const headerRequestID = "X-Request-Id"

// Probe paths are logged at debug so scrapes do not drown call traffic.
var quietPaths = map[string]bool{"/healthz": true, "/metrics": true}

// Middleware tags every request with a request_id and puts a request-scoped logger
// on both the gin context and the request context. One summary line is written
// when the handler returns; for websocket upgrades that is when the socket closes.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		msg := "request"
		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			msg = "websocket closed"
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", float64(time.Since(start).Milliseconds()),
		}

		// Handlers may have enriched the logger (auth adds user_id).
		out := FromGin(c)
		switch {
		case len(c.Errors) > 0:
			out.Error(msg, append(attrs, "errors", c.Errors.String())...)
		case quietPaths[path]:
			out.Debug(msg, attrs...)
		default:
			out.Info(msg, attrs...)
		}
	}
}

// FromGin pulls the request-scoped logger from the gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
