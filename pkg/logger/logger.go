package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// New returns a production-friendly structured logger.
// level overrides the env-derived default when it names a valid slog level.
func New(appEnv, level string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(appEnv, level)})
	return slog.New(h)
}

// ParseLevel resolves the effective level. Debug for local/dev, info otherwise.
func ParseLevel(appEnv, level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if appEnv == "local" || appEnv == "dev" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// Discard returns a logger that drops everything. Used by tests and optional collaborators.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
