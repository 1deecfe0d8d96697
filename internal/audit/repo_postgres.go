package audit

import (
	"context"
	"database/sql"
	"fmt"

	"virtualcare-platform/pkg/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	type        TEXT NOT NULL,
	actor_id    TEXT NOT NULL DEFAULT '',
	session_id  TEXT NOT NULL DEFAULT '',
	meeting_id  TEXT NOT NULL DEFAULT '',
	location_id TEXT NOT NULL DEFAULT '',
	endpoint_id TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL
)`

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_audit_events_session_id ON audit_events (session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_location_created ON audit_events (location_id, created_at)`,
}

// PostgresRepo appends audit events to audit_events. It never updates or deletes rows.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) (*PostgresRepo, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: db is nil")
	}
	return &PostgresRepo{db: db}, nil
}

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.EnsureSchema(ctx, r.db, append([]string{schema}, indexes...)...)
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	var metadata any
	if e.Metadata != "" {
		metadata = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_events
	(id, type, actor_id, session_id, meeting_id, location_id, endpoint_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, string(e.Type), e.ActorID, e.SessionID, e.MeetingID, e.LocationID, e.EndpointID,
		e.Message, metadata, e.CreatedAt,
	)
	if utils.IsUniqueViolation(err) {
		// Retried append of an event that already landed.
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
