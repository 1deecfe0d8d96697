package recording

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"virtualcare-platform/pkg/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS recording_metadata (
	id             UUID PRIMARY KEY,
	session_id     TEXT NOT NULL,
	meeting_id     TEXT NOT NULL,
	pipeline_id    TEXT NOT NULL,
	location_id    TEXT NOT NULL,
	caller_id      TEXT NOT NULL,
	started_at     TIMESTAMPTZ,
	ended_at       TIMESTAMPTZ,
	storage_prefix VARCHAR(512) NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_recording_metadata_session_id ON recording_metadata (session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_recording_metadata_meeting_id ON recording_metadata (meeting_id)`,
	`CREATE INDEX IF NOT EXISTS idx_recording_metadata_location_id ON recording_metadata (location_id)`,
	`CREATE INDEX IF NOT EXISTS idx_recording_metadata_created_at ON recording_metadata (created_at)`,
}

// PostgresRepo stores metadata rows in recording_metadata via database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) (*PostgresRepo, error) {
	if db == nil {
		return nil, fmt.Errorf("recording: db is nil")
	}
	return &PostgresRepo{db: db, clock: time.Now}, nil
}

// EnsureSchema creates the table and its indexes if missing.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.EnsureSchema(ctx, r.db, append([]string{schema}, indexes...)...)
}

func (r *PostgresRepo) Save(ctx context.Context, m Metadata) error {
	m, err := prepare(m, r.clock())
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO recording_metadata
	(id, session_id, meeting_id, pipeline_id, location_id, caller_id, started_at, ended_at, storage_prefix, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.SessionID, m.MeetingID, m.PipelineID, m.LocationID, m.CallerID,
		m.StartedAt, m.EndedAt, m.StoragePrefix, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert recording metadata: %w", err)
	}
	return nil
}
