package recording

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists recording metadata. Append-only.
type Repository interface {
	Save(ctx context.Context, m Metadata) error
}

var ErrInvalidMetadata = errors.New("recording: invalid metadata")

// prepare fills generated fields and checks the required identifiers.
func prepare(m Metadata, now time.Time) (Metadata, error) {
	if m.SessionID == "" || m.MeetingID == "" || m.PipelineID == "" || m.LocationID == "" {
		return m, ErrInvalidMetadata
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.StoragePrefix == "" {
		m.StoragePrefix = StoragePrefix(m.PipelineID)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now.UTC()
	}
	return m, nil
}

// MemoryRepo is an in-memory repository for tests and local runs.
type MemoryRepo struct {
	mu   sync.Mutex
	rows []Metadata
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Save(ctx context.Context, m Metadata) error {
	m, err := prepare(m, time.Now())
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, m)
	return nil
}

func (r *MemoryRepo) Rows() []Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Metadata, len(r.rows))
	copy(out, r.rows)
	return out
}
