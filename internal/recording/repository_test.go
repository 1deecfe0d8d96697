package recording

import (
	"context"
	"testing"
)

func TestMemoryRepo_SaveFillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	err := repo.Save(context.Background(), Metadata{
		SessionID:  "s1",
		MeetingID:  "m1",
		PipelineID: "pipe-1",
		LocationID: "room-7",
		CallerID:   "nurse-1",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	rows := repo.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].ID == "" || rows[0].CreatedAt.IsZero() {
		t.Fatalf("expected generated id and created_at: %+v", rows[0])
	}
	if rows[0].StoragePrefix != "captures/pipe-1" {
		t.Fatalf("unexpected storage prefix %q", rows[0].StoragePrefix)
	}
}

func TestMemoryRepo_RequiresIdentifiers(t *testing.T) {
	repo := NewMemoryRepo()
	if err := repo.Save(context.Background(), Metadata{SessionID: "s1"}); err != ErrInvalidMetadata {
		t.Fatalf("expected ErrInvalidMetadata, got %v", err)
	}
}

func TestNewPostgresRepo_NilDB(t *testing.T) {
	if _, err := NewPostgresRepo(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
	var _ Repository = (*PostgresRepo)(nil)
}
