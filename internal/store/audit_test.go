package store

import (
	"testing"
	"time"

	"github.com/rfletcher/taskdeck/internal/database"
)

func setupAuditTestDB(t *testing.T) *AuditStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAuditStore(db)
}

func TestAuditRecordAndList(t *testing.T) {
	as := setupAuditTestDB(t)

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := as.Record("evt-1", "completed", int64(10+i), 1, base.Add(time.Duration(i)*time.Minute), []byte(`{"k":"v"}`))
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := as.Record("evt-other", "created", 99, 2, base, nil); err != nil {
		t.Fatalf("record other owner: %v", err)
	}

	entries, err := as.ListByOwner(1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	// Newest first
	if entries[0].TaskID != 12 {
		t.Errorf("first entry task_id = %d, want 12", entries[0].TaskID)
	}
	if entries[0].Payload != `{"k":"v"}` {
		t.Errorf("payload = %q", entries[0].Payload)
	}

	limited, err := as.ListByOwner(1, 2)
	if err != nil {
		t.Fatalf("list with limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited entries = %d, want 2", len(limited))
	}
}

func TestAuditEmptyPayloadDefaults(t *testing.T) {
	as := setupAuditTestDB(t)

	if err := as.Record("evt-2", "deleted", 5, 7, time.Now().UTC(), nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	entries, err := as.ListByOwner(7, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Payload != "{}" {
		t.Errorf("entries = %+v", entries)
	}
}
