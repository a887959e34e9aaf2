package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rfletcher/taskdeck/internal/model"
)

// AuditStore is the durable projection of the audit event stream.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

const auditCols = `id, event_id, event_type, task_id, owner_id, occurred_at, payload, recorded_at`

func scanAuditEntry(scanner interface{ Scan(...any) error }) (*model.AuditEntry, error) {
	var e model.AuditEntry
	err := scanner.Scan(
		&e.ID, &e.EventID, &e.EventType, &e.TaskID, &e.OwnerID,
		&e.OccurredAt, &e.Payload, &e.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *AuditStore) Record(eventID, eventType string, taskID, ownerID int64, occurredAt time.Time, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.db.Exec(
		`INSERT INTO audit_log (event_id, event_type, task_id, owner_id, occurred_at, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		eventID, eventType, taskID, ownerID, occurredAt.UTC(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *AuditStore) ListByOwner(ownerID int64, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT `+auditCols+` FROM audit_log WHERE owner_id = ? ORDER BY occurred_at DESC, id DESC LIMIT ?`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
