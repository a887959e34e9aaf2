package model

import "time"

// AuditEntry is one recorded domain event from the audit stream.
type AuditEntry struct {
	ID         int64     `json:"id"`
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	TaskID     int64     `json:"task_id"`
	OwnerID    int64     `json:"owner_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    string    `json:"payload"`
	RecordedAt time.Time `json:"recorded_at"`
}
