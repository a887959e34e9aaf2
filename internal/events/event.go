// Package events carries domain events for task mutations over two Kafka
// streams: task-events (the audit stream, consumed by the recurrence
// consumer) and task-updates (the realtime stream, consumed by the fan-out
// gateway). Delivery is at-least-once; consumers must tolerate duplicates.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rfletcher/taskdeck/internal/model"
)

const (
	TopicTaskEvents  = "task-events"
	TopicTaskUpdates = "task-updates"
)

type Type string

const (
	TypeCreated   Type = "created"
	TypeUpdated   Type = "updated"
	TypeCompleted Type = "completed"
	TypeDeleted   Type = "deleted"
)

func (t Type) Valid() bool {
	switch t {
	case TypeCreated, TypeUpdated, TypeCompleted, TypeDeleted:
		return true
	}
	return false
}

// Envelope is the wire format shared by both streams. Task carries the
// post-mutation snapshot; Before/After/Changes carry the field-level diff for
// updates.
type Envelope struct {
	ID        string         `json:"event_id"`
	Type      Type           `json:"event_type"`
	TaskID    int64          `json:"task_id"`
	UserID    int64          `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
	Task      *model.Task    `json:"task_data,omitempty"`
	Before    map[string]any `json:"before,omitempty"`
	After     map[string]any `json:"after,omitempty"`
	Changes   []string       `json:"changes,omitempty"`
}

// NewEnvelope builds an envelope for a task mutation with a fresh event id
// and the current UTC timestamp.
func NewEnvelope(typ Type, task *model.Task) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Type:      typ,
		TaskID:    task.ID,
		UserID:    task.OwnerID,
		Timestamp: time.Now().UTC(),
		Task:      task,
	}
}

// Decode parses and validates an envelope at the consumer boundary. Messages
// with an unknown event type or missing identifiers are rejected before any
// dispatch happens.
func Decode(data []byte) (Envelope, error) {
	var evt Envelope
	if err := json.Unmarshal(data, &evt); err != nil {
		return Envelope{}, fmt.Errorf("decode event: %w", err)
	}
	if !evt.Type.Valid() {
		return Envelope{}, fmt.Errorf("unknown event type: %q", string(evt.Type))
	}
	if evt.TaskID == 0 {
		return Envelope{}, fmt.Errorf("event %s missing task_id", evt.ID)
	}
	if evt.UserID == 0 {
		return Envelope{}, fmt.Errorf("event %s missing user_id", evt.ID)
	}
	return evt, nil
}
