package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rfletcher/taskdeck/internal/recurrence"
	"github.com/rfletcher/taskdeck/internal/store"
)

const stopGracePeriod = 5 * time.Second

// Reader is the slice of kafka.Reader the background loops need. Tests
// substitute a scripted fake.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RecurrenceConsumer listens on the audit stream, records every event in the
// audit log, and drives the recurrence engine for completions of recurring
// occurrences. It runs off the request path so bus availability never blocks
// a user-facing call.
type RecurrenceConsumer struct {
	mu        sync.Mutex
	reader    Reader
	tasks     *store.TaskStore
	audit     *store.AuditStore
	engine    *recurrence.Engine
	publisher *Publisher
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewRecurrenceConsumer(reader Reader, tasks *store.TaskStore, audit *store.AuditStore, engine *recurrence.Engine, publisher *Publisher, logger *slog.Logger) *RecurrenceConsumer {
	return &RecurrenceConsumer{
		reader:    reader,
		tasks:     tasks,
		audit:     audit,
		engine:    engine,
		publisher: publisher,
		logger:    logger,
	}
}

// Start launches the consume loop in its own goroutine.
func (c *RecurrenceConsumer) Start(ctx context.Context) {
	c.mu.Lock()
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		c.run(ctx)
	}()
}

// Stop cancels the loop, waits for the in-flight message to finish within a
// grace period, and closes the reader.
func (c *RecurrenceConsumer) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(stopGracePeriod):
			c.logger.Warn("consumer did not stop within grace period")
		}
	}
	if err := c.reader.Close(); err != nil {
		c.logger.Error("close reader", "error", err)
	}
}

func (c *RecurrenceConsumer) run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("fetch message", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		c.handle(msg.Value)

		// Commit even when handling failed: a broken message is logged,
		// not redelivered forever.
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("commit offset", "error", err)
		}
	}
}

func (c *RecurrenceConsumer) handle(data []byte) {
	evt, err := Decode(data)
	if err != nil {
		c.logger.Error("skipping malformed event", "error", err)
		return
	}

	payload, _ := json.Marshal(evt)
	if err := c.audit.Record(evt.ID, string(evt.Type), evt.TaskID, evt.UserID, evt.Timestamp, payload); err != nil {
		c.logger.Error("record audit entry", "event_id", evt.ID, "error", err)
	}

	if evt.Type != TypeCompleted {
		return
	}

	task, err := c.tasks.GetByID(evt.TaskID, evt.UserID)
	if err != nil {
		c.logger.Error("load completed task", "task_id", evt.TaskID, "error", err)
		return
	}
	if task == nil || task.RecurringTaskID == nil {
		return
	}

	result, err := c.engine.CreateNextOccurrence(*task.RecurringTaskID)
	if err != nil {
		c.logger.Error("create next occurrence",
			"template_id", *task.RecurringTaskID,
			"task_id", evt.TaskID,
			"error", err)
		return
	}
	if result.Task == nil {
		return
	}

	if c.publisher != nil {
		c.publisher.Enqueue(NewEnvelope(TypeCreated, result.Task))
	}
}

// NewGroupReader builds a consumer-group Kafka reader so each event is
// handled by exactly one instance in a scaled deployment.
func NewGroupReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}
