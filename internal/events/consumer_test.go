package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rfletcher/taskdeck/internal/database"
	"github.com/rfletcher/taskdeck/internal/model"
	"github.com/rfletcher/taskdeck/internal/recurrence"
	"github.com/rfletcher/taskdeck/internal/store"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed int
	closed    bool
}

func (f *fakeReader) push(value []byte) {
	f.mu.Lock()
	f.queue = append(f.queue, kafka.Message{Value: value})
	f.mu.Unlock()
}

// FetchMessage pops the next scripted message, or blocks until cancellation
// like a real reader on an empty partition.
func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		f.mu.Lock()
		if len(f.queue) > 0 {
			msg := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			return msg, nil
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	f.committed += len(msgs)
	f.mu.Unlock()
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeReader) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed
}

type consumerFixture struct {
	reader    *fakeReader
	consumer  *RecurrenceConsumer
	tasks     *store.TaskStore
	templates *store.RecurringTaskStore
	audit     *store.AuditStore
}

func setupConsumer(t *testing.T) *consumerFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tasks := store.NewTaskStore(db)
	templates := store.NewRecurringTaskStore(db)
	audit := store.NewAuditStore(db)
	engine := recurrence.NewEngine(templates, slog.Default())
	reader := &fakeReader{}
	consumer := NewRecurrenceConsumer(reader, tasks, audit, engine, nil, slog.Default())

	return &consumerFixture{
		reader:    reader,
		consumer:  consumer,
		tasks:     tasks,
		templates: templates,
		audit:     audit,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func encodeEnvelope(t *testing.T, evt Envelope) []byte {
	t.Helper()
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestConsumerGeneratesNextOccurrence(t *testing.T) {
	fx := setupConsumer(t)

	start := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)
	_, first, err := fx.templates.CreateWithFirstOccurrence(1, "weekly review", "", model.FrequencyWeekly, start, nil)
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	completed, err := fx.tasks.Complete(first.ID, 1)
	if err != nil {
		t.Fatalf("complete first occurrence: %v", err)
	}

	fx.reader.push(encodeEnvelope(t, NewEnvelope(TypeCompleted, completed)))

	fx.consumer.Start(context.Background())
	defer fx.consumer.Stop()

	waitFor(t, func() bool {
		list, err := fx.tasks.List(1)
		return err == nil && len(list) == 2
	})

	list, err := fx.tasks.List(1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var generated *model.Task
	for i := range list {
		if !list[i].Completed {
			generated = &list[i]
		}
	}
	if generated == nil {
		t.Fatal("no open occurrence generated")
	}
	wantDue := start.AddDate(0, 0, 7)
	if generated.DueDate == nil || !generated.DueDate.Equal(wantDue) {
		t.Errorf("generated due = %v, want %v", generated.DueDate, wantDue)
	}

	// The event landed in the audit log too
	entries, err := fx.audit.ListByOwner(1, 0)
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(entries) != 1 || entries[0].EventType != string(TypeCompleted) {
		t.Errorf("audit entries = %+v", entries)
	}
}

func TestConsumerSkipsNonCompletedAndNonRecurring(t *testing.T) {
	fx := setupConsumer(t)

	oneOff, err := fx.tasks.Create(1, "one-off", "", nil, model.PriorityMedium, nil, nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	fx.reader.push(encodeEnvelope(t, NewEnvelope(TypeUpdated, oneOff)))
	fx.reader.push(encodeEnvelope(t, NewEnvelope(TypeCompleted, oneOff)))

	fx.consumer.Start(context.Background())
	defer fx.consumer.Stop()

	waitFor(t, func() bool { return fx.reader.commitCount() == 2 })

	list, err := fx.tasks.List(1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("task count = %d, want 1 (nothing generated)", len(list))
	}
}

func TestConsumerSurvivesMalformedMessages(t *testing.T) {
	fx := setupConsumer(t)

	start := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)
	_, first, err := fx.templates.CreateWithFirstOccurrence(1, "daily", "", model.FrequencyDaily, start, nil)
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	completed, err := fx.tasks.Complete(first.ID, 1)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	fx.reader.push([]byte("not json at all"))
	fx.reader.push([]byte(`{"event_type":"archived","task_id":1,"user_id":1}`))
	fx.reader.push(encodeEnvelope(t, NewEnvelope(TypeCompleted, completed)))

	fx.consumer.Start(context.Background())
	defer fx.consumer.Stop()

	// The valid message after two poison ones still gets processed
	waitFor(t, func() bool {
		list, err := fx.tasks.List(1)
		return err == nil && len(list) == 2
	})
	if fx.reader.commitCount() != 3 {
		t.Errorf("committed = %d, want 3 (poison messages are not redelivered)", fx.reader.commitCount())
	}
}

func TestConsumerStopClosesReader(t *testing.T) {
	fx := setupConsumer(t)

	fx.consumer.Start(context.Background())
	fx.consumer.Stop()

	fx.reader.mu.Lock()
	closed := fx.reader.closed
	fx.reader.mu.Unlock()
	if !closed {
		t.Error("reader should be closed after Stop")
	}
}
