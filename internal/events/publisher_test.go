package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rfletcher/taskdeck/internal/model"
)

type fakeProducer struct {
	mu       sync.Mutex
	failures int
	calls    int
	messages []kafka.Message
	closed   bool
}

func (f *fakeProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeProducer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeProducer) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeProducer) snapshot() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.messages...)
}

func testPublisher(audit, updates Producer) *Publisher {
	p := NewPublisher(audit, updates, slog.Default())
	p.retryBase = time.Millisecond
	return p
}

func testEnvelope() Envelope {
	return NewEnvelope(TypeCompleted, &model.Task{ID: 7, OwnerID: 42, Title: "x"})
}

func TestPublishBothStreams(t *testing.T) {
	audit := &fakeProducer{}
	updates := &fakeProducer{}
	p := testPublisher(audit, updates)

	if !p.Publish(context.Background(), testEnvelope()) {
		t.Fatal("publish should succeed")
	}
	if len(audit.messages) != 1 || len(updates.messages) != 1 {
		t.Fatalf("messages: audit=%d updates=%d, want 1 each", len(audit.messages), len(updates.messages))
	}
	if got := string(audit.messages[0].Key); got != "42" {
		t.Errorf("message key = %q, want owner id %q", got, "42")
	}
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	audit := &fakeProducer{failures: 2}
	updates := &fakeProducer{failures: 2}
	p := testPublisher(audit, updates)

	if !p.Publish(context.Background(), testEnvelope()) {
		t.Fatal("publish should succeed on the third attempt")
	}
	if audit.calls != 3 {
		t.Errorf("audit attempts = %d, want 3", audit.calls)
	}
	if len(audit.messages) != 1 || len(updates.messages) != 1 {
		t.Error("both streams should receive the event after retries")
	}
}

func TestPublishExhaustsRetriesAndSwallows(t *testing.T) {
	audit := &fakeProducer{failures: 100}
	updates := &fakeProducer{failures: 100}
	p := testPublisher(audit, updates)

	if p.Publish(context.Background(), testEnvelope()) {
		t.Fatal("publish should report failure")
	}
	// 1 attempt + 2 retries, then give up
	if audit.calls != 3 {
		t.Errorf("audit attempts = %d, want 3", audit.calls)
	}
	if updates.calls != 3 {
		t.Errorf("updates attempts = %d, want 3", updates.calls)
	}
}

func TestPublishPartialFailureStillDeliversOtherStream(t *testing.T) {
	audit := &fakeProducer{}
	updates := &fakeProducer{failures: 100}
	p := testPublisher(audit, updates)

	if p.Publish(context.Background(), testEnvelope()) {
		t.Fatal("publish should report failure when one stream drops")
	}
	if len(audit.messages) != 1 {
		t.Error("audit stream should still receive the event")
	}
}

// Two mutations by the same owner must reach the bus in enqueue order, even
// when the first event spends its retry budget before succeeding.
func TestEnqueuePreservesOrderAcrossRetries(t *testing.T) {
	audit := &fakeProducer{failures: 2}
	updates := &fakeProducer{}
	p := testPublisher(audit, updates)
	defer p.Close()

	first := NewEnvelope(TypeUpdated, &model.Task{ID: 1, OwnerID: 42, Title: "a"})
	second := NewEnvelope(TypeCompleted, &model.Task{ID: 2, OwnerID: 42, Title: "b"})
	p.Enqueue(first)
	p.Enqueue(second)

	waitFor(t, func() bool {
		return audit.messageCount() == 2 && updates.messageCount() == 2
	})

	for _, producer := range []*fakeProducer{audit, updates} {
		msgs := producer.snapshot()
		got1, err := Decode(msgs[0].Value)
		if err != nil {
			t.Fatalf("decode first: %v", err)
		}
		got2, err := Decode(msgs[1].Value)
		if err != nil {
			t.Fatalf("decode second: %v", err)
		}
		if got1.TaskID != 1 || got2.TaskID != 2 {
			t.Errorf("delivery order = task %d then task %d, want 1 then 2", got1.TaskID, got2.TaskID)
		}
	}
}

func TestEnqueueAfterCloseDrops(t *testing.T) {
	p := testPublisher(&fakeProducer{}, &fakeProducer{})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Must not panic or block
	p.Enqueue(testEnvelope())
}

func TestPublisherClose(t *testing.T) {
	audit := &fakeProducer{}
	updates := &fakeProducer{}
	p := testPublisher(audit, updates)

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !audit.closed || !updates.closed {
		t.Error("both producers should be closed")
	}
}

func TestDecodeValidation(t *testing.T) {
	data, err := json.Marshal(testEnvelope())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != TypeCompleted || decoded.TaskID != 7 || decoded.UserID != 42 {
		t.Errorf("decoded = %+v", decoded)
	}

	bad := []struct {
		name string
		data string
	}{
		{"garbage", "not json"},
		{"unknown type", `{"event_type":"archived","task_id":1,"user_id":1}`},
		{"missing task id", `{"event_type":"created","user_id":1}`},
		{"missing user id", `{"event_type":"created","task_id":1}`},
	}
	for _, tt := range bad {
		if _, err := Decode([]byte(tt.data)); err == nil {
			t.Errorf("Decode(%s) should fail", tt.name)
		}
	}
}
