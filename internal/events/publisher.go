package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
)

const queueSize = 256

// Producer is the slice of kafka.Writer the publisher needs. Tests substitute
// an in-memory fake.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher fires each domain event at both streams. Publishing is
// best-effort: transient failures are retried with exponential backoff
// (3 attempts, base 1s), then the event is dropped with a logged warning.
// A failed publish never fails the business operation that produced it.
//
// Callers enqueue; a single goroutine drains the queue and publishes one
// event at a time. Events for the same owner therefore reach the bus in
// enqueue order, even when an earlier event is mid-retry.
type Publisher struct {
	audit      Producer
	updates    Producer
	logger     *slog.Logger
	retryBase  time.Duration
	maxRetries uint64

	mu     sync.Mutex
	closed bool
	queue  chan Envelope
	done   chan struct{}
}

func NewPublisher(audit, updates Producer, logger *slog.Logger) *Publisher {
	p := &Publisher{
		audit:      audit,
		updates:    updates,
		logger:     logger,
		retryBase:  time.Second,
		maxRetries: 2,
		queue:      make(chan Envelope, queueSize),
		done:       make(chan struct{}),
	}
	go p.run()
	return p
}

// Enqueue hands evt to the publish goroutine without blocking. When the queue
// is full the event is dropped with a logged warning, same as a publish that
// exhausts its retries.
func (p *Publisher) Enqueue(evt Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("publisher closed, dropping event",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"task_id", evt.TaskID)
		return
	}
	select {
	case p.queue <- evt:
	default:
		p.logger.Warn("publish queue full, dropping event",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"task_id", evt.TaskID)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for evt := range p.queue {
		p.Publish(context.Background(), evt)
	}
}

// Publish sends evt to the audit and realtime streams, keyed by owner id so
// one owner's events stay in order on a single partition. It reports whether
// both streams accepted the event; callers are expected to ignore the result
// for business outcomes.
func (p *Publisher) Publish(ctx context.Context, evt Envelope) bool {
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("marshal event", "event_id", evt.ID, "error", err)
		return false
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.UserID, 10)),
		Value: data,
	}

	auditOK := p.send(ctx, p.audit, TopicTaskEvents, msg, evt)
	updatesOK := p.send(ctx, p.updates, TopicTaskUpdates, msg, evt)
	return auditOK && updatesOK
}

func (p *Publisher) send(ctx context.Context, producer Producer, topic string, msg kafka.Message, evt Envelope) bool {
	backoff := retry.WithMaxRetries(p.maxRetries, retry.NewExponential(p.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := producer.WriteMessages(ctx, msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("dropping event after retries",
			"topic", topic,
			"event_id", evt.ID,
			"event_type", evt.Type,
			"task_id", evt.TaskID,
			"error", err)
		return false
	}
	return true
}

// Close stops accepting events, drains the queue, and closes both
// underlying producers.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
	return errors.Join(p.audit.Close(), p.updates.Close())
}

// NewWriter builds a Kafka writer for topic. The hash balancer routes all
// messages with the same key (owner id) to one partition, preserving
// per-owner ordering.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}
