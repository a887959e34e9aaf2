package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rfletcher/taskdeck/internal/events"
)

const stopGracePeriod = 5 * time.Second

// Gateway consumes the realtime update stream and fans each event out to the
// owner's open connections through the hub.
type Gateway struct {
	mu     sync.Mutex
	reader events.Reader
	hub    *Hub
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func NewGateway(reader events.Reader, hub *Hub, logger *slog.Logger) *Gateway {
	return &Gateway{
		reader: reader,
		hub:    hub,
		logger: logger,
	}
}

// Start launches the fan-out loop in its own goroutine.
func (g *Gateway) Start(ctx context.Context) {
	g.mu.Lock()
	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	g.mu.Unlock()

	go func() {
		defer close(g.done)
		g.run(ctx)
	}()
}

// Stop cancels the loop, waits out the grace period, and closes the reader.
func (g *Gateway) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	done := g.done
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(stopGracePeriod):
			g.logger.Warn("gateway did not stop within grace period")
		}
	}
	if err := g.reader.Close(); err != nil {
		g.logger.Error("close reader", "error", err)
	}
}

func (g *Gateway) run(ctx context.Context) {
	for {
		msg, err := g.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.logger.Error("fetch update", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		evt, err := events.Decode(msg.Value)
		if err != nil {
			g.logger.Error("skipping malformed update", "error", err)
		} else {
			g.hub.Send(evt.UserID, Delta{
				Type:      "task_" + string(evt.Type),
				TaskID:    evt.TaskID,
				Data:      evt.Task,
				Timestamp: evt.Timestamp,
			})
		}

		if err := g.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			g.logger.Error("commit offset", "error", err)
		}
	}
}
