// Package events fans queue and message lifecycle changes out to dashboards
// and message brokers. Publishing is best effort and never blocks sending.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	QueueStatus   = "queue.status"
	QueueProgress = "queue.progress"
	MessageStatus = "message.status"
	MessageReply  = "message.reply"
	OptOut        = "optout.recorded"
)

type Event struct {
	Type       string    `json:"type"`
	BusinessID uint      `json:"business_id"`
	QueueID    uint      `json:"queue_id,omitempty"`
	MessageID  uint      `json:"message_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Data       any       `json:"data,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher delivers one event to one sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Emitter is what the domain packages depend on.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Bus fans events out to every publisher and logs failures.
type Bus struct {
	publishers []Publisher
	log        *slog.Logger
}

func NewBus(log *slog.Logger, publishers ...Publisher) *Bus {
	return &Bus{publishers: publishers, log: log}
}

func (b *Bus) Emit(ctx context.Context, ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for _, p := range b.publishers {
		if err := p.Publish(ctx, ev); err != nil && b.log != nil {
			b.log.Warn("event publish failed", "type", ev.Type, "queue_id", ev.QueueID, "error", err)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Recorder keeps events in memory, for tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, ev)
	return nil
}

func (r *Recorder) Emit(ctx context.Context, ev Event) {
	_ = r.Publish(ctx, ev)
}

// OfType filters recorded events.
func (r *Recorder) OfType(t string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.Events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
