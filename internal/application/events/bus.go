// Package events fans runtime events out to sinks.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/ports"
)

const (
	defaultBuffer = 256
	handleTimeout = 10 * time.Second
)

type subscriber struct {
	name    string
	sink    ports.EventSink
	ch      chan domain.Event
	dropped atomic.Int64
}

// Bus delivers every published event to each subscribed sink in publish
// order. Each sink drains its own buffered channel, so a slow sink drops
// its own events and never blocks the publisher or the other sinks.
type Bus struct {
	mu      sync.Mutex
	subs    []*subscriber
	history []domain.Event
	next    int
	full    bool
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
	onDrop  func(sink string)
}

// NewBus creates a bus that keeps the last historySize events.
func NewBus(historySize int, logger *slog.Logger) *Bus {
	if historySize <= 0 {
		historySize = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{history: make([]domain.Event, historySize), logger: logger}
}

// OnDrop registers a callback invoked when a sink's buffer is full.
func (b *Bus) OnDrop(fn func(sink string)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe starts delivering events to sink. buffer <= 0 uses the default.
func (b *Bus) Subscribe(name string, sink ports.EventSink, buffer int) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{name: name, sink: sink, ch: make(chan domain.Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subs = append(b.subs, s)
	b.wg.Add(1)
	go b.drain(s)
}

func (b *Bus) drain(s *subscriber) {
	defer b.wg.Done()
	for ev := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		if err := s.sink.Handle(ctx, ev); err != nil {
			// Log events are skipped here: a failing sink would feed itself.
			if ev.Type() != domain.EventLog {
				b.logger.Warn("event sink failed", "sink", s.name, "type", ev.Type(), "err", err)
			}
		}
		cancel()
	}
}

// Publish records ev in the history and queues it for every sink.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history[b.next] = ev
	b.next = (b.next + 1) % len(b.history)
	if b.next == 0 {
		b.full = true
	}
	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(s.name)
			}
		}
	}
}

// History returns the buffered events, oldest first.
func (b *Bus) History() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		out := make([]domain.Event, b.next)
		copy(out, b.history[:b.next])
		return out
	}
	out := make([]domain.Event, 0, len(b.history))
	out = append(out, b.history[b.next:]...)
	return append(out, b.history[:b.next]...)
}

// Dropped returns how many events the named sink lost to a full buffer.
func (b *Bus) Dropped(name string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.name == name {
			return s.dropped.Load()
		}
	}
	return 0
}

// Close stops accepting events and waits until every sink drained its queue.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// SinkFunc adapts a function to ports.EventSink.
type SinkFunc func(ctx context.Context, ev domain.Event) error

func (f SinkFunc) Handle(ctx context.Context, ev domain.Event) error { return f(ctx, ev) }
