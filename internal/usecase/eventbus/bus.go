// Package eventbus is the in-process publish/subscribe hub that carries
// orchestrator and approval events to observers such as the metrics
// collector.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"warden/internal/domain"
)

// anyType marks a subscription that receives every event.
const anyType domain.EventType = ""

type subscription struct {
	id        uint64
	eventType domain.EventType
	handler   domain.EventHandler
}

// Bus delivers each event to its subscribers asynchronously, one goroutine
// per handler. A panicking handler is logged and does not affect others.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	closed bool // guarded by mu; handlers are added to wg only while false
	nextID atomic.Uint64
	logger *slog.Logger
	wg     sync.WaitGroup
}

var _ domain.EventBus = (*Bus)(nil)

func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Publish fans event out to typed and catch-all subscribers. Events
// published after Close are dropped.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	matched := make([]domain.EventHandler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.eventType == anyType || s.eventType == event.Type {
			matched = append(matched, s.handler)
		}
	}
	b.wg.Add(len(matched))
	b.mu.RUnlock()

	for _, h := range matched {
		b.dispatch(ctx, event, h)
	}
}

// dispatch runs h on its own goroutine. The caller has already added it to wg.
func (b *Bus) dispatch(ctx context.Context, event domain.Event, h domain.EventHandler) {
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked", "event", string(event.Type), "panic", r)
			}
		}()
		h(ctx, event)
	}()
}

// Subscribe registers handler for one event type and returns its
// unsubscribe func.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(anyType, handler)
}

func (b *Bus) add(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, eventType: eventType, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Close stops accepting events and waits for in-flight handlers. It is
// safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}

// Emit marshals payload and publishes it. A nil bus is a no-op so callers
// can treat the bus as optional.
func Emit(ctx context.Context, bus domain.EventBus, eventType domain.EventType, threadKey string, payload any) {
	if bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			raw = data
		}
	}
	bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		ThreadKey: threadKey,
		Payload:   raw,
	})
}
