// Package bus provides the process-wide event bus every component
// publishes to. Dispatch is synchronous and in emit order; a panicking
// handler is isolated so the remaining handlers still run.
package bus

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single typed occurrence on the bus.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`
	// Type is the event type string, e.g. "task:started".
	Type string `json:"type"`
	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
	// Payload carries the type-specific data.
	Payload any `json:"payload,omitempty"`
	// Source names the emitting component.
	Source string `json:"source,omitempty"`
	// CorrelationID links related events across components.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Handler receives events. Handlers must be reentrancy-safe: they may be
// invoked from whichever goroutine emits.
type Handler func(Event)

// EmitOptions carries the optional fields of an emission.
type EmitOptions struct {
	Source        string
	CorrelationID string
}

// defaultHistorySize is how many recent events the bus retains for debugging.
const defaultHistorySize = 1000

type subscriber struct {
	id      int
	handler Handler
	once    bool
}

// Bus is a synchronous pub/sub dispatcher with a bounded history ring.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	byType   map[string][]*subscriber
	wildcard []*subscriber

	history    []Event
	historyCap int
	historyPos int
	historyLen int
}

// New creates a Bus with the default history capacity.
func New() *Bus {
	return NewWithHistory(defaultHistorySize)
}

// NewWithHistory creates a Bus retaining up to capacity recent events.
func NewWithHistory(capacity int) *Bus {
	if capacity < 0 {
		capacity = 0
	}
	return &Bus{
		byType:     make(map[string][]*subscriber),
		history:    make([]Event, capacity),
		historyCap: capacity,
	}
}

// Emit builds an event with a fresh id and timestamp and dispatches it to
// every handler registered for its type, then to every wildcard handler.
// It returns the dispatched event.
func (b *Bus) Emit(eventType string, payload any, opts ...EmitOptions) Event {
	ev := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	if len(opts) > 0 {
		ev.Source = opts[0].Source
		ev.CorrelationID = opts[0].CorrelationID
	}

	b.mu.Lock()
	b.record(ev)
	typed := append([]*subscriber(nil), b.byType[eventType]...)
	wild := append([]*subscriber(nil), b.wildcard...)
	b.mu.Unlock()

	for _, sub := range typed {
		b.invoke(sub, ev)
		if sub.once {
			b.removeTyped(eventType, sub.id)
		}
	}
	for _, sub := range wild {
		b.invoke(sub, ev)
		if sub.once {
			b.removeWildcard(sub.id)
		}
	}
	return ev
}

// invoke calls one handler, recovering a panic so one bad subscriber
// cannot break delivery to the rest.
func (b *Bus) invoke(sub *subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[bus] handler panic on %s: %v", ev.Type, r)
		}
	}()
	sub.handler(ev)
}

// On registers a handler for one event type and returns an unsubscribe func.
func (b *Bus) On(eventType string, h Handler) func() {
	return b.subscribe(eventType, h, false)
}

// Once registers a handler removed after its first invocation.
func (b *Bus) Once(eventType string, h Handler) func() {
	return b.subscribe(eventType, h, true)
}

// OnAny registers a wildcard handler invoked for every event.
func (b *Bus) OnAny(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscriber{id: b.nextID, handler: h}
	b.wildcard = append(b.wildcard, sub)
	id := sub.id
	return func() { b.removeWildcard(id) }
}

func (b *Bus) subscribe(eventType string, h Handler, once bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscriber{id: b.nextID, handler: h, once: once}
	b.byType[eventType] = append(b.byType[eventType], sub)
	id := sub.id
	return func() { b.removeTyped(eventType, id) }
}

// Off removes every handler registered for the given type.
func (b *Bus) Off(eventType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byType, eventType)
}

// ListenerCount returns the number of handlers for a type, not counting
// wildcard handlers.
func (b *Bus) ListenerCount(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byType[eventType])
}

// RemoveAllListeners drops every typed and wildcard handler.
func (b *Bus) RemoveAllListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType = make(map[string][]*subscriber)
	b.wildcard = nil
}

// History returns up to n most recent events, oldest first. n <= 0 returns
// everything retained.
func (b *Bus) History(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.historyLen == 0 {
		return nil
	}
	if n <= 0 || n > b.historyLen {
		n = b.historyLen
	}
	out := make([]Event, 0, n)
	start := b.historyPos - n
	if start < 0 {
		start += b.historyCap
	}
	for i := 0; i < n; i++ {
		out = append(out, b.history[(start+i)%b.historyCap])
	}
	return out
}

func (b *Bus) record(ev Event) {
	if b.historyCap == 0 {
		return
	}
	b.history[b.historyPos] = ev
	b.historyPos = (b.historyPos + 1) % b.historyCap
	if b.historyLen < b.historyCap {
		b.historyLen++
	}
}

func (b *Bus) removeTyped(eventType string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.byType[eventType]
	for i, s := range subs {
		if s.id == id {
			b.byType[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) removeWildcard(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.wildcard {
		if s.id == id {
			b.wildcard = append(b.wildcard[:i], b.wildcard[i+1:]...)
			return
		}
	}
}
