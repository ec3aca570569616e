package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler receives events synchronously on the emitting goroutine.
type Handler func(Event)

// Subscriber is a buffered channel fed without blocking the emitter.
type Subscriber chan Event

const (
	defaultHistory    = 256
	subscriberBacklog = 64
)

type handlerEntry struct {
	id      uint64
	typ     Type // empty means every type
	handler Handler
}

// Bus fans events out to handlers and channel subscribers and remembers the
// most recent ones.
type Bus struct {
	mu          sync.RWMutex
	nextID      uint64
	handlers    []handlerEntry
	subscribers map[Subscriber]struct{}
	history     *ringBuffer
	logger      *slog.Logger
	now         func() time.Time
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithHistory sets how many recent events are retained.
func WithHistory(size int) BusOption {
	return func(b *Bus) { b.history = newRingBuffer(size) }
}

// WithBusLogger sets the logger used to report failing handlers.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus returns an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscribers: make(map[Subscriber]struct{}),
		history:     newRingBuffer(defaultHistory),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe registers h for events of type t and returns a function removing it.
func (b *Bus) Subscribe(t Type, h Handler) func() {
	return b.add(t, h)
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) func() {
	return b.add("", h)
}

func (b *Bus) add(t Type, h Handler) func() {
	if h == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, handlerEntry{id: id, typ: t, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.handlers {
		if e.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Stream returns a channel receiving every subsequent event. Events are
// dropped for a subscriber whose buffer is full.
func (b *Bus) Stream() Subscriber {
	ch := make(Subscriber, subscriberBacklog)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unstream removes and closes a channel returned by Stream.
func (b *Bus) Unstream(sub Subscriber) {
	b.mu.Lock()
	_, ok := b.subscribers[sub]
	delete(b.subscribers, sub)
	b.mu.Unlock()
	if ok {
		close(sub)
	}
}

// SubscriberCount returns the number of open streams.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Emit delivers e. A panicking handler is logged and does not affect the others.
func (b *Bus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now().UTC()
	}
	b.history.add(e)

	b.mu.RLock()
	handlers := make([]handlerEntry, 0, len(b.handlers))
	for _, h := range b.handlers {
		if h.typ == "" || h.typ == e.Type {
			handlers = append(handlers, h)
		}
	}
	for sub := range b.subscribers {
		select {
		case sub <- e:
		default:
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.call(h.handler, e)
	}
}

func (b *Bus) call(h Handler, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event handler panicked",
				slog.String("event", string(e.Type)),
				slog.String("error", fmt.Sprint(rec)))
		}
	}()
	h(e)
}

// Recent returns up to n of the latest events, oldest first. n <= 0 returns all.
func (b *Bus) Recent(n int) []Event {
	all := b.history.snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Clear drops every handler and the history. Open streams stay open.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.handlers = nil
	b.mu.Unlock()
	b.history.reset()
}
