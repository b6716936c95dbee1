package events

import (
	"sync"

	"go.uber.org/zap"
)

// Handler receives a domain event. Handlers run synchronously within the
// publisher's call; they must not publish back into the same dispatcher
// (enqueue via the bus instead).
type Handler func(event Event)

// Dispatcher is the in-process publish/subscribe surface.
type Dispatcher interface {
	// Publish delivers the event to every handler subscribed to its kind,
	// then to every catch-all handler. Handler panics are recovered and
	// logged with the handler's name; they never abort remaining handlers
	// or the caller.
	Publish(event Event)

	// Subscribe registers a named handler for one event kind.
	Subscribe(kind Kind, name string, handler Handler)

	// SubscribeAll registers a named catch-all handler invoked for every
	// published event after the kind-specific handlers.
	SubscribeAll(name string, handler Handler)
}

type namedHandler struct {
	name string
	fn   Handler
}

// InProc is the standard Dispatcher implementation.
//
// Subscription and publication are serialised under a single lock, so for
// any single publisher, handlers observe events in publish order. No
// cross-publisher ordering is guaranteed.
type InProc struct {
	mu       sync.Mutex
	handlers map[Kind][]namedHandler
	global   []namedHandler
	logger   *zap.Logger
}

// NewDispatcher creates an InProc dispatcher. A nil logger is replaced
// with a no-op logger.
func NewDispatcher(logger *zap.Logger) *InProc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InProc{
		handlers: make(map[Kind][]namedHandler),
		logger:   logger,
	}
}

// Subscribe registers a handler for one kind.
func (d *InProc) Subscribe(kind Kind, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], namedHandler{name: name, fn: handler})
}

// SubscribeAll registers a catch-all handler.
func (d *InProc) SubscribeAll(name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.global = append(d.global, namedHandler{name: name, fn: handler})
}

// Publish delivers the event. Handlers are invoked while the dispatcher
// lock is held; a handler that re-enters Publish on the same dispatcher
// will deadlock, which is the documented contract.
func (d *InProc) Publish(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range d.handlers[event.Kind] {
		d.invoke(h, event)
	}
	for _, h := range d.global {
		d.invoke(h, event)
	}
}

func (d *InProc) invoke(h namedHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				zap.String("handler", h.name),
				zap.String("kind", string(event.Kind)),
				zap.String("entity_id", event.EntityID),
				zap.Any("panic", r))
		}
	}()
	h.fn(event)
}

// Noop is a Dispatcher that drops every event. It covers tests and
// deployments that do not consume domain events.
type Noop struct{}

// Publish discards the event.
func (Noop) Publish(Event) {}

// Subscribe discards the registration.
func (Noop) Subscribe(Kind, string, Handler) {}

// SubscribeAll discards the registration.
func (Noop) SubscribeAll(string, Handler) {}

// Verify interface compliance at compile time.
var (
	_ Dispatcher = (*InProc)(nil)
	_ Dispatcher = Noop{}
)
