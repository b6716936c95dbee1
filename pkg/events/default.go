package events

import "sync"

// Process-wide default dispatcher. Collaborators accept a Dispatcher
// dependency; the default is a lookup of last resort for wiring code,
// never something a component reaches for internally.
var (
	defaultMu         sync.RWMutex
	defaultDispatcher Dispatcher = Noop{}
)

// Default returns the process-wide dispatcher.
func Default() Dispatcher {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultDispatcher
}

// SetDefault replaces the process-wide dispatcher. Call once during
// startup, before any collaborator is constructed without an explicit
// dispatcher.
func SetDefault(d Dispatcher) {
	if d == nil {
		d = Noop{}
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultDispatcher = d
}
