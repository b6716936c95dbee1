package bus

import (
	"sync"
)

// Published is one retained publish, for test inspection.
type Published struct {
	Topic    string
	Envelope Envelope
	Key      string
}

// InMemory is a synchronous in-process bus that retains everything it
// publishes. Intended for tests and local development.
type InMemory struct {
	mu        sync.Mutex
	handlers  map[string][]Handler
	published []Published
	running   bool
}

var _ Bus = (*InMemory)(nil)

// NewInMemory creates an empty in-memory bus.
func NewInMemory() *InMemory {
	return &InMemory{handlers: make(map[string][]Handler)}
}

// Publish retains the envelope and invokes the topic's handlers
// synchronously. Handler panics are contained per handler.
func (b *InMemory) Publish(topic string, env Envelope, key string) {
	b.mu.Lock()
	b.published = append(b.published, Published{Topic: topic, Envelope: env, Key: key})
	handlers := append([]Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		invokeHandler(h, topic, env, nil)
	}
}

// PublishBatch publishes envelopes in order.
func (b *InMemory) PublishBatch(topic string, envs []Envelope, keys []string) {
	for i, env := range envs {
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		b.Publish(topic, env, key)
	}
}

// Subscribe binds a handler to a topic.
func (b *InMemory) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Start marks the bus running.
func (b *InMemory) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	return nil
}

// Stop marks the bus stopped.
func (b *InMemory) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	return nil
}

// Running reports the running flag.
func (b *InMemory) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Messages returns a copy of everything published so far.
func (b *InMemory) Messages() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

// MessagesOn returns published messages for one topic.
func (b *InMemory) MessagesOn(topic string) []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Published
	for _, p := range b.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Reset discards retained messages.
func (b *InMemory) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = nil
}
