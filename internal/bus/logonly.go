package bus

import (
	"sync"

	"go.uber.org/zap"
)

// invokeHandler runs one handler, containing panics. A non-nil logger
// gets the failure; a nil logger swallows it.
func invokeHandler(h Handler, topic string, env Envelope, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("bus handler panicked",
				zap.String("topic", topic),
				zap.String("event_type", env.Type),
				zap.Any("panic", r))
		}
	}()
	h(topic, env)
}

// LogOnly writes a line per publish and still delivers to in-process
// handlers. Useful when no broker is deployed but event flow should be
// visible.
type LogOnly struct {
	mu       sync.Mutex
	logger   *zap.Logger
	handlers map[string][]Handler
	running  bool
}

var _ Bus = (*LogOnly)(nil)

// NewLogOnly creates a log-only bus.
func NewLogOnly(logger *zap.Logger) *LogOnly {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogOnly{logger: logger, handlers: make(map[string][]Handler)}
}

// Publish logs the envelope and invokes the topic's handlers.
func (b *LogOnly) Publish(topic string, env Envelope, key string) {
	b.logger.Info("event published",
		zap.String("topic", topic),
		zap.String("event_type", env.Type),
		zap.String("entity_id", env.EntityID),
		zap.String("key", key))

	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		invokeHandler(h, topic, env, b.logger)
	}
}

// PublishBatch publishes envelopes in order.
func (b *LogOnly) PublishBatch(topic string, envs []Envelope, keys []string) {
	for i, env := range envs {
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		b.Publish(topic, env, key)
	}
}

// Subscribe binds a handler to a topic.
func (b *LogOnly) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Start marks the bus running.
func (b *LogOnly) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	b.logger.Info("log-only bus started")
	return nil
}

// Stop marks the bus stopped.
func (b *LogOnly) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.logger.Info("log-only bus stopped")
	return nil
}

// Running reports the running flag.
func (b *LogOnly) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
