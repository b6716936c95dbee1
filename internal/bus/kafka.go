package bus

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// stopTimeout bounds how long Stop waits for consumer goroutines.
const stopTimeout = 5 * time.Second

// KafkaConfig configures the broker-backed bus.
type KafkaConfig struct {
	Brokers []string
	// GroupID is the consumer group; defaults to "nexum-core".
	GroupID string
	// ClientID identifies this process to the broker.
	ClientID string
}

// Kafka is the broker-backed bus. Publishing uses a synchronous
// producer; each subscribed topic is consumed by a dedicated consumer
// group session running in its own goroutine.
type Kafka struct {
	cfg      KafkaConfig
	logger   *zap.Logger
	producer sarama.SyncProducer

	mu       sync.Mutex
	handlers map[string][]Handler
	groups   []sarama.ConsumerGroup
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

var _ Bus = (*Kafka)(nil)

// NewKafka connects the producer side. Consumers are created by Start
// from the subscriptions registered before it.
func NewKafka(cfg KafkaConfig, logger *zap.Logger) (*Kafka, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "nexum-core"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "nexum"
	}

	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return &Kafka{
		cfg:      cfg,
		logger:   logger,
		producer: producer,
		handlers: make(map[string][]Handler),
	}, nil
}

// Publish sends one envelope. Failures are logged, not returned;
// delivery must never fail a completed business operation.
func (b *Kafka) Publish(topic string, env Envelope, key string) {
	raw, err := env.Encode()
	if err != nil {
		b.logger.Error("envelope encode failed",
			zap.String("topic", topic),
			zap.String("event_type", env.Type),
			zap.Error(err))
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(raw),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	partition, offset, err := b.producer.SendMessage(msg)
	if err != nil {
		b.logger.Error("publish failed",
			zap.String("topic", topic),
			zap.String("event_type", env.Type),
			zap.Error(err))
		return
	}
	b.logger.Debug("event published",
		zap.String("topic", topic),
		zap.String("event_type", env.Type),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
}

// PublishBatch sends envelopes in order.
func (b *Kafka) PublishBatch(topic string, envs []Envelope, keys []string) {
	for i, env := range envs {
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		b.Publish(topic, env, key)
	}
}

// Subscribe registers a handler for a topic. Call before Start.
func (b *Kafka) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Start launches one consumer group session per subscribed topic.
func (b *Kafka) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	for topic := range b.handlers {
		sc := sarama.NewConfig()
		sc.ClientID = b.cfg.ClientID
		sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
			sarama.NewBalanceStrategyRoundRobin(),
		}
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest

		group, err := sarama.NewConsumerGroup(b.cfg.Brokers, b.cfg.GroupID, sc)
		if err != nil {
			cancel()
			b.closeGroupsLocked()
			return err
		}
		b.groups = append(b.groups, group)

		b.wg.Add(1)
		go b.consumeLoop(ctx, group, topic)
	}

	b.running = true
	b.logger.Info("kafka bus started",
		zap.Strings("brokers", b.cfg.Brokers),
		zap.Int("topics", len(b.handlers)))
	return nil
}

// consumeLoop re-enters Consume until the context is cancelled; a
// rebalance ends the session and the loop starts a new one.
func (b *Kafka) consumeLoop(ctx context.Context, group sarama.ConsumerGroup, topic string) {
	defer b.wg.Done()
	handler := &groupHandler{bus: b, topic: topic}
	for {
		if err := group.Consume(ctx, []string{topic}, handler); err != nil {
			b.logger.Error("consumer session ended",
				zap.String("topic", topic),
				zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Stop cancels the consumers and waits a bounded time for them to exit.
func (b *Kafka) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		b.logger.Warn("consumer shutdown timed out", zap.Duration("timeout", stopTimeout))
	}

	b.mu.Lock()
	b.closeGroupsLocked()
	b.mu.Unlock()

	err := b.producer.Close()
	b.logger.Info("kafka bus stopped")
	return err
}

func (b *Kafka) closeGroupsLocked() {
	for _, g := range b.groups {
		if err := g.Close(); err != nil {
			b.logger.Error("consumer group close failed", zap.Error(err))
		}
	}
	b.groups = nil
}

// Running reports the running flag.
func (b *Kafka) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// groupHandler adapts sarama's consumer group callbacks to the bus
// handler fan-out.
type groupHandler struct {
	bus   *Kafka
	topic string
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.deliver(msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// deliver decodes and fans out one message. Decode failures drop the
// message with a log line; handler panics are contained per handler.
func (h *groupHandler) deliver(msg *sarama.ConsumerMessage) {
	env, err := DecodeEnvelope(msg.Value)
	if err != nil {
		h.bus.logger.Warn("dropping undecodable message",
			zap.String("topic", h.topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return
	}

	h.bus.mu.Lock()
	handlers := append([]Handler(nil), h.bus.handlers[h.topic]...)
	h.bus.mu.Unlock()

	for _, fn := range handlers {
		invokeHandler(fn, h.topic, env, h.bus.logger)
	}
}
