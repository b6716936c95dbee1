// Package bus is the external event bus abstraction: topic-based
// publish/consume with in-memory, log-only, and Kafka-backed
// implementations. Publish failures are logged, never surfaced, so
// event delivery cannot block a completed business operation.
package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the envelope schema version stamped on every
// published message.
const SchemaVersion = "1.0"

// Envelope is the wire record for an external event. Decimal amounts
// inside Data are always encoded as strings to preserve precision.
type Envelope struct {
	ID            string            `json:"event_id"`
	Type          string            `json:"event_type"`
	Source        string            `json:"source"`
	SchemaVersion string            `json:"schema_version"`
	EntityType    string            `json:"entity_type"`
	EntityID      string            `json:"entity_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Data          map[string]any    `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEnvelope builds an envelope with a fresh id and the current schema
// version. Timestamp is the caller's responsibility so tests can pin it.
func NewEnvelope(eventType, source, entityType, entityID string, ts time.Time, data map[string]any) Envelope {
	return Envelope{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		SchemaVersion: SchemaVersion,
		EntityType:    entityType,
		EntityID:      entityID,
		Timestamp:     ts.UTC(),
		Data:          data,
	}
}

// Encode serialises the envelope to its canonical JSON form.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses the canonical JSON form.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(raw, &e)
	return e, err
}

// Handler consumes one envelope from a topic.
type Handler func(topic string, env Envelope)

// Bus is the external topic transport.
type Bus interface {
	// Publish sends one envelope. key selects the partition in
	// partitioned brokers; empty means unkeyed.
	Publish(topic string, env Envelope, key string)

	// PublishBatch sends envelopes in order. keys may be nil or shorter
	// than envs; envelopes without a key are published unkeyed.
	PublishBatch(topic string, envs []Envelope, keys []string)

	// Subscribe binds a handler to a topic. Must be called before Start
	// for broker-backed implementations.
	Subscribe(topic string, h Handler)

	Start() error
	Stop() error
	Running() bool
}
