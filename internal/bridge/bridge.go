// Package bridge connects the in-process dispatcher to the external
// bus: selected domain events are re-published as envelopes on named
// topics, keyed by entity id to preserve per-entity ordering, and
// decision events consumed from external topics are translated back
// into side-effects on the core.
package bridge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"nexum/internal/bus"
	"nexum/internal/compliance"
	"nexum/internal/processor"
	"nexum/internal/storage"
	"nexum/pkg/clock"
	"nexum/pkg/events"
)

// Source identifies this producer in outgoing envelopes.
const Source = "nexum-core"

// Outgoing topics.
const (
	TopicTransactionsPosted  = "nexum.transactions.posted"
	TopicTransactionsFailed  = "nexum.transactions.failed"
	TopicCustomersCreated    = "nexum.customers.created"
	TopicCustomersUpdated    = "nexum.customers.updated"
	TopicCustomersKYCChanged = "nexum.customers.kyc_changed"
	TopicComplianceAlerts    = "nexum.compliance.alerts"
)

// Consumed topics, produced by the fraud platform.
const (
	TopicFraudDecisions = "bastion.fraud.decisions"
	TopicFraudAlerts    = "bastion.fraud.alerts"
)

// defaultTopicMap routes domain event kinds onto external topics.
var defaultTopicMap = map[events.Kind]string{
	events.TransactionPosted:  TopicTransactionsPosted,
	events.TransactionFailed:  TopicTransactionsFailed,
	events.CustomerCreated:    TopicCustomersCreated,
	events.CustomerUpdated:    TopicCustomersUpdated,
	events.CustomerKYCChanged: TopicCustomersKYCChanged,
	events.ComplianceAlert:    TopicComplianceAlerts,
}

// Alerter creates compliance alerts from consumed fraud alerts.
type Alerter interface {
	CreateAlert(ctx context.Context, severity, rule, entityType, entityID, details string, metadata map[string]string) (*compliance.Alert, error)
}

// Bridge wires dispatcher events onto the bus and consumed decisions
// back into the core.
type Bridge struct {
	dispatcher events.Dispatcher
	bus        bus.Bus
	store      storage.Storage
	alerter    Alerter
	clock      clock.Clock
	logger     *zap.Logger

	topics map[events.Kind]string

	mu      sync.Mutex
	running bool
}

// New creates a Bridge with the default topic map.
func New(dispatcher events.Dispatcher, b bus.Bus, store storage.Storage, alerter Alerter, clk clock.Clock, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		dispatcher: dispatcher,
		bus:        b,
		store:      store,
		alerter:    alerter,
		clock:      clk,
		logger:     logger,
		topics:     defaultTopicMap,
	}
}

// Start subscribes both directions and starts the bus.
func (br *Bridge) Start() error {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.running {
		return nil
	}

	for kind := range br.topics {
		br.dispatcher.Subscribe(kind, "bridge", br.forward)
	}
	br.bus.Subscribe(TopicFraudDecisions, br.onFraudDecision)
	br.bus.Subscribe(TopicFraudAlerts, br.onFraudAlert)

	if err := br.bus.Start(); err != nil {
		return err
	}
	br.running = true
	br.logger.Info("event bridge started", zap.Int("forwarded_kinds", len(br.topics)))
	return nil
}

// Stop stops the bus. Dispatcher subscriptions stay registered but the
// bus drops publishes once stopped.
func (br *Bridge) Stop() error {
	br.mu.Lock()
	defer br.mu.Unlock()
	if !br.running {
		return nil
	}
	br.running = false
	return br.bus.Stop()
}

// Running reports the running flag.
func (br *Bridge) Running() bool {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.running
}

// forward re-publishes one domain event as an external envelope, keyed
// by entity id so a partitioned broker preserves per-entity order.
func (br *Bridge) forward(event events.Event) {
	topic, ok := br.topics[event.Kind]
	if !ok {
		return
	}
	env := bus.NewEnvelope(string(event.Kind), Source, event.EntityType, event.EntityID, event.Timestamp, event.Data)
	if event.ID != "" {
		env.ID = event.ID
	}
	br.bus.Publish(topic, env, event.EntityID)
}

// onFraudDecision records a consumed fraud decision on the transaction's
// fraud metadata. Malformed envelopes are dropped with a log line.
func (br *Bridge) onFraudDecision(topic string, env bus.Envelope) {
	ctx := context.Background()
	txnID := env.EntityID
	if txnID == "" {
		txnID, _ = env.Data["transaction_id"].(string)
	}
	if txnID == "" {
		br.logger.Warn("fraud decision without transaction id", zap.String("topic", topic))
		return
	}

	var txn processor.Transaction
	if err := br.store.Load(ctx, storage.TableTransactions, txnID, &txn); err != nil {
		br.logger.Warn("fraud decision for unknown transaction",
			zap.String("transaction_id", txnID), zap.Error(err))
		return
	}

	if txn.FraudMetadata == nil {
		txn.FraudMetadata = make(map[string]string)
	}
	if d, ok := env.Data["decision"].(string); ok {
		txn.FraudMetadata["async_decision"] = d
	}
	if s, ok := env.Data["score"].(string); ok {
		txn.FraudMetadata["async_score"] = s
	}
	txn.FraudMetadata["async_decision_event"] = env.ID
	txn.UpdatedAt = br.clock.Now()

	if err := br.store.Save(ctx, storage.TableTransactions, txnID, txn); err != nil {
		br.logger.Error("failed to record fraud decision",
			zap.String("transaction_id", txnID), zap.Error(err))
		return
	}
	br.logger.Info("fraud decision recorded",
		zap.String("transaction_id", txnID),
		zap.String("decision", txn.FraudMetadata["async_decision"]))
}

// onFraudAlert turns a consumed fraud alert into a compliance alert.
func (br *Bridge) onFraudAlert(topic string, env bus.Envelope) {
	if br.alerter == nil {
		return
	}
	severity, _ := env.Data["severity"].(string)
	if severity == "" {
		severity = "HIGH"
	}
	details, _ := env.Data["details"].(string)

	_, err := br.alerter.CreateAlert(context.Background(), severity, "fraud.alert",
		env.EntityType, env.EntityID, details, env.Metadata)
	if err != nil {
		br.logger.Error("failed to create compliance alert from fraud alert",
			zap.String("entity_id", env.EntityID), zap.Error(err))
	}
}
