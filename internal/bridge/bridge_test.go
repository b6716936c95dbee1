package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexum/internal/audit"
	"nexum/internal/bus"
	"nexum/internal/compliance"
	"nexum/internal/fraud"
	"nexum/internal/ledger"
	"nexum/internal/processor"
	"nexum/internal/storage"
	"nexum/internal/storage/memstore"
	"nexum/pkg/clock"
	"nexum/pkg/events"
	"nexum/pkg/money"
)

type recordedAlert struct {
	severity   string
	rule       string
	entityType string
	entityID   string
	details    string
}

type fakeAlerter struct {
	alerts []recordedAlert
	err    error
}

func (f *fakeAlerter) CreateAlert(_ context.Context, severity, rule, entityType, entityID, details string, _ map[string]string) (*compliance.Alert, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.alerts = append(f.alerts, recordedAlert{severity, rule, entityType, entityID, details})
	return &compliance.Alert{ID: "alert-1"}, nil
}

type bridgeEnv struct {
	store      *memstore.Store
	proc       *processor.Processor
	bus        *bus.InMemory
	bridge     *Bridge
	dispatcher *events.InProc
	alerter    *fakeAlerter
	clk        clock.Clock
}

func newBridgeEnv(t *testing.T) *bridgeEnv {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	clk := clock.NewFixed(time.Date(2025, 4, 15, 10, 0, 0, 0, time.UTC))

	led := ledger.NewService(store, clk, nil)
	require.NoError(t, led.SeedSystemAccounts(ctx, money.USD))
	require.NoError(t, led.RegisterAccount(ctx, ledger.Account{
		ID:         "A",
		CustomerID: "cust-1",
		Name:       "Checking A",
		Product:    ledger.ProductChecking,
		Class:      ledger.ClassAsset,
		Currency:   money.USD,
		Status:     ledger.AccountActive,
	}))

	dispatcher := events.NewDispatcher(nil)
	trail := audit.NewTrail(store, clk)
	proc := processor.New(store, led, compliance.AllowAll{}, fraud.NewMockScorer(), dispatcher, trail, clk, nil)

	b := bus.NewInMemory()
	alerter := &fakeAlerter{}
	br := New(dispatcher, b, store, alerter, clk, nil)
	require.NoError(t, br.Start())

	return &bridgeEnv{store: store, proc: proc, bus: b, bridge: br, dispatcher: dispatcher, alerter: alerter, clk: clk}
}

func TestPostedDepositReachesBus(t *testing.T) {
	env := newBridgeEnv(t)
	ctx := context.Background()

	txn, err := env.proc.DepositFunds(ctx, "A", money.MustFromString("100.00", money.USD), processor.ChannelBranch, "")
	require.NoError(t, err)
	_, err = env.proc.Process(ctx, txn.ID)
	require.NoError(t, err)

	posted := env.bus.MessagesOn(TopicTransactionsPosted)
	require.Len(t, posted, 1)

	msg := posted[0]
	assert.Equal(t, txn.ID, msg.Key, "partition key is the transaction id")

	env1 := msg.Envelope
	assert.Equal(t, string(events.TransactionPosted), env1.Type)
	assert.Equal(t, Source, env1.Source)
	assert.Equal(t, bus.SchemaVersion, env1.SchemaVersion)
	assert.Equal(t, "transaction", env1.EntityType)
	assert.Equal(t, txn.ID, env1.EntityID)
	assert.Equal(t, "100.00", env1.Data["amount"])
	assert.Equal(t, "USD", env1.Data["currency"])
}

func TestFailedTransactionReachesFailedTopic(t *testing.T) {
	env := newBridgeEnv(t)
	ctx := context.Background()

	// Withdrawal from an empty account fails at processing time.
	txn, err := env.proc.WithdrawFunds(ctx, "A", money.MustFromString("50.00", money.USD), processor.ChannelATM, "")
	require.NoError(t, err)
	_, err = env.proc.Process(ctx, txn.ID)
	require.Error(t, err)

	require.Empty(t, env.bus.MessagesOn(TopicTransactionsPosted))
	failed := env.bus.MessagesOn(TopicTransactionsFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, txn.ID, failed[0].Envelope.EntityID)
}

func TestUnmappedKindsAreNotForwarded(t *testing.T) {
	env := newBridgeEnv(t)

	env.dispatcher.Publish(events.Event{
		Kind:       events.AccountCreated,
		EntityType: "account",
		EntityID:   "A",
		Timestamp:  env.clk.Now(),
	})

	assert.Empty(t, env.bus.Messages(), "account events stay internal")
}

func TestFraudDecisionRecordedOnTransaction(t *testing.T) {
	env := newBridgeEnv(t)
	ctx := context.Background()

	txn, err := env.proc.DepositFunds(ctx, "A", money.MustFromString("100.00", money.USD), processor.ChannelBranch, "")
	require.NoError(t, err)
	_, err = env.proc.Process(ctx, txn.ID)
	require.NoError(t, err)

	decision := bus.NewEnvelope("fraud.decision", "bastion", "transaction", txn.ID, env.clk.Now(), map[string]any{
		"decision": "REVIEW",
		"score":    "0.62",
	})
	env.bus.Publish(TopicFraudDecisions, decision, txn.ID)

	var got processor.Transaction
	require.NoError(t, env.store.Load(ctx, storage.TableTransactions, txn.ID, &got))
	assert.Equal(t, "REVIEW", got.FraudMetadata["async_decision"])
	assert.Equal(t, "0.62", got.FraudMetadata["async_score"])
	assert.Equal(t, decision.ID, got.FraudMetadata["async_decision_event"])
}

func TestFraudDecisionForUnknownTransactionIsDropped(t *testing.T) {
	env := newBridgeEnv(t)

	decision := bus.NewEnvelope("fraud.decision", "bastion", "transaction", "missing", env.clk.Now(), map[string]any{
		"decision": "BLOCK",
	})
	assert.NotPanics(t, func() {
		env.bus.Publish(TopicFraudDecisions, decision, "missing")
	})
}

func TestFraudAlertCreatesComplianceAlert(t *testing.T) {
	env := newBridgeEnv(t)

	alert := bus.NewEnvelope("fraud.alert", "bastion", "customer", "cust-9", env.clk.Now(), map[string]any{
		"severity": "CRITICAL",
		"details":  "card testing pattern",
	})
	env.bus.Publish(TopicFraudAlerts, alert, "cust-9")

	require.Len(t, env.alerter.alerts, 1)
	got := env.alerter.alerts[0]
	assert.Equal(t, "CRITICAL", got.severity)
	assert.Equal(t, "fraud.alert", got.rule)
	assert.Equal(t, "customer", got.entityType)
	assert.Equal(t, "cust-9", got.entityID)
	assert.Equal(t, "card testing pattern", got.details)
}

func TestFraudAlertDefaultsSeverity(t *testing.T) {
	env := newBridgeEnv(t)

	alert := bus.NewEnvelope("fraud.alert", "bastion", "customer", "cust-9", env.clk.Now(), map[string]any{
		"details": "no severity supplied",
	})
	env.bus.Publish(TopicFraudAlerts, alert, "cust-9")

	require.Len(t, env.alerter.alerts, 1)
	assert.Equal(t, "HIGH", env.alerter.alerts[0].severity)
}

func TestStartIsIdempotentAndStopStopsBus(t *testing.T) {
	env := newBridgeEnv(t)

	require.True(t, env.bridge.Running())
	require.NoError(t, env.bridge.Start())
	require.NoError(t, env.bridge.Stop())
	assert.False(t, env.bridge.Running())
	assert.False(t, env.bus.Running())
}
