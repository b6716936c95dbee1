// Package compliance screens transactions and customers and raises
// alerts. The processor treats the gate as a black box: its verdict is
// recorded on the transaction and a BLOCK stops processing.
package compliance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nexum/internal/storage"
	"nexum/pkg/clock"
	"nexum/pkg/events"
	"nexum/pkg/money"
)

// Action is the gate's verdict.
type Action string

// Actions.
const (
	Allow Action = "ALLOW"
	Flag  Action = "FLAG"
	Block Action = "BLOCK"
)

// Result carries the verdict and the rules that fired.
type Result struct {
	Action     Action
	Violations []string
}

// Gate screens a transaction before it is posted.
type Gate interface {
	CheckTransaction(ctx context.Context, customerID, accountID string, amount money.Money, txnType, txnID string) (Result, error)
}

// Alert is a persisted compliance alert.
type Alert struct {
	ID         string            `msgpack:"id"`
	Severity   string            `msgpack:"severity"`
	Rule       string            `msgpack:"rule"`
	EntityType string            `msgpack:"entity_type"`
	EntityID   string            `msgpack:"entity_id"`
	Details    string            `msgpack:"details"`
	Metadata   map[string]string `msgpack:"metadata,omitempty"`
	CreatedAt  time.Time         `msgpack:"created_at"`
}

// Thresholds in the base currency unit.
var (
	// largeAmountThreshold flags single transactions at or above it.
	largeAmountThreshold = decimal.NewFromInt(10_000)

	// velocityWindow and velocityLimit flag bursts of activity on one
	// account.
	velocityWindow = time.Hour
	velocityLimit  = 10
)

// RuleGate is a rule-based Gate with a sanctions list and a sliding
// per-account velocity counter.
type RuleGate struct {
	store      storage.Storage
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger

	// sanctioned customer ids; checked on every transaction.
	sanctioned map[string]bool
}

var _ Gate = (*RuleGate)(nil)

// NewRuleGate creates a gate. sanctionedIDs seeds the block list.
func NewRuleGate(store storage.Storage, dispatcher events.Dispatcher, clk clock.Clock, logger *zap.Logger, sanctionedIDs []string) *RuleGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	sanctioned := make(map[string]bool, len(sanctionedIDs))
	for _, id := range sanctionedIDs {
		sanctioned[id] = true
	}
	return &RuleGate{
		store:      store,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger,
		sanctioned: sanctioned,
	}
}

// CheckTransaction applies the rule set in severity order. A sanctions
// hit blocks outright; large amounts and velocity bursts flag.
func (g *RuleGate) CheckTransaction(ctx context.Context, customerID, accountID string, amount money.Money, txnType, txnID string) (Result, error) {
	var violations []string
	action := Allow

	if g.sanctioned[customerID] {
		violations = append(violations, "customer is on the sanctions list")
		action = Block
	}

	if amount.Amount.GreaterThanOrEqual(largeAmountThreshold) {
		violations = append(violations, "single transaction at or above reporting threshold")
		if action == Allow {
			action = Flag
		}
	}

	count, err := g.recentTransactionCount(ctx, accountID)
	if err != nil {
		return Result{}, err
	}
	if count >= velocityLimit {
		violations = append(violations, "transaction velocity exceeds limit")
		if action == Allow {
			action = Flag
		}
	}

	if action != Allow {
		g.logger.Info("compliance screening hit",
			zap.String("transaction_id", txnID),
			zap.String("customer_id", customerID),
			zap.String("action", string(action)),
			zap.Strings("violations", violations))
	}
	return Result{Action: action, Violations: violations}, nil
}

// recentTransactionCount counts transactions touching the account inside
// the velocity window. Rows are scanned via the generic filter; the
// shape mirrors the processor's persisted record.
func (g *RuleGate) recentTransactionCount(ctx context.Context, accountID string) (int, error) {
	if accountID == "" {
		return 0, nil
	}
	cutoff := g.clock.Now().Add(-velocityWindow)
	rows, err := g.store.Find(ctx, storage.TableTransactions, func(row storage.Row) bool {
		var rec struct {
			FromAccountID string    `msgpack:"from_account_id"`
			ToAccountID   string    `msgpack:"to_account_id"`
			CreatedAt     time.Time `msgpack:"created_at"`
		}
		if err := row.Decode(&rec); err != nil {
			return false
		}
		if rec.FromAccountID != accountID && rec.ToAccountID != accountID {
			return false
		}
		return rec.CreatedAt.After(cutoff)
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// CreateAlert persists an alert and dispatches a COMPLIANCE_ALERT
// domain event.
func (g *RuleGate) CreateAlert(ctx context.Context, severity, rule, entityType, entityID, details string, metadata map[string]string) (*Alert, error) {
	alert := Alert{
		ID:         uuid.NewString(),
		Severity:   severity,
		Rule:       rule,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		Metadata:   metadata,
		CreatedAt:  g.clock.Now(),
	}
	if err := g.store.Save(ctx, storage.TableNotifications, alert.ID, alert); err != nil {
		return nil, err
	}
	g.dispatcher.Publish(events.Event{
		ID:         uuid.NewString(),
		Kind:       events.ComplianceAlert,
		EntityType: entityType,
		EntityID:   entityID,
		Data: map[string]any{
			"alert_id": alert.ID,
			"severity": severity,
			"rule":     rule,
			"details":  details,
		},
		Timestamp: alert.CreatedAt,
	})
	return &alert, nil
}

// AllowAll is a Gate that allows everything. Used where screening is
// disabled.
type AllowAll struct{}

var _ Gate = AllowAll{}

// CheckTransaction always allows.
func (AllowAll) CheckTransaction(context.Context, string, string, money.Money, string, string) (Result, error) {
	return Result{Action: Allow}, nil
}
