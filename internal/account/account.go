// Package account is the narrow account collaborator: it opens customer
// accounts on the ledger chart, manages status and holds, and
// dispatches ACCOUNT_* events. Balances always come from the ledger.
package account

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nexum/internal/ledger"
	"nexum/internal/storage"
	"nexum/pkg/apperr"
	"nexum/pkg/clock"
	"nexum/pkg/events"
	"nexum/pkg/money"
)

// Manager owns customer account lifecycle.
type Manager struct {
	ledger     *ledger.Service
	store      storage.Storage
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
}

// NewManager creates a Manager.
func NewManager(ledgerSvc *ledger.Service, store storage.Storage, dispatcher events.Dispatcher, clk clock.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		ledger:     ledgerSvc,
		store:      store,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger,
	}
}

// OpenRequest carries the fields for a new account.
type OpenRequest struct {
	CustomerID string
	Name       string
	Product    ledger.Product
	Currency   money.Currency

	// CreditLimit caps a loan account's outstanding balance. Required
	// for loan accounts, rejected otherwise.
	CreditLimit *money.Money
}

// Open registers a new customer account on the chart. Deposit products
// are debit-normal asset accounts here; loan accounts are credit-normal
// so their book balance reads as the outstanding amount.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*ledger.Account, error) {
	const op = "account.Open"
	if req.CustomerID == "" {
		return nil, apperr.E(apperr.Validation, op, "customer id is required")
	}
	if ok, err := m.store.Exists(ctx, storage.TableCustomers, req.CustomerID); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.Ef(apperr.NotFound, op, "customer %s not found", req.CustomerID)
	}

	var class ledger.Class
	switch req.Product {
	case ledger.ProductChecking, ledger.ProductSavings:
		class = ledger.ClassAsset
		if req.CreditLimit != nil {
			return nil, apperr.E(apperr.Validation, op, "credit limit only applies to loan accounts")
		}
	case ledger.ProductLoan:
		class = ledger.ClassLiability
		if req.CreditLimit == nil {
			return nil, apperr.E(apperr.Validation, op, "loan account requires a credit limit")
		}
		if req.CreditLimit.Currency != req.Currency {
			return nil, apperr.E(apperr.Validation, op, "credit limit currency must match account currency")
		}
	default:
		return nil, apperr.Ef(apperr.Validation, op, "unknown product %q", req.Product)
	}

	acct := ledger.Account{
		ID:          uuid.NewString(),
		CustomerID:  req.CustomerID,
		Name:        req.Name,
		Product:     req.Product,
		Class:       class,
		Currency:    req.Currency,
		Status:      ledger.AccountActive,
		CreditLimit: req.CreditLimit,
		CreatedAt:   m.clock.Now(),
	}
	if err := m.ledger.RegisterAccount(ctx, acct); err != nil {
		return nil, err
	}
	m.publish(events.AccountCreated, acct.ID, map[string]any{
		"customer_id": acct.CustomerID,
		"product":     string(acct.Product),
		"currency":    string(acct.Currency),
	})
	return &acct, nil
}

// Get loads an account.
func (m *Manager) Get(ctx context.Context, id string) (*ledger.Account, error) {
	return m.ledger.GetAccount(ctx, id)
}

// Freeze blocks debits while still allowing credits.
func (m *Manager) Freeze(ctx context.Context, id string) error {
	return m.setStatus(ctx, id, ledger.AccountFrozen, events.AccountUpdated)
}

// Unfreeze reactivates a frozen account.
func (m *Manager) Unfreeze(ctx context.Context, id string) error {
	const op = "account.Unfreeze"
	acct, err := m.ledger.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if acct.Status != ledger.AccountFrozen {
		return apperr.Ef(apperr.State, op, "account %s is not frozen", id)
	}
	return m.setStatus(ctx, id, ledger.AccountActive, events.AccountUpdated)
}

// Close closes an account. Requires a zero book balance so no value is
// stranded.
func (m *Manager) Close(ctx context.Context, id string) error {
	const op = "account.Close"
	acct, err := m.ledger.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if acct.Status == ledger.AccountClosed {
		return apperr.Ef(apperr.State, op, "account %s is already closed", id)
	}
	balance, err := m.ledger.BookBalance(ctx, id)
	if err != nil {
		return err
	}
	if !balance.IsZero() {
		return apperr.Ef(apperr.State, op, "account %s has non-zero balance %s", id, balance)
	}
	return m.setStatus(ctx, id, ledger.AccountClosed, events.AccountClosed)
}

func (m *Manager) setStatus(ctx context.Context, id string, status ledger.AccountStatus, kind events.Kind) error {
	acct, err := m.ledger.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	previous := acct.Status
	acct.Status = status
	if err := m.ledger.UpdateAccount(ctx, *acct); err != nil {
		return err
	}
	m.publish(kind, id, map[string]any{
		"previous_status": string(previous),
		"new_status":      string(status),
	})
	return nil
}

// PlaceHold sets the held amount; available balance is book balance
// minus this. A later hold replaces the previous one.
func (m *Manager) PlaceHold(ctx context.Context, id string, amount money.Money) error {
	const op = "account.PlaceHold"
	if !amount.IsPositive() {
		return apperr.E(apperr.Validation, op, "hold amount must be positive")
	}
	acct, err := m.ledger.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if acct.Currency != amount.Currency {
		return apperr.E(apperr.Validation, op, "hold currency must match account currency")
	}
	acct.Hold = &amount
	if err := m.ledger.UpdateAccount(ctx, *acct); err != nil {
		return err
	}
	m.publish(events.AccountUpdated, id, map[string]any{
		"hold": amount.StringAmount(),
	})
	return nil
}

// ReleaseHold clears the held amount.
func (m *Manager) ReleaseHold(ctx context.Context, id string) error {
	acct, err := m.ledger.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if acct.Hold == nil {
		return nil
	}
	acct.Hold = nil
	if err := m.ledger.UpdateAccount(ctx, *acct); err != nil {
		return err
	}
	m.publish(events.AccountUpdated, id, map[string]any{
		"hold": "released",
	})
	return nil
}

// BookBalance is the signed sum of posted lines for the account.
func (m *Manager) BookBalance(ctx context.Context, id string) (money.Money, error) {
	return m.ledger.BookBalance(ctx, id)
}

// AvailableBalance is the book balance minus holds.
func (m *Manager) AvailableBalance(ctx context.Context, id string) (money.Money, error) {
	return m.ledger.AvailableBalance(ctx, id)
}

func (m *Manager) publish(kind events.Kind, accountID string, data map[string]any) {
	m.dispatcher.Publish(events.Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityType: "account",
		EntityID:   accountID,
		Data:       data,
		Timestamp:  m.clock.Now(),
	})
}
