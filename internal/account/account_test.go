package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexum/internal/customer"
	"nexum/internal/ledger"
	"nexum/internal/storage/memstore"
	"nexum/pkg/apperr"
	"nexum/pkg/clock"
	"nexum/pkg/events"
	"nexum/pkg/money"
)

type accountEnv struct {
	manager  *Manager
	ledger   *ledger.Service
	custID   string
	captured *[]events.Event
}

func newAccountEnv(t *testing.T) *accountEnv {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	clk := clock.NewFixed(time.Date(2025, 4, 15, 10, 0, 0, 0, time.UTC))
	dispatcher := events.NewDispatcher(nil)
	captured := &[]events.Event{}
	dispatcher.SubscribeAll("capture", func(e events.Event) {
		*captured = append(*captured, e)
	})

	led := ledger.NewService(store, clk, nil)
	require.NoError(t, led.SeedSystemAccounts(ctx, money.USD))

	cust, err := customer.NewManager(store, events.Noop{}, clk, nil).
		Create(ctx, "Ada Lovelace", "ada@example.com", "", "GB")
	require.NoError(t, err)

	return &accountEnv{
		manager:  NewManager(led, store, dispatcher, clk, nil),
		ledger:   led,
		custID:   cust.ID,
		captured: captured,
	}
}

func usd(s string) money.Money { return money.MustFromString(s, money.USD) }

func (e *accountEnv) post(t *testing.T, lines []ledger.JournalEntryLine) {
	t.Helper()
	ctx := context.Background()
	entry, err := e.ledger.CreateJournalEntry(ctx, "ref-"+lines[0].AccountID, "", lines)
	require.NoError(t, err)
	_, err = e.ledger.PostJournalEntry(ctx, entry.ID)
	require.NoError(t, err)
}

func TestOpenChecking(t *testing.T) {
	env := newAccountEnv(t)
	ctx := context.Background()

	acct, err := env.manager.Open(ctx, OpenRequest{
		CustomerID: env.custID,
		Name:       "Main checking",
		Product:    ledger.ProductChecking,
		Currency:   money.USD,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.ClassAsset, acct.Class)
	assert.Equal(t, ledger.AccountActive, acct.Status)
	assert.Nil(t, acct.CreditLimit)

	require.Len(t, *env.captured, 1)
	assert.Equal(t, events.AccountCreated, (*env.captured)[0].Kind)
	assert.Equal(t, acct.ID, (*env.captured)[0].EntityID)
}

func TestOpenLoanRequiresCreditLimit(t *testing.T) {
	env := newAccountEnv(t)
	ctx := context.Background()

	_, err := env.manager.Open(ctx, OpenRequest{
		CustomerID: env.custID,
		Name:       "Loan",
		Product:    ledger.ProductLoan,
		Currency:   money.USD,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Validation))

	limit := usd("5000.00")
	acct, err := env.manager.Open(ctx, OpenRequest{
		CustomerID:  env.custID,
		Name:        "Loan",
		Product:     ledger.ProductLoan,
		Currency:    money.USD,
		CreditLimit: &limit,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.ClassLiability, acct.Class)
	require.NotNil(t, acct.CreditLimit)
}

func TestOpenRejectsCreditLimitOnDeposit(t *testing.T) {
	env := newAccountEnv(t)
	limit := usd("100.00")
	_, err := env.manager.Open(context.Background(), OpenRequest{
		CustomerID:  env.custID,
		Name:        "Savings",
		Product:     ledger.ProductSavings,
		Currency:    money.USD,
		CreditLimit: &limit,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Validation))
}

func TestOpenUnknownCustomer(t *testing.T) {
	env := newAccountEnv(t)
	_, err := env.manager.Open(context.Background(), OpenRequest{
		CustomerID: "nope",
		Name:       "Checking",
		Product:    ledger.ProductChecking,
		Currency:   money.USD,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestFreezeUnfreeze(t *testing.T) {
	env := newAccountEnv(t)
	ctx := context.Background()

	acct, err := env.manager.Open(ctx, OpenRequest{
		CustomerID: env.custID,
		Name:       "Checking",
		Product:    ledger.ProductChecking,
		Currency:   money.USD,
	})
	require.NoError(t, err)

	require.NoError(t, env.manager.Freeze(ctx, acct.ID))
	got, err := env.manager.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountFrozen, got.Status)

	err = env.manager.Unfreeze(ctx, acct.ID)
	require.NoError(t, err)
	got, err = env.manager.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountActive, got.Status)

	err = env.manager.Unfreeze(ctx, acct.ID)
	require.Error(t, err, "only frozen accounts can be unfrozen")
	assert.True(t, apperr.IsKind(err, apperr.State))
}

func TestCloseRequiresZeroBalance(t *testing.T) {
	env := newAccountEnv(t)
	ctx := context.Background()

	acct, err := env.manager.Open(ctx, OpenRequest{
		CustomerID: env.custID,
		Name:       "Checking",
		Product:    ledger.ProductChecking,
		Currency:   money.USD,
	})
	require.NoError(t, err)

	// Post a deposit directly on the ledger to give it a balance.
	env.post(t, []ledger.JournalEntryLine{
		ledger.DebitLine(acct.ID, "funding", usd("50.00")),
		ledger.CreditLine(ledger.SystemExternalDeposits, "funding", usd("50.00")),
	})

	err = env.manager.Close(ctx, acct.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.State))

	// Withdraw back to zero, then close succeeds.
	env.post(t, []ledger.JournalEntryLine{
		ledger.DebitLine(ledger.SystemExternalDeposits, "withdrawal", usd("50.00")),
		ledger.CreditLine(acct.ID, "withdrawal", usd("50.00")),
	})

	require.NoError(t, env.manager.Close(ctx, acct.ID))
	got, err := env.manager.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountClosed, got.Status)

	err = env.manager.Close(ctx, acct.ID)
	require.Error(t, err, "closing twice is a state error")
	assert.True(t, apperr.IsKind(err, apperr.State))
}

func TestHoldsReduceAvailableBalance(t *testing.T) {
	env := newAccountEnv(t)
	ctx := context.Background()

	acct, err := env.manager.Open(ctx, OpenRequest{
		CustomerID: env.custID,
		Name:       "Checking",
		Product:    ledger.ProductChecking,
		Currency:   money.USD,
	})
	require.NoError(t, err)

	env.post(t, []ledger.JournalEntryLine{
		ledger.DebitLine(acct.ID, "funding", usd("200.00")),
		ledger.CreditLine(ledger.SystemExternalDeposits, "funding", usd("200.00")),
	})

	require.NoError(t, env.manager.PlaceHold(ctx, acct.ID, usd("75.00")))

	book, err := env.manager.BookBalance(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, book.Equal(usd("200.00")))

	avail, err := env.manager.AvailableBalance(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(usd("125.00")))

	// A later hold replaces the first.
	require.NoError(t, env.manager.PlaceHold(ctx, acct.ID, usd("10.00")))
	avail, err = env.manager.AvailableBalance(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(usd("190.00")))

	require.NoError(t, env.manager.ReleaseHold(ctx, acct.ID))
	avail, err = env.manager.AvailableBalance(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(usd("200.00")))
}

func TestPlaceHoldValidation(t *testing.T) {
	env := newAccountEnv(t)
	ctx := context.Background()

	acct, err := env.manager.Open(ctx, OpenRequest{
		CustomerID: env.custID,
		Name:       "Checking",
		Product:    ledger.ProductChecking,
		Currency:   money.USD,
	})
	require.NoError(t, err)

	err = env.manager.PlaceHold(ctx, acct.ID, usd("-5.00"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Validation))

	err = env.manager.PlaceHold(ctx, acct.ID, money.MustFromString("5.00", money.EUR))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Validation))
}
