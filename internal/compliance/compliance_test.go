package compliance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexum/internal/storage"
	"nexum/internal/storage/memstore"
	"nexum/pkg/clock"
	"nexum/pkg/events"
	"nexum/pkg/money"
)

type txnRow struct {
	FromAccountID string    `msgpack:"from_account_id"`
	ToAccountID   string    `msgpack:"to_account_id"`
	CreatedAt     time.Time `msgpack:"created_at"`
}

func newGate(t *testing.T, sanctioned []string) (*RuleGate, *memstore.Store, *events.InProc, clock.Clock) {
	t.Helper()
	store := memstore.New()
	clk := clock.NewFixed(time.Date(2025, 4, 15, 10, 0, 0, 0, time.UTC))
	dispatcher := events.NewDispatcher(nil)
	return NewRuleGate(store, dispatcher, clk, nil, sanctioned), store, dispatcher, clk
}

func TestCleanTransactionAllowed(t *testing.T) {
	g, _, _, _ := newGate(t, nil)

	res, err := g.CheckTransaction(context.Background(), "cust-1", "A",
		money.MustFromString("500.00", money.USD), "DEPOSIT", "txn-1")
	require.NoError(t, err)
	assert.Equal(t, Allow, res.Action)
	assert.Empty(t, res.Violations)
}

func TestSanctionedCustomerBlocked(t *testing.T) {
	g, _, _, _ := newGate(t, []string{"cust-bad"})

	res, err := g.CheckTransaction(context.Background(), "cust-bad", "A",
		money.MustFromString("10.00", money.USD), "DEPOSIT", "txn-1")
	require.NoError(t, err)
	assert.Equal(t, Block, res.Action)
	require.Len(t, res.Violations, 1)
	assert.Contains(t, res.Violations[0], "sanctions")
}

func TestLargeAmountFlagged(t *testing.T) {
	g, _, _, _ := newGate(t, nil)

	res, err := g.CheckTransaction(context.Background(), "cust-1", "A",
		money.MustFromString("10000.00", money.USD), "DEPOSIT", "txn-1")
	require.NoError(t, err)
	assert.Equal(t, Flag, res.Action, "threshold is inclusive")
	require.Len(t, res.Violations, 1)
	assert.Contains(t, res.Violations[0], "reporting threshold")

	res, err = g.CheckTransaction(context.Background(), "cust-1", "A",
		money.MustFromString("9999.99", money.USD), "DEPOSIT", "txn-2")
	require.NoError(t, err)
	assert.Equal(t, Allow, res.Action)
}

func TestSanctionsOutrankLargeAmount(t *testing.T) {
	g, _, _, _ := newGate(t, []string{"cust-bad"})

	res, err := g.CheckTransaction(context.Background(), "cust-bad", "A",
		money.MustFromString("25000.00", money.USD), "DEPOSIT", "txn-1")
	require.NoError(t, err)
	assert.Equal(t, Block, res.Action)
	assert.Len(t, res.Violations, 2, "both rules recorded")
}

func TestVelocityFlagged(t *testing.T) {
	g, store, _, clk := newGate(t, nil)
	ctx := context.Background()

	// Nine recent transactions plus one stale one: still under the limit.
	for i := 0; i < 9; i++ {
		require.NoError(t, store.Save(ctx, storage.TableTransactions, fmt.Sprintf("t%d", i), txnRow{
			FromAccountID: "A",
			CreatedAt:     clk.Now().Add(-time.Duration(i+1) * time.Minute),
		}))
	}
	require.NoError(t, store.Save(ctx, storage.TableTransactions, "stale", txnRow{
		FromAccountID: "A",
		CreatedAt:     clk.Now().Add(-2 * time.Hour),
	}))

	res, err := g.CheckTransaction(ctx, "cust-1", "A",
		money.MustFromString("50.00", money.USD), "WITHDRAWAL", "txn-x")
	require.NoError(t, err)
	assert.Equal(t, Allow, res.Action)

	// The tenth recent row crosses the limit. Credits count too.
	require.NoError(t, store.Save(ctx, storage.TableTransactions, "t9", txnRow{
		ToAccountID: "A",
		CreatedAt:   clk.Now().Add(-30 * time.Second),
	}))

	res, err = g.CheckTransaction(ctx, "cust-1", "A",
		money.MustFromString("50.00", money.USD), "WITHDRAWAL", "txn-y")
	require.NoError(t, err)
	assert.Equal(t, Flag, res.Action)
	require.Len(t, res.Violations, 1)
	assert.Contains(t, res.Violations[0], "velocity")
}

func TestVelocityIgnoresOtherAccounts(t *testing.T) {
	g, store, _, clk := newGate(t, nil)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, store.Save(ctx, storage.TableTransactions, fmt.Sprintf("t%d", i), txnRow{
			FromAccountID: "B",
			CreatedAt:     clk.Now().Add(-time.Minute),
		}))
	}

	res, err := g.CheckTransaction(ctx, "cust-1", "A",
		money.MustFromString("50.00", money.USD), "WITHDRAWAL", "txn-1")
	require.NoError(t, err)
	assert.Equal(t, Allow, res.Action)
}

func TestCreateAlertPersistsAndPublishes(t *testing.T) {
	g, store, dispatcher, clk := newGate(t, nil)
	ctx := context.Background()

	var published []events.Event
	dispatcher.Subscribe(events.ComplianceAlert, "capture", func(e events.Event) {
		published = append(published, e)
	})

	alert, err := g.CreateAlert(ctx, "HIGH", "aml.structuring", "customer", "cust-7",
		"pattern of sub-threshold deposits", map[string]string{"case": "c-12"})
	require.NoError(t, err)
	require.NotEmpty(t, alert.ID)
	assert.Equal(t, clk.Now(), alert.CreatedAt)

	var stored Alert
	require.NoError(t, store.Load(ctx, storage.TableNotifications, alert.ID, &stored))
	assert.Equal(t, "aml.structuring", stored.Rule)
	assert.Equal(t, "c-12", stored.Metadata["case"])

	require.Len(t, published, 1)
	assert.Equal(t, "cust-7", published[0].EntityID)
	assert.Equal(t, alert.ID, published[0].Data["alert_id"])
	assert.Equal(t, "HIGH", published[0].Data["severity"])
}

func TestAllowAll(t *testing.T) {
	res, err := AllowAll{}.CheckTransaction(context.Background(), "anyone", "A",
		money.MustFromString("1000000.00", money.USD), "DEPOSIT", "txn-1")
	require.NoError(t, err)
	assert.Equal(t, Allow, res.Action)
}
