package customer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexum/internal/storage/memstore"
	"nexum/pkg/apperr"
	"nexum/pkg/clock"
	"nexum/pkg/events"
)

func newManager(t *testing.T) (*Manager, *[]events.Event) {
	t.Helper()
	store := memstore.New()
	clk := clock.NewFixed(time.Date(2025, 4, 15, 10, 0, 0, 0, time.UTC))
	dispatcher := events.NewDispatcher(nil)
	captured := &[]events.Event{}
	dispatcher.SubscribeAll("capture", func(e events.Event) {
		*captured = append(*captured, e)
	})
	return NewManager(store, dispatcher, clk, nil), captured
}

func TestCreateStartsPending(t *testing.T) {
	m, captured := newManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, "Ada Lovelace", "ada@example.com", "+44 20 7946 0000", "GB")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, KYCPending, c.KYCStatus)

	got, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.FullName)

	require.Len(t, *captured, 1)
	assert.Equal(t, events.CustomerCreated, (*captured)[0].Kind)
	assert.Equal(t, c.ID, (*captured)[0].EntityID)
	assert.Equal(t, "PENDING", (*captured)[0].Data["kyc_status"])
}

func TestCreateRequiresName(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Create(context.Background(), "", "x@example.com", "", "")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Validation))
}

func TestGetMissing(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestUpdateKeepsKYCStatus(t *testing.T) {
	m, captured := newManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, "Ada Lovelace", "ada@example.com", "", "GB")
	require.NoError(t, err)
	_, err = m.SetKYCStatus(ctx, c.ID, KYCVerified)
	require.NoError(t, err)

	c.FullName = "Ada King"
	c.KYCStatus = KYCRejected // must be ignored by Update
	updated, err := m.Update(ctx, *c)
	require.NoError(t, err)
	assert.Equal(t, "Ada King", updated.FullName)
	assert.Equal(t, KYCVerified, updated.KYCStatus)

	last := (*captured)[len(*captured)-1]
	assert.Equal(t, events.CustomerUpdated, last.Kind)
}

func TestSetKYCStatus(t *testing.T) {
	m, captured := newManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, "Ada Lovelace", "ada@example.com", "", "GB")
	require.NoError(t, err)

	verified, err := m.SetKYCStatus(ctx, c.ID, KYCVerified)
	require.NoError(t, err)
	assert.Equal(t, KYCVerified, verified.KYCStatus)

	last := (*captured)[len(*captured)-1]
	assert.Equal(t, events.CustomerKYCChanged, last.Kind)
	assert.Equal(t, "PENDING", last.Data["previous_status"])
	assert.Equal(t, "VERIFIED", last.Data["new_status"])
}

func TestSetKYCStatusRejectsUnknown(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, "Ada Lovelace", "ada@example.com", "", "GB")
	require.NoError(t, err)

	_, err = m.SetKYCStatus(ctx, c.ID, KYCStatus("MAYBE"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Validation))
}
