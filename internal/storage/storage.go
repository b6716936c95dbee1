// Package storage exposes the durable row-oriented key/value surface the
// core writes through. Named tables hold msgpack-encoded rows; Atomic
// provides a scoped multi-write unit that commits all contained writes
// together or discards them on failure.
//
// Storage is the source of truth: every write in the core traverses it.
package storage

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"

	"nexum/pkg/apperr"
)

// Persisted table names. These form the persisted-state contract.
const (
	TableTransactions      = "transactions"
	TableJournalEntries    = "journal_entries"
	TableJournalEntryLines = "journal_entry_lines"
	TableAccounts          = "accounts"
	TableCustomers         = "customers"
	TableAuditEvents       = "audit_events"
	TableRoles             = "roles"
	TableUsers             = "users"
	TableSessions          = "sessions"
	TableNotifications     = "notifications"
	TableWorkflows         = "workflows"
)

// Row is a stored record: id plus its encoded payload.
type Row struct {
	ID   string
	Data []byte
}

// Decode unmarshals the row payload into out.
func (r Row) Decode(out any) error {
	if err := msgpack.Unmarshal(r.Data, out); err != nil {
		return apperr.WrapMsg(apperr.Storage, "storage.Decode", "corrupt row "+r.ID, err)
	}
	return nil
}

// Encode marshals a record into its stored payload form.
func Encode(rec any) ([]byte, error) {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "storage.Encode", err)
	}
	return data, nil
}

// Storage is the durable key/value surface over named tables.
//
// Ordering of concurrent writers is defined by the implementation; the
// core requires only that a completed Atomic region is visible
// indivisibly.
type Storage interface {
	// Save writes (or overwrites) a record under (table, id).
	Save(ctx context.Context, table, id string, rec any) error

	// Load reads the record at (table, id) into out.
	// Returns a NotFound error when the row is absent.
	Load(ctx context.Context, table, id string, out any) error

	// Exists reports whether a row is present at (table, id).
	Exists(ctx context.Context, table, id string) (bool, error)

	// LoadAll returns every row in the table, ordered by id.
	LoadAll(ctx context.Context, table string) ([]Row, error)

	// Find returns the rows in the table for which match returns true,
	// ordered by id.
	Find(ctx context.Context, table string, match func(Row) bool) ([]Row, error)

	// Delete removes the row at (table, id). Returns false when the row
	// was absent.
	Delete(ctx context.Context, table, id string) (bool, error)

	// Atomic runs fn against a transactional view of the storage. All
	// writes made through tx commit together when fn returns nil and are
	// discarded when fn returns an error.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Storage) error) error
}

// NotFound constructs the canonical missing-row error.
func NotFound(table, id string) error {
	return apperr.Ef(apperr.NotFound, "storage.Load", "%s/%s not found", table, id)
}
