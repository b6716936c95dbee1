// Package pgstore provides the Postgres-backed Storage implementation.
// Every logical table shares one physical relation keyed by
// (table_name, id); row payloads are the same msgpack encoding the
// in-memory store uses. Atomic maps directly onto a database transaction.
package pgstore

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nexum/internal/storage"
	"nexum/pkg/apperr"
)

const recordsTable = "nexum_records"

// Schema is the DDL for the backing relation. Applied out-of-band;
// migration tooling is outside the core.
const Schema = `
CREATE TABLE IF NOT EXISTS nexum_records (
    table_name TEXT  NOT NULL,
    id         TEXT  NOT NULL,
    data       BYTEA NOT NULL,
    PRIMARY KEY (table_name, id)
);
`

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgconnCommandTag narrows pgconn.CommandTag to what this package reads.
type pgconnCommandTag interface {
	RowsAffected() int64
}

// Store is a Postgres Storage backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an established pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for the given connection string and ensures the
// backing relation exists.
func Connect(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "pgstore.Connect", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, apperr.Wrap(apperr.Storage, "pgstore.Connect", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Save(ctx context.Context, table, id string, rec any) error {
	return save(ctx, poolQuerier{s.pool}, table, id, rec)
}

func (s *Store) Load(ctx context.Context, table, id string, out any) error {
	return load(ctx, poolQuerier{s.pool}, table, id, out)
}

func (s *Store) Exists(ctx context.Context, table, id string) (bool, error) {
	return exists(ctx, poolQuerier{s.pool}, table, id)
}

func (s *Store) LoadAll(ctx context.Context, table string) ([]storage.Row, error) {
	return loadAll(ctx, poolQuerier{s.pool}, table)
}

func (s *Store) Find(ctx context.Context, table string, match func(storage.Row) bool) ([]storage.Row, error) {
	return find(ctx, poolQuerier{s.pool}, table, match)
}

func (s *Store) Delete(ctx context.Context, table, id string) (bool, error) {
	return del(ctx, poolQuerier{s.pool}, table, id)
}

// Atomic runs fn inside a database transaction. Rollback on error,
// commit on nil.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Storage) error) error {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "pgstore.Atomic", err)
	}
	view := &txStore{tx: dbTx}
	if err := fn(ctx, view); err != nil {
		_ = dbTx.Rollback(ctx)
		return err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Storage, "pgstore.Atomic", err)
	}
	return nil
}

// txStore is the Storage bound to an open transaction.
type txStore struct {
	tx pgx.Tx
}

func (t *txStore) Save(ctx context.Context, table, id string, rec any) error {
	return save(ctx, txQuerier{t.tx}, table, id, rec)
}

func (t *txStore) Load(ctx context.Context, table, id string, out any) error {
	return load(ctx, txQuerier{t.tx}, table, id, out)
}

func (t *txStore) Exists(ctx context.Context, table, id string) (bool, error) {
	return exists(ctx, txQuerier{t.tx}, table, id)
}

func (t *txStore) LoadAll(ctx context.Context, table string) ([]storage.Row, error) {
	return loadAll(ctx, txQuerier{t.tx}, table)
}

func (t *txStore) Find(ctx context.Context, table string, match func(storage.Row) bool) ([]storage.Row, error) {
	return find(ctx, txQuerier{t.tx}, table, match)
}

func (t *txStore) Delete(ctx context.Context, table, id string) (bool, error) {
	return del(ctx, txQuerier{t.tx}, table, id)
}

// Atomic inside a transaction reuses the open transaction.
func (t *txStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Storage) error) error {
	return fn(ctx, t)
}

// poolQuerier and txQuerier adapt pgx types to the narrow querier surface.

type poolQuerier struct{ pool *pgxpool.Pool }

func (q poolQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	tag, err := q.pool.Exec(ctx, sql, args...)
	return tag, err
}

func (q poolQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return q.pool.Query(ctx, sql, args...)
}

func (q poolQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return q.pool.QueryRow(ctx, sql, args...)
}

type txQuerier struct{ tx pgx.Tx }

func (q txQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	tag, err := q.tx.Exec(ctx, sql, args...)
	return tag, err
}

func (q txQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return q.tx.Query(ctx, sql, args...)
}

func (q txQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return q.tx.QueryRow(ctx, sql, args...)
}

// Shared statement helpers.

func save(ctx context.Context, q querier, table, id string, rec any) error {
	data, err := storage.Encode(rec)
	if err != nil {
		return err
	}
	sql, args, err := builder.
		Insert(recordsTable).
		Columns("table_name", "id", "data").
		Values(table, id, data).
		Suffix("ON CONFLICT (table_name, id) DO UPDATE SET data = EXCLUDED.data").
		ToSql()
	if err != nil {
		return apperr.Wrap(apperr.Storage, "pgstore.Save", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return apperr.Wrap(apperr.Storage, "pgstore.Save", err)
	}
	return nil
}

func load(ctx context.Context, q querier, table, id string, out any) error {
	sql, args, err := builder.
		Select("data").
		From(recordsTable).
		Where(sq.Eq{"table_name": table, "id": id}).
		ToSql()
	if err != nil {
		return apperr.Wrap(apperr.Storage, "pgstore.Load", err)
	}
	var data []byte
	if err := q.QueryRow(ctx, sql, args...).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.NotFound(table, id)
		}
		return apperr.Wrap(apperr.Storage, "pgstore.Load", err)
	}
	return storage.Row{ID: id, Data: data}.Decode(out)
}

func exists(ctx context.Context, q querier, table, id string) (bool, error) {
	sql, args, err := builder.
		Select("1").
		From(recordsTable).
		Where(sq.Eq{"table_name": table, "id": id}).
		ToSql()
	if err != nil {
		return false, apperr.Wrap(apperr.Storage, "pgstore.Exists", err)
	}
	var one int
	if err := q.QueryRow(ctx, sql, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, apperr.Wrap(apperr.Storage, "pgstore.Exists", err)
	}
	return true, nil
}

func loadAll(ctx context.Context, q querier, table string) ([]storage.Row, error) {
	return find(ctx, q, table, func(storage.Row) bool { return true })
}

func find(ctx context.Context, q querier, table string, match func(storage.Row) bool) ([]storage.Row, error) {
	sql, args, err := builder.
		Select("id", "data").
		From(recordsTable).
		Where(sq.Eq{"table_name": table}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "pgstore.Find", err)
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "pgstore.Find", err)
	}
	defer rows.Close()

	var out []storage.Row
	for rows.Next() {
		var row storage.Row
		if err := rows.Scan(&row.ID, &row.Data); err != nil {
			return nil, apperr.Wrap(apperr.Storage, "pgstore.Find", err)
		}
		if match(row) {
			out = append(out, row)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "pgstore.Find", err)
	}
	return out, nil
}

func del(ctx context.Context, q querier, table, id string) (bool, error) {
	sql, args, err := builder.
		Delete(recordsTable).
		Where(sq.Eq{"table_name": table, "id": id}).
		ToSql()
	if err != nil {
		return false, apperr.Wrap(apperr.Storage, "pgstore.Delete", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return false, apperr.Wrap(apperr.Storage, "pgstore.Delete", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Verify interface compliance at compile time.
var (
	_ storage.Storage = (*Store)(nil)
	_ storage.Storage = (*txStore)(nil)
)
