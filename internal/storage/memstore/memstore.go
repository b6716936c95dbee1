// Package memstore provides the in-memory Storage implementation used by
// tests and single-process deployments. Atomic regions buffer their
// writes in an overlay and commit under the store lock, so a completed
// region becomes visible indivisibly.
package memstore

import (
	"context"
	"sort"
	"sync"

	"nexum/internal/storage"
)

// Store is a mutex-guarded map-of-tables Storage.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string][]byte

	// txMu serialises atomic regions with each other. It is separate
	// from mu so reads through the store stay possible while a region
	// runs (external calls happen inside regions).
	txMu sync.Mutex
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{tables: make(map[string]map[string][]byte)}
}

// Save writes a record under (table, id).
func (s *Store) Save(ctx context.Context, table, id string, rec any) error {
	data, err := storage.Encode(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(table, id, data)
	return nil
}

// Load reads the record at (table, id) into out.
func (s *Store) Load(ctx context.Context, table, id string, out any) error {
	s.mu.RLock()
	data, ok := s.tables[table][id]
	s.mu.RUnlock()
	if !ok {
		return storage.NotFound(table, id)
	}
	return storage.Row{ID: id, Data: data}.Decode(out)
}

// Exists reports whether a row is present.
func (s *Store) Exists(ctx context.Context, table, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tables[table][id]
	return ok, nil
}

// LoadAll returns every row in the table, ordered by id.
func (s *Store) LoadAll(ctx context.Context, table string) ([]storage.Row, error) {
	return s.Find(ctx, table, func(storage.Row) bool { return true })
}

// Find returns matching rows, ordered by id.
func (s *Store) Find(ctx context.Context, table string, match func(storage.Row) bool) ([]storage.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]storage.Row, 0)
	for id, data := range s.tables[table] {
		row := storage.Row{ID: id, Data: data}
		if match(row) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

// Delete removes the row at (table, id).
func (s *Store) Delete(ctx context.Context, table, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table][id]; !ok {
		return false, nil
	}
	delete(s.tables[table], id)
	return true, nil
}

// Atomic runs fn against a buffering view. Writes stay in the view's
// overlay until fn returns nil, then commit under the store lock in one
// step; an error discards the overlay.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Storage) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	view := &txView{
		store:   s,
		overlay: make(map[string]map[string][]byte),
		deleted: make(map[string]map[string]bool),
	}
	if err := fn(ctx, view); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for table, ids := range view.deleted {
		for id := range ids {
			delete(s.tables[table], id)
		}
	}
	for table, rows := range view.overlay {
		for id, data := range rows {
			s.put(table, id, data)
		}
	}
	return nil
}

// put writes without locking. Callers hold s.mu.
func (s *Store) put(table, id string, data []byte) {
	t, ok := s.tables[table]
	if !ok {
		t = make(map[string][]byte)
		s.tables[table] = t
	}
	t[id] = data
}

// txView is the Storage handed to an Atomic region: reads see the
// overlay first, then the underlying store; writes only touch the
// overlay until commit.
type txView struct {
	store   *Store
	overlay map[string]map[string][]byte
	deleted map[string]map[string]bool
}

func (v *txView) Save(ctx context.Context, table, id string, rec any) error {
	data, err := storage.Encode(rec)
	if err != nil {
		return err
	}
	t, ok := v.overlay[table]
	if !ok {
		t = make(map[string][]byte)
		v.overlay[table] = t
	}
	t[id] = data
	delete(v.deleted[table], id)
	return nil
}

func (v *txView) Load(ctx context.Context, table, id string, out any) error {
	if v.deleted[table][id] {
		return storage.NotFound(table, id)
	}
	if data, ok := v.overlay[table][id]; ok {
		return storage.Row{ID: id, Data: data}.Decode(out)
	}
	return v.store.Load(ctx, table, id, out)
}

func (v *txView) Exists(ctx context.Context, table, id string) (bool, error) {
	if v.deleted[table][id] {
		return false, nil
	}
	if _, ok := v.overlay[table][id]; ok {
		return true, nil
	}
	return v.store.Exists(ctx, table, id)
}

func (v *txView) LoadAll(ctx context.Context, table string) ([]storage.Row, error) {
	return v.Find(ctx, table, func(storage.Row) bool { return true })
}

func (v *txView) Find(ctx context.Context, table string, match func(storage.Row) bool) ([]storage.Row, error) {
	merged := make(map[string][]byte)

	v.store.mu.RLock()
	for id, data := range v.store.tables[table] {
		merged[id] = data
	}
	v.store.mu.RUnlock()

	for id := range v.deleted[table] {
		delete(merged, id)
	}
	for id, data := range v.overlay[table] {
		merged[id] = data
	}

	rows := make([]storage.Row, 0, len(merged))
	for id, data := range merged {
		row := storage.Row{ID: id, Data: data}
		if match(row) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (v *txView) Delete(ctx context.Context, table, id string) (bool, error) {
	present, err := v.Exists(ctx, table, id)
	if err != nil || !present {
		return false, err
	}
	delete(v.overlay[table], id)
	d, ok := v.deleted[table]
	if !ok {
		d = make(map[string]bool)
		v.deleted[table] = d
	}
	d[id] = true
	return true, nil
}

// Atomic inside an atomic region runs fn against the same view; the
// outer region already provides all-or-nothing semantics.
func (v *txView) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Storage) error) error {
	return fn(ctx, v)
}

// Verify interface compliance at compile time.
var (
	_ storage.Storage = (*Store)(nil)
	_ storage.Storage = (*txView)(nil)
)
