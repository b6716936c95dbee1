// Package audit records domain-significant actions as a tamper-evident
// append-only log. Each event's hash covers its own fields plus the hash
// of the previous event, so any mutation or reordering of persisted
// events breaks the chain.
//
// CRITICAL: The audit trail is evidence, not operational memory. Nothing
// in the core reads it to make a decision.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nexum/internal/storage"
	"nexum/pkg/clock"
)

// Event is an immutable audit log event.
type Event struct {
	ID           string            `msgpack:"id"`
	Seq          uint64            `msgpack:"seq"`
	EventType    string            `msgpack:"event_type"`
	EntityType   string            `msgpack:"entity_type"`
	EntityID     string            `msgpack:"entity_id"`
	Timestamp    time.Time         `msgpack:"timestamp"`
	Actor        string            `msgpack:"actor"`
	Metadata     map[string]string `msgpack:"metadata"`
	Hash         string            `msgpack:"hash"`
	PreviousHash string            `msgpack:"previous_hash"`
}

// Filter selects audit events on read. Zero fields match everything.
type Filter struct {
	EventType  string
	Actor      string
	EntityType string
	EntityID   string
	After      time.Time
	Before     time.Time
	Limit      int
}

// Recorder is the write half of the trail.
type Recorder interface {
	// Record appends an event. ID, Seq, Timestamp, PreviousHash, and Hash
	// are assigned by the trail; caller-set values for them are ignored.
	Record(ctx context.Context, event Event) error
}

// Trail is the storage-backed audit log.
type Trail struct {
	mu    sync.Mutex
	store storage.Storage
	clock clock.Clock

	nextSeq  uint64
	lastHash string
	loaded   bool
}

// NewTrail creates a Trail over the given storage. Chain state (sequence
// and head hash) is recovered lazily from persisted events.
func NewTrail(store storage.Storage, clk clock.Clock) *Trail {
	return &Trail{store: store, clock: clk}
}

// Record appends an event to the chain.
func (t *Trail) Record(ctx context.Context, event Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.recoverLocked(ctx); err != nil {
		return err
	}

	event.ID = uuid.NewString()
	event.Seq = t.nextSeq
	event.Timestamp = t.clock.Now()
	event.PreviousHash = t.lastHash
	event.Hash = computeHash(event)

	if err := t.store.Save(ctx, storage.TableAuditEvents, seqKey(event.Seq), event); err != nil {
		return err
	}
	t.nextSeq++
	t.lastHash = event.Hash
	return nil
}

// VerifyChain walks every persisted event in sequence order and reports
// whether the chain is intact. Verification is O(n) and does not mutate.
func (t *Trail) VerifyChain(ctx context.Context) (bool, error) {
	events, err := t.all(ctx)
	if err != nil {
		return false, err
	}

	prev := ""
	for i, ev := range events {
		if ev.Seq != uint64(i) {
			return false, nil
		}
		if ev.PreviousHash != prev {
			return false, nil
		}
		if computeHash(ev) != ev.Hash {
			return false, nil
		}
		prev = ev.Hash
	}
	return true, nil
}

// List returns events matching the filter in chain order.
func (t *Trail) List(ctx context.Context, filter Filter) ([]Event, error) {
	events, err := t.all(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Event, 0)
	for _, ev := range events {
		if !matches(ev, filter) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (t *Trail) all(ctx context.Context) ([]Event, error) {
	rows, err := t.store.LoadAll(ctx, storage.TableAuditEvents)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		var ev Event
		if err := row.Decode(&ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}

// recoverLocked restores nextSeq and lastHash from storage on first use.
func (t *Trail) recoverLocked(ctx context.Context) error {
	if t.loaded {
		return nil
	}
	events, err := t.all(ctx)
	if err != nil {
		return err
	}
	if n := len(events); n > 0 {
		t.nextSeq = events[n-1].Seq + 1
		t.lastHash = events[n-1].Hash
	}
	t.loaded = true
	return nil
}

func matches(ev Event, f Filter) bool {
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if f.Actor != "" && ev.Actor != f.Actor {
		return false
	}
	if f.EntityType != "" && ev.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && ev.EntityID != f.EntityID {
		return false
	}
	if !f.After.IsZero() && ev.Timestamp.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && ev.Timestamp.After(f.Before) {
		return false
	}
	return true
}

// computeHash hashes the event's own fields plus the previous hash.
// Metadata keys are sorted so the digest is canonical.
func computeHash(ev Event) string {
	keys := make([]string, 0, len(ev.Metadata))
	for k := range ev.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|%s|%s|%s|%s|%s|%s",
		ev.ID, ev.Seq, ev.EventType, ev.EntityType, ev.EntityID,
		ev.Timestamp.UTC().Format(time.RFC3339Nano), ev.Actor, ev.PreviousHash)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, ev.Metadata[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func seqKey(seq uint64) string {
	return fmt.Sprintf("%016d", seq)
}

// Verify interface compliance at compile time.
var _ Recorder = (*Trail)(nil)
