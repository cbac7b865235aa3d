// Package memtable implements the per-table in-memory ordered
// structure (C2): a skiplist of rows keyed by timestamp, with
// row payloads drawn from a cache arena and freeze semantics that
// hand a read-only generation to the commit pipeline.
package memtable

import (
	"sync/atomic"

	"github.com/tsdbcore/engine/internal/arena"
)

// Memtable is an ordered-by-timestamp set of rows for exactly one
// table. It tracks keyFirst, keyLast and numOfPoints as required by
// the data model, and can be frozen: once frozen it accepts no more
// writes and is handed off to the commit pipeline for draining.
type Memtable struct {
	id    uint64
	arena *arena.Arena
	sl    *skipList

	frozen atomic.Bool

	// keyFirst/keyLast/numOfPoints are maintained under the skiplist's
	// own lock via Insert, so plain int64/int64 fields guarded by the
	// same mutex would also work; atomics let Size()-style readers
	// avoid taking that lock at all.
	keyFirst    atomic.Int64
	keyLast     atomic.Int64
	numOfPoints atomic.Int64
	hasData     atomic.Bool
}

var memtableIDCounter atomic.Uint64

// New creates an empty Memtable backed by arena a.
func New(a *arena.Arena) *Memtable {
	return &Memtable{
		id:    memtableIDCounter.Add(1),
		arena: a,
		sl:    newSkipList(memtableIDCounter.Load()),
	}
}

// ID returns the (process-local) identity of this memtable instance,
// stable across its active and frozen lifetime.
func (m *Memtable) ID() uint64 { return m.id }

// Insert stores row, allocating its payload out of the arena. If the
// exact timestamp already exists, the prior payload is replaced
// (last-writer-wins); otherwise a new node is spliced in.
//
// Insert fails with the arena's allocation error (typically
// arena.ErrCacheFull) without mutating the memtable.
func (m *Memtable) Insert(ts int64, payload []byte) error {
	if m.frozen.Load() {
		return ErrFrozen
	}

	buf, err := m.arena.Allocate(len(payload))
	if err != nil {
		return err
	}
	copy(buf, payload)

	inserted := m.sl.upsert(Row{Timestamp: ts, Payload: buf})

	m.sl.mu.Lock()
	defer m.sl.mu.Unlock()
	if !m.hasData.Load() {
		m.keyFirst.Store(ts)
		m.keyLast.Store(ts)
		m.hasData.Store(true)
	} else {
		if ts < m.keyFirst.Load() {
			m.keyFirst.Store(ts)
		}
		if ts > m.keyLast.Load() {
			m.keyLast.Store(ts)
		}
	}
	if inserted {
		m.numOfPoints.Add(1)
	}
	return nil
}

// KeyFirst, KeyLast and NumOfPoints report the invariant-tracked
// summary fields from the data model. KeyFirst/KeyLast are undefined
// (zero) when NumOfPoints is zero.
func (m *Memtable) KeyFirst() int64    { return m.keyFirst.Load() }
func (m *Memtable) KeyLast() int64     { return m.keyLast.Load() }
func (m *Memtable) NumOfPoints() int64 { return m.numOfPoints.Load() }
func (m *Memtable) IsEmpty() bool      { return !m.hasData.Load() }

// Freeze marks the memtable read-only. It is idempotent.
func (m *Memtable) Freeze() {
	m.frozen.Store(true)
}

// IsFrozen reports whether Freeze has been called.
func (m *Memtable) IsFrozen() bool {
	return m.frozen.Load()
}

// Cursor is a forward-only read-only view over a (typically frozen)
// memtable's rows, used by the commit pipeline to drain a table's
// frozen generation in timestamp order.
type Cursor struct {
	it *iterator
}

// NewCursor opens a cursor over m. The cursor holds the memtable's
// internal read lock until Close is called; while it is open, inserts
// into m block.
func (m *Memtable) NewCursor() *Cursor {
	return &Cursor{it: m.sl.newIterator()}
}

// Seek positions the cursor just before the first row with
// Timestamp >= ts, so the next call to Next lands on that row.
// Reports whether such a row exists.
func (c *Cursor) Seek(ts int64) bool { return c.it.seek(ts) }

// Next advances the cursor, returning whether a row is now available.
func (c *Cursor) Next() bool { return c.it.next() }

// Row returns the row at the cursor's current position. Only valid
// after a Next call that returned true.
func (c *Cursor) Row() Row { return c.it.row() }

// Close releases the cursor's hold on the memtable.
func (c *Cursor) Close() { c.it.close() }
