// Package meta implements the table registry (C5): tables indexed by
// a dense tid, each carrying a schema, tag metadata and its active and
// frozen memtables.
package meta

import (
	"fmt"
	"sync"

	"github.com/tsdbcore/engine/internal/arena"
	"github.com/tsdbcore/engine/internal/memtable"
	"github.com/tsdbcore/engine/internal/schema"
)

// TableType distinguishes the two table variants the design treats as
// a tagged sum rather than an inheritance hierarchy: they share the
// memtable path and differ only in tag metadata.
type TableType int

const (
	Normal TableType = iota
	Child
)

func (t TableType) String() string {
	if t == Child {
		return "CHILD"
	}
	return "NORMAL"
}

// Handle is one table's registry entry.
type Handle struct {
	TID    int32
	UID    uint64
	Type   TableType
	Schema schema.Schema
	Tags   map[string]string

	mu     sync.Mutex
	arena  *arena.Arena
	active *memtable.Memtable
	frozen *memtable.Memtable
}

// Insert routes a row into the table's active memtable, lazily
// creating one if the prior active generation was frozen and not yet
// replaced.
func (h *Handle) Insert(ts int64, payload []byte) error {
	h.mu.Lock()
	if h.active == nil {
		h.active = memtable.New(h.arena)
	}
	active := h.active
	h.mu.Unlock()
	return active.Insert(ts, payload)
}

// Freeze swaps mem -> imem for this table: the active memtable becomes
// the frozen one and is marked read-only; Active is cleared so the
// next Insert lazily creates a fresh generation. It is a no-op if
// there is no active memtable or one is already frozen (the caller is
// expected to have already drained a prior frozen generation).
func (h *Handle) Freeze() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil || h.frozen != nil {
		return
	}
	h.active.Freeze()
	h.frozen = h.active
	h.active = nil
}

// FrozenMemtable returns the table's frozen generation, or nil if none.
func (h *Handle) FrozenMemtable() *memtable.Memtable {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frozen
}

// ClearFrozen releases the frozen generation once the commit pipeline
// has drained it.
func (h *Handle) ClearFrozen() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frozen = nil
}

// ErrOutOfBounds reports a tid outside [0, maxTables).
var ErrOutOfBounds = fmt.Errorf("meta: tid out of bounds")

// ErrTableExists is returned by Create when tid is already occupied.
var ErrTableExists = fmt.Errorf("meta: table already exists")

// ErrTableUnknown is returned when tid's slot is unoccupied.
var ErrTableUnknown = fmt.Errorf("meta: table unknown")

// ErrUIDMismatch is returned when tid is occupied by a different uid.
var ErrUIDMismatch = fmt.Errorf("meta: table uid mismatch")

// Registry is the tables[0..maxTables) sparse array.
type Registry struct {
	mu        sync.RWMutex
	tables    []*Handle
	maxTables int32
	arena     *arena.Arena
}

// New creates an empty registry sized for maxTables dense slots,
// allocating new tables' memtables out of a.
func New(maxTables int32, a *arena.Arena) *Registry {
	return &Registry{
		tables:    make([]*Handle, maxTables),
		maxTables: maxTables,
		arena:     a,
	}
}

// Create validates and installs a new table handle at tid.
func (r *Registry) Create(tid int32, uid uint64, typ TableType, sch schema.Schema, tags map[string]string) error {
	if tid < 0 || tid >= r.maxTables {
		return ErrOutOfBounds
	}
	if err := sch.Validate(); err != nil {
		return fmt.Errorf("meta: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tables[tid] != nil {
		return ErrTableExists
	}

	r.tables[tid] = &Handle{
		TID: tid, UID: uid, Type: typ, Schema: sch, Tags: tags,
		arena: r.arena,
	}
	return nil
}

// Drop frees the handle at tid and tombstones the slot.
func (r *Registry) Drop(tid int32) error {
	if tid < 0 || tid >= r.maxTables {
		return ErrOutOfBounds
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tables[tid] == nil {
		return ErrTableUnknown
	}
	r.tables[tid] = nil
	return nil
}

// Alter replaces the schema bound to an existing table. Column-set
// changes to historical blocks are out of scope; this only rebinds
// the schema whose version newly committed blocks are tagged with.
func (r *Registry) Alter(tid int32, sch schema.Schema) error {
	if err := sch.Validate(); err != nil {
		return fmt.Errorf("meta: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if tid < 0 || tid >= r.maxTables || r.tables[tid] == nil {
		return ErrTableUnknown
	}
	r.tables[tid].Schema = sch
	return nil
}

// ValidateForInsert returns the handle for (uid, tid) iff tid is in
// range, the slot is occupied, and uid matches — the exact contract
// the design specifies for C5's insert-path validation.
func (r *Registry) ValidateForInsert(tid int32, uid uint64) (*Handle, error) {
	if tid < 0 || tid >= r.maxTables {
		return nil, ErrOutOfBounds
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	h := r.tables[tid]
	if h == nil {
		return nil, ErrTableUnknown
	}
	if h.UID != uid {
		return nil, ErrUIDMismatch
	}
	return h, nil
}

// Get returns the handle at tid, if any, without uid validation.
func (r *Registry) Get(tid int32) (*Handle, bool) {
	if tid < 0 || tid >= r.maxTables {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := r.tables[tid]
	return h, h != nil
}

// Each calls fn for every occupied table slot, in tid order. fn must
// not call back into the registry.
func (r *Registry) Each(fn func(h *Handle)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.tables {
		if h != nil {
			fn(h)
		}
	}
}

// FreezeAll swaps mem->imem for every occupied table. Called by the
// repository under its own mutex as part of the commit trigger
// sequence, alongside the cache-wide arena freeze.
func (r *Registry) FreezeAll() {
	r.Each(func(h *Handle) { h.Freeze() })
}
