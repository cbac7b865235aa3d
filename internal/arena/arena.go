// Package arena implements the memory cache (C1) shared by every
// table's memtable, backing their row payloads: a byte-slab allocator
// with an active
// generation that accepts writes and a frozen generation that is being
// drained by the commit pipeline.
package arena

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrCacheFull is returned by Allocate when granting the request would
// exceed the arena's configured maximum size.
var ErrCacheFull = errors.New("arena: cache full")

// generation is one block-list allocation arena. It never shrinks; it
// is either the live target of Allocate calls or a frozen snapshot
// waiting to be drained and reclaimed.
type generation struct {
	blocks [][]byte
	size   int64
}

func newGeneration() *generation {
	return &generation{}
}

func (g *generation) allocate(n int) []byte {
	b := make([]byte, n)
	g.blocks = append(g.blocks, b)
	g.size += int64(n)
	return b
}

// Arena is the cache described by spec.md C1: callers Allocate() row
// payload storage out of the active generation; Freeze() swaps the active
// generation into the frozen slot (there is at most one frozen
// generation at a time, mirroring the single imem slot in the original
// design); Reclaim() releases the frozen generation once the commit
// pipeline has drained it.
type Arena struct {
	mu      sync.RWMutex
	active  *generation
	frozen  *generation
	maxSize int64

	bytesInUse int64 // atomic, active+frozen, for the metrics gauge
}

// New creates an Arena that refuses allocations once the active
// generation's size would exceed maxSize bytes.
func New(maxSize int64) *Arena {
	return &Arena{
		active:  newGeneration(),
		maxSize: maxSize,
	}
}

// Allocate carves n bytes out of the active generation. It fails with
// ErrCacheFull if doing so would exceed maxSize; callers are expected
// to trigger a freeze-and-commit cycle and retry.
func (a *Arena) Allocate(n int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active.size+int64(n) > a.maxSize {
		return nil, ErrCacheFull
	}
	b := a.active.allocate(n)
	atomic.AddInt64(&a.bytesInUse, int64(n))
	return b, nil
}

// Size returns the number of bytes allocated from the active generation.
func (a *Arena) Size() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active.size
}

// Freeze moves the active generation into the frozen slot and installs
// a fresh, empty active generation. It returns false if a generation is
// already frozen and awaiting reclaim — the caller must finish
// committing it first, matching the single in-flight imem of the
// original design.
func (a *Arena) Freeze() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.frozen != nil {
		return false
	}
	a.frozen = a.active
	a.active = newGeneration()
	return true
}

// Frozen reports whether a generation is currently frozen.
func (a *Arena) Frozen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frozen != nil
}

// Reclaim releases the frozen generation's storage back to the
// allocator (in Go terms: drops the last reference so the GC can
// collect it). It is a no-op if nothing is frozen.
func (a *Arena) Reclaim() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.frozen == nil {
		return
	}
	atomic.AddInt64(&a.bytesInUse, -a.frozen.size)
	a.frozen = nil
}

// PrometheusCollectors exposes the arena's bytes-in-use gauge, following
// the teacher's convention of letting every long-lived component report
// its own collectors for the caller to register.
func (a *Arena) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tsdbcore",
			Subsystem: "arena",
			Name:      "bytes_in_use",
			Help:      "Bytes currently held by the cache arena (active + frozen generations).",
		}, func() float64 {
			return float64(atomic.LoadInt64(&a.bytesInUse))
		}),
	}
}
