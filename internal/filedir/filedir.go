// Package filedir implements the file directory (C4): the sorted
// registry of on-disk file groups keyed by partition id, with
// idempotent create, bounds-checked find, and removal.
package filedir

import (
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/tsdbcore/engine/internal/fileformat"
)

type fidItem struct{ fid int64 }

func fidLess(a, b fidItem) bool { return a.fid < b.fid }

// Directory is the sorted fileId -> file-group registry. It tracks
// existence and bounds; opening a group's file descriptors is done on
// demand via Open, matching the commit pipeline's pattern of holding
// descriptors only while actively rewriting a partition.
type Directory struct {
	mu         sync.RWMutex
	dataDir    string
	maxTables  int32
	maxFGroups int

	tree   *btree.BTreeG[fidItem]
	minFid int64
	maxFid int64
	hasAny bool
}

// ErrDirectoryFull is returned by Create once maxFGroups partitions
// already exist.
var ErrDirectoryFull = fmt.Errorf("filedir: directory full")

// New creates an empty directory rooted at dataDir.
func New(dataDir string, maxTables int32, maxFGroups int) *Directory {
	return &Directory{
		dataDir:    dataDir,
		maxTables:  maxTables,
		maxFGroups: maxFGroups,
		tree:       btree.NewG(32, fidLess),
	}
}

// Discover populates the directory from file groups already present on
// disk (used by Repository.Open to rebuild registry state after a
// restart). fids must be the partition ids found on disk; Discover
// does not itself scan the filesystem, keeping this package free of
// any assumption about how the caller enumerates files.
func (d *Directory) Discover(fids []int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, fid := range fids {
		d.insertLocked(fid)
	}
}

func (d *Directory) insertLocked(fid int64) {
	d.tree.ReplaceOrInsert(fidItem{fid})
	if !d.hasAny || fid < d.minFid {
		d.minFid = fid
	}
	if !d.hasAny || fid > d.maxFid {
		d.maxFid = fid
	}
	d.hasAny = true
}

// Create ensures a file group exists for fid, creating it on disk if
// absent. Idempotent: creating an already-present fid is a no-op that
// returns success.
func (d *Directory) Create(fid int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tree.Has(fidItem{fid}) {
		return nil
	}
	if d.maxFGroups > 0 && d.tree.Len() >= d.maxFGroups {
		return ErrDirectoryFull
	}

	fg, err := fileformat.Create(d.dataDir, fid, d.maxTables)
	if err != nil {
		return fmt.Errorf("filedir: creating file group %d: %w", fid, err)
	}
	if err := fg.Close(); err != nil {
		return err
	}

	d.insertLocked(fid)
	return nil
}

// Find reports whether a file group exists for fid, short-circuiting
// on the tracked min/max bounds before the tree lookup — the same
// optimization tsdbSearchFGroup uses before its binary search.
func (d *Directory) Find(fid int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.hasAny || fid < d.minFid || fid > d.maxFid {
		return false
	}
	return d.tree.Has(fidItem{fid})
}

// Open opens the file group for fid for reading, or read-write.
func (d *Directory) Open(fid int64, writable bool) (*fileformat.FileGroup, error) {
	if !d.Find(fid) {
		return nil, fmt.Errorf("filedir: no file group for fid %d", fid)
	}
	return fileformat.Open(d.dataDir, fid, d.maxTables, writable)
}

// Remove deletes the file group for fid from disk and the registry.
// It is a no-op if fid is not present.
func (d *Directory) Remove(fid int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.tree.Has(fidItem{fid}) {
		return nil
	}
	if err := fileformat.Remove(d.dataDir, fid); err != nil {
		return fmt.Errorf("filedir: removing file group %d: %w", fid, err)
	}
	d.tree.Delete(fidItem{fid})
	d.recomputeBoundsLocked()
	return nil
}

// RemoveBefore removes every file group whose fid is strictly less
// than cutoff, returning the list of removed fids. This is the
// primitive a retention sweep would call (see SPEC_FULL.md); this
// package does not schedule or trigger the sweep itself.
func (d *Directory) RemoveBefore(cutoff int64) ([]int64, error) {
	d.mu.Lock()
	var toRemove []int64
	d.tree.Ascend(func(item fidItem) bool {
		if item.fid >= cutoff {
			return false
		}
		toRemove = append(toRemove, item.fid)
		return true
	})
	d.mu.Unlock()

	var removed []int64
	for _, fid := range toRemove {
		if err := d.Remove(fid); err != nil {
			return removed, err
		}
		removed = append(removed, fid)
	}
	return removed, nil
}

func (d *Directory) recomputeBoundsLocked() {
	d.hasAny = false
	d.tree.Ascend(func(item fidItem) bool {
		if !d.hasAny {
			d.minFid = item.fid
			d.hasAny = true
		}
		d.maxFid = item.fid
		return true
	})
}

// List returns every known fid in ascending order.
func (d *Directory) List() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]int64, 0, d.tree.Len())
	d.tree.Ascend(func(item fidItem) bool {
		out = append(out, item.fid)
		return true
	})
	return out
}

// Len returns the number of tracked file groups.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tree.Len()
}
