package commit

import (
	"github.com/tsdbcore/engine/internal/meta"
	"github.com/tsdbcore/engine/internal/memtable"
)

// tableCursor is a peekable view over one table's frozen memtable: it
// lets the partition loop check "does this table have a row in the
// current window" without consuming the row, and only advances past a
// row once it has actually been buffered into a block.
type tableCursor struct {
	handle  *meta.Handle
	cursor  *memtable.Cursor
	pending memtable.Row
	valid   bool
	done    bool
}

func newTableCursor(h *meta.Handle) *tableCursor {
	frozen := h.FrozenMemtable()
	if frozen == nil || frozen.IsEmpty() {
		return &tableCursor{handle: h, done: true}
	}
	return &tableCursor{handle: h, cursor: frozen.NewCursor()}
}

func (tc *tableCursor) close() {
	if tc.cursor != nil {
		tc.cursor.Close()
	}
}

// ensure fetches the next row into pending if one isn't already
// buffered there.
func (tc *tableCursor) ensure() bool {
	if tc.done {
		return false
	}
	if tc.valid {
		return true
	}
	if !tc.cursor.Next() {
		tc.done = true
		return false
	}
	tc.pending = tc.cursor.Row()
	tc.valid = true
	return true
}

// peek returns the next unconsumed row without advancing.
func (tc *tableCursor) peek() (memtable.Row, bool) {
	if !tc.ensure() {
		return memtable.Row{}, false
	}
	return tc.pending, true
}

// consume marks the currently peeked row as used.
func (tc *tableCursor) consume() {
	tc.valid = false
}

// takeWindow drains up to limit rows with Timestamp in [minKey, maxKey]
// from the cursor, in order.
func (tc *tableCursor) takeWindow(minKey, maxKey int64, limit int) []memtable.Row {
	var out []memtable.Row
	for len(out) < limit {
		row, ok := tc.peek()
		if !ok || row.Timestamp < minKey || row.Timestamp > maxKey {
			break
		}
		out = append(out, row)
		tc.consume()
	}
	return out
}

// hasMoreInWindow reports whether the next unconsumed row (if any)
// falls within [minKey, maxKey].
func (tc *tableCursor) hasMoreInWindow(minKey, maxKey int64) bool {
	row, ok := tc.peek()
	return ok && row.Timestamp >= minKey && row.Timestamp <= maxKey
}
