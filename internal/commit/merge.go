package commit

import (
	"sort"

	"github.com/tsdbcore/engine/internal/fileformat"
	"github.com/tsdbcore/engine/internal/memtable"
)

// mergeRows combines old on-disk records with new in-memory rows,
// sorted by timestamp, with the new (cursor-sourced) row winning any
// timestamp tie per the design's stated tie-break rule.
func mergeRows(old []fileformat.Record, fresh []memtable.Row) []fileformat.Record {
	byTS := make(map[int64]fileformat.Record, len(old)+len(fresh))
	for _, r := range old {
		byTS[r.Timestamp] = r
	}
	for _, r := range fresh {
		byTS[r.Timestamp] = fileformat.Record{Timestamp: r.Timestamp, Payload: r.Payload}
	}

	out := make([]fileformat.Record, 0, len(byTS))
	for _, r := range byTS {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// chunkForWrite splits merged rows into (full-block, tail-residue)
// groups honoring minRowsPerFileBlock/maxRowsPerFileBlock: every full
// chunk written to .data has between minRowsPerFileBlock and
// maxRowsPerFileBlock rows; any remainder under minRowsPerFileBlock
// becomes the new tail block.
func chunkForWrite(rows []fileformat.Record, minRows, maxRows int32) (fullBlocks [][]fileformat.Record, tail []fileformat.Record) {
	n := len(rows)
	i := 0
	for n-i >= int(minRows) {
		end := i + int(maxRows)
		remaining := n - i
		if end > n {
			end = n
		}
		// Don't strand a final sliver below minRows: if what would be
		// left after this chunk is non-zero but under minRows, shrink
		// this chunk so exactly minRows rows remain, which the next
		// iteration writes as one more full chunk. If shrinking would
		// leave this chunk itself under minRows, keep it at maxRows and
		// let the sliver become the tail.
		if remaining > int(maxRows) && remaining-int(maxRows) < int(minRows) {
			end = n - int(minRows)
			if end-i < int(minRows) {
				end = i + int(maxRows)
			}
		}
		fullBlocks = append(fullBlocks, rows[i:end])
		i = end
	}
	if i < n {
		tail = rows[i:]
	}
	return fullBlocks, tail
}
