package commit

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tsdbcore/engine/internal/fileformat"
	"github.com/tsdbcore/engine/internal/memtable"
	"github.com/tsdbcore/engine/internal/partition"
	"github.com/tsdbcore/engine/pkg/fs"
)

// processPartition rewrites fid's file group to durably incorporate
// every cursor's rows falling in fid's key window, per Phase 2 of the
// design. It returns the number of rows newly written.
func (p *Pipeline) processPartition(fid int64, cursors map[int32]*tableCursor) (rowsWritten int64, err error) {
	minKey, maxKey := partition.KeyRange(fid, p.Config.DaysPerFile, p.Config.Precision)

	anyInWindow := false
	for _, tc := range cursors {
		if tc.hasMoreInWindow(minKey, maxKey) {
			anyInWindow = true
			break
		}
	}
	if !anyInWindow {
		return 0, nil
	}

	if err := p.Directory.Create(fid); err != nil {
		return 0, fmt.Errorf("creating file group: %w", err)
	}

	oldFG, err := p.Directory.Open(fid, false)
	if err != nil {
		return 0, fmt.Errorf("opening old file group: %w", err)
	}
	defer oldFG.Close()

	oldIdx, err := oldFG.LoadIdx()
	if err != nil {
		return 0, fmt.Errorf("loading old SCompIdx: %w", err)
	}

	lastSize, err := lastFileSize(p.DataDir, fid)
	if err != nil {
		return 0, err
	}
	rewriteLast := lastSize > fileformat.MaxLastFileSize

	staged, err := fileformat.Stage(p.DataDir, fid, p.Config.MaxTables, rewriteLast)
	if err != nil {
		return 0, fmt.Errorf("staging new file group: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			staged.Abort()
		}
	}()

	batchLimit := int(p.Config.MaxRowsPerFileBlock) * 4 / 5
	if batchLimit <= 0 {
		batchLimit = int(p.Config.MaxRowsPerFileBlock)
	}

	for tid := int32(0); tid < p.Config.MaxTables; tid++ {
		oldEntry := oldIdx[tid]
		tc := cursors[tid]

		var freshRows []memtable.Row
		if tc != nil {
			for {
				batch := tc.takeWindow(minKey, maxKey, batchLimit)
				if len(batch) == 0 {
					break
				}
				freshRows = append(freshRows, batch...)
			}
		}

		n, err := p.commitTable(staged, oldFG, oldEntry, tc, freshRows, rewriteLast, tid)
		if err != nil {
			return 0, fmt.Errorf("table %d: %w", tid, err)
		}
		rowsWritten += n
	}

	if err := staged.Publish(fs.SyncDir, p.DataDir); err != nil {
		return 0, fmt.Errorf("publishing file group: %w", err)
	}
	committed = true

	p.logger.Debug("commit: partition rewritten", zap.Int64("fid", fid), zap.Int64("rows", rowsWritten))
	return rowsWritten, nil
}

// commitTable applies Phase 2e's per-table decision tree for one tid
// within the partition currently being rewritten, emitting an updated
// SCompIdx[tid] into staged.
func (p *Pipeline) commitTable(
	staged, oldFG *fileformat.FileGroup,
	oldEntry fileformat.CompIdx,
	tc *tableCursor,
	freshRows []memtable.Row,
	rewriteLast bool,
	tid int32,
) (int64, error) {
	if len(freshRows) == 0 {
		return 0, p.carryForward(staged, oldFG, oldEntry, rewriteLast, tid)
	}

	var uid uint64
	var sversion uint32
	if tc != nil {
		uid = tc.handle.UID
		sversion = tc.handle.Schema.Version
	}

	oldInfo := fileformat.CompInfo{}
	var err error
	if !oldEntry.IsEmpty() {
		oldInfo, err = oldFG.LoadInfo(oldEntry)
		if err != nil {
			return 0, err
		}
		uid = oldInfo.UID
	}

	// lo..hi is the contiguous span of existing super-blocks that must
	// be rewritten alongside the fresh rows. Blocks are stored sorted by
	// KeyFirst and disjoint (bar the tail), so any block whose range
	// intersects [freshMin, freshMax] lands in this span — not just the
	// table's last block, which only covers the common case of rows
	// arriving in roughly increasing order.
	lo, hi := touchedRange(oldInfo.Blocks, minTimestamp(freshRows), maxTimestamp(freshRows))
	switch {
	case lo <= hi:
		// already touches one or more existing blocks.
	case lo < len(oldInfo.Blocks):
		// fresh rows land in a gap before or between blocks: fold them
		// into the next block rather than splice in a standalone chunk
		// that would sit below minRowsPerFileBlock with blocks after it.
		hi = lo
	case oldEntry.HasLast && len(oldInfo.Blocks) > 0:
		// fresh rows land past every existing block, but this table
		// already has an open tail — extend it instead of minting a
		// second tail block.
		lo, hi = len(oldInfo.Blocks)-1, len(oldInfo.Blocks)-1
	}

	var preserved []fileformat.CompBlock
	var mergeSource []fileformat.Record
	insertAt := lo

	if lo <= hi {
		preserved = append(append([]fileformat.CompBlock{}, oldInfo.Blocks[:lo]...), oldInfo.Blocks[hi+1:]...)
		for _, b := range oldInfo.Blocks[lo : hi+1] {
			recs, err := oldFG.LoadBlockCols(b)
			if err != nil {
				return 0, err
			}
			mergeSource = append(mergeSource, recs...)
		}
	} else {
		preserved = oldInfo.Blocks
	}

	combined := mergeRows(mergeSource, freshRows)
	fullChunks, tail := chunkForWrite(combined, p.Config.MinRowsPerFileBlock, p.Config.MaxRowsPerFileBlock)

	newBlocks := append([]fileformat.CompBlock{}, preserved[:insertAt]...)
	for _, chunk := range fullChunks {
		b, err := staged.WriteBlock(uid, sversion, chunk, false)
		if err != nil {
			return 0, err
		}
		newBlocks = append(newBlocks, b)
	}
	if len(tail) > 0 {
		b, err := staged.WriteBlock(uid, sversion, tail, true)
		if err != nil {
			return 0, err
		}
		newBlocks = append(newBlocks, b)
	}
	newBlocks = append(newBlocks, preserved[insertAt:]...)

	return int64(len(combined)), p.emitIdx(staged, tid, uid, newBlocks)
}

// touchedRange returns the inclusive index range [lo, hi] of blocks
// (sorted by KeyFirst, disjoint) whose key range intersects
// [freshMin, freshMax]. A result with lo == hi+1 means no block
// overlaps; lo is then the index the fresh range would be spliced in
// at to keep the block list sorted.
func touchedRange(blocks []fileformat.CompBlock, freshMin, freshMax int64) (lo, hi int) {
	lo = len(blocks)
	for i, b := range blocks {
		if b.KeyLast >= freshMin {
			lo = i
			break
		}
	}
	hi = -1
	for i := len(blocks) - 1; i >= 0; i-- {
		if blocks[i].KeyFirst <= freshMax {
			hi = i
			break
		}
	}
	return lo, hi
}

func minTimestamp(rows []memtable.Row) int64 {
	min := rows[0].Timestamp
	for _, r := range rows[1:] {
		if r.Timestamp < min {
			min = r.Timestamp
		}
	}
	return min
}

func maxTimestamp(rows []memtable.Row) int64 {
	max := rows[0].Timestamp
	for _, r := range rows[1:] {
		if r.Timestamp > max {
			max = r.Timestamp
		}
	}
	return max
}

// carryForward handles a table with no new rows in this partition but
// with prior on-disk data: either a bytewise copy of its info region
// (when .last isn't being rewritten) or a coalesced tail rewrite.
func (p *Pipeline) carryForward(staged, oldFG *fileformat.FileGroup, oldEntry fileformat.CompIdx, rewriteLast bool, tid int32) error {
	if oldEntry.IsEmpty() {
		return nil
	}

	if !rewriteLast {
		off, length, checksum, err := fileformat.CopyInfoRegion(staged, oldFG, oldEntry)
		if err != nil {
			return err
		}
		return staged.WriteIdxEntry(tid, fileformat.CompIdx{
			Offset: off, Len: length, Checksum: checksum,
			HasLast: oldEntry.HasLast, MaxKey: oldEntry.MaxKey,
			NumOfSuperBlocks: oldEntry.NumOfSuperBlocks,
		})
	}

	oldInfo, err := oldFG.LoadInfo(oldEntry)
	if err != nil {
		return err
	}

	var preserved []fileformat.CompBlock
	var tailBlocks []fileformat.CompBlock
	for _, b := range oldInfo.Blocks {
		if b.Last {
			tailBlocks = append(tailBlocks, b)
		} else {
			preserved = append(preserved, b)
		}
	}

	newBlocks := preserved
	if len(tailBlocks) > 0 {
		coalesced, err := fileformat.CopyBlockData(staged, oldFG, tailBlocks, oldInfo.UID, tailBlocks[0].SVersion, true)
		if err != nil {
			return err
		}
		newBlocks = append(newBlocks, coalesced)
	}

	return p.emitIdx(staged, tid, oldInfo.UID, newBlocks)
}

func (p *Pipeline) emitIdx(staged *fileformat.FileGroup, tid int32, uid uint64, blocks []fileformat.CompBlock) error {
	info := fileformat.CompInfo{UID: uid, Blocks: blocks}
	off, length, checksum, err := staged.AppendInfo(info)
	if err != nil {
		return err
	}
	return staged.WriteIdxEntry(tid, fileformat.CompIdx{
		Offset: off, Len: length, Checksum: checksum,
		HasLast:          info.HasLast(),
		MaxKey:           info.MaxKey(),
		NumOfSuperBlocks: int32(len(blocks)),
	})
}
