package fileformat

// CompIdx is SCompIdx[tid]: the dense, fixed-offset directory entry
// every table owns within a file group's .head file. Offset==0 means
// the table has no data in this partition.
type CompIdx struct {
	Offset           int64
	Len              int64
	HasLast          bool
	MaxKey           int64
	NumOfSuperBlocks int32
	Checksum         uint32
}

// IsEmpty reports whether this table has no data in the partition.
func (c CompIdx) IsEmpty() bool { return c.Offset == 0 }

// CompBlock is SCompBlock: one super-block entry inside a table's
// SCompInfo region.
type CompBlock struct {
	Offset         int64
	Len            int32
	KeyFirst       int64
	KeyLast        int64
	NumOfPoints    int32
	NumOfCols      int32
	NumOfSubBlocks int32
	Last           bool
	Algorithm      uint8
	SVersion       uint32
}

// CompInfo is SCompInfo: the per-table block index region referenced
// by a CompIdx entry.
type CompInfo struct {
	UID    uint64
	Blocks []CompBlock
}

// MaxKey returns the keyLast of the last (by keyFirst order) block, or
// 0 if there are no blocks.
func (ci CompInfo) MaxKey() int64 {
	if len(ci.Blocks) == 0 {
		return 0
	}
	return ci.Blocks[len(ci.Blocks)-1].KeyLast
}

// HasLast reports whether this table currently has a tail block.
func (ci CompInfo) HasLast() bool {
	for _, b := range ci.Blocks {
		if b.Last {
			return true
		}
	}
	return false
}

// CompCol is SCompCol: one column's placement within a written block.
type CompCol struct {
	ColID  int32
	Type   uint8
	Offset int32 // relative to the block's start
	Len    int32
}

// CompDataHeader is the SCompData framing prepended to every written
// block: a delimiter, the owning table's uid, and its column
// descriptors.
type CompDataHeader struct {
	UID  uint64
	Cols []CompCol
}
