// Package fileformat implements the on-disk file group (C3): the
// head/data/last file triad for one time partition, its binary
// structures (SCompIdx/SCompInfo/SCompBlock/SCompData/SCompCol), and
// the block write/merge primitives the commit pipeline drives.
package fileformat

// FileHeadSize is the fixed-size header every file begins with,
// reserved for a format version and a CRC over that version. The
// exact header contents are this implementation's own choice (the
// spec only fixes the size), following the teacher's versioned-header
// convention in tsdb/engine/tsm1/tombstone.go.
const FileHeadSize = 32

// fileHeadMagic identifies a file written by this format. Bumped only
// on an incompatible layout change.
const fileHeadMagic uint32 = 0x54534442 // "TSDB"

const fileHeadVersion uint32 = 1

// InfoDelimiter is the guard value prefixing every SCompInfo and
// SCompData region, used to detect a misaligned read ("corrupt on
// disk" per the error taxonomy).
const InfoDelimiter uint32 = 0xF00AFA0F

// MaxLastFileSize bounds how large `.last` may grow before a commit
// rewrites it from scratch instead of appending. The source spec
// leaves the exact threshold to the implementation; 8 MiB keeps tail
// files small relative to the default 16 MiB cache.
const MaxLastFileSize int64 = 8 << 20

// compIdxEntrySize is the fixed, serialized size of one SCompIdx
// record: offset(8) + len(8) + hasLast(1) + maxKey(8) +
// numOfSuperBlocks(4) + checksum(4), padded to a round 8-byte multiple.
const compIdxEntrySize = 40

// compBlockEntrySize is the fixed serialized size of one SCompBlock:
// offset(8) + len(4) + keyFirst(8) + keyLast(8) + numOfPoints(4) +
// numOfCols(4) + numOfSubBlocks(4) + last(1) + algorithm(1) +
// sversion(4), padded to 48.
const compBlockEntrySize = 48

// compColEntrySize is the fixed serialized size of one SCompCol:
// colId(4) + type(1) + offset(4) + len(4), padded to 16.
const compColEntrySize = 16

// Suffixes used by FileNames.
const (
	headSuffix = ".head"
	dataSuffix = ".data"
	lastSuffix = ".last"
)
