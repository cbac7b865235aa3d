package tsdb

import (
	"encoding/binary"
	"fmt"
)

// submitHeaderSize is the fixed {length, numOfBlocks, compressed}
// header preceding a submit message's blocks.
const submitHeaderSize = 4 + 4 + 4

// submitBlockHeaderSize is the fixed portion of one submit block,
// preceding its row payload: {len, numOfRows, uid, tid, sversion, padding}.
const submitBlockHeaderSize = 4 + 2 + 8 + 4 + 4 + 4

// submitBlock is one decoded table's worth of a submit message: the
// rows destined for (uid, tid), still in the row codec's own wire
// format (this package treats row/column encoding as a black box).
type submitBlock struct {
	UID      uint64
	TID      int32
	SVersion uint32
	NumRows  uint16
	Rows     []byte
}

// decodeSubmitMessage parses the big-endian submit message wire format
// from spec.md §6, mirroring tsdbGetSubmitMsgNext's walk over the
// buffer (including its header-field byte-order normalization) instead
// of assuming the caller already decoded it.
func decodeSubmitMessage(buf []byte) ([]submitBlock, error) {
	if len(buf) < submitHeaderSize {
		return nil, newError(CorruptOnDisk, fmt.Errorf("submit message shorter than header (%d bytes)", len(buf)))
	}

	length := binary.BigEndian.Uint32(buf[0:4])
	numOfBlocks := binary.BigEndian.Uint32(buf[4:8])
	_ = binary.BigEndian.Uint32(buf[8:12]) // compressed: black-box to the row codec, carried but not interpreted here

	if int(length) != len(buf) {
		return nil, newError(CorruptOnDisk, fmt.Errorf("submit message declares length %d, got %d bytes", length, len(buf)))
	}

	blocks := make([]submitBlock, 0, numOfBlocks)
	offset := submitHeaderSize
	for i := uint32(0); i < numOfBlocks; i++ {
		if offset+submitBlockHeaderSize > len(buf) {
			return nil, newError(CorruptOnDisk, fmt.Errorf("submit message truncated at block %d header", i))
		}
		h := buf[offset : offset+submitBlockHeaderSize]
		blkLen := binary.BigEndian.Uint32(h[0:4])
		numRows := binary.BigEndian.Uint16(h[4:6])
		uid := binary.BigEndian.Uint64(h[6:14])
		tid := int32(binary.BigEndian.Uint32(h[14:18]))
		sversion := binary.BigEndian.Uint32(h[18:22])
		// h[22:26] is reserved padding, carried on the wire but unused.

		dataStart := offset + submitBlockHeaderSize
		dataEnd := dataStart + int(blkLen)
		if dataEnd > len(buf) {
			return nil, newError(CorruptOnDisk, fmt.Errorf("submit message truncated at block %d payload", i))
		}

		blocks = append(blocks, submitBlock{
			UID: uid, TID: tid, SVersion: sversion, NumRows: numRows,
			Rows: buf[dataStart:dataEnd],
		})
		offset = dataEnd
	}

	return blocks, nil
}

// EncodeSubmitMessage is the write-side counterpart used by tests and
// in-process callers that want to exercise the real wire format rather
// than poke Repository.Insert with ad hoc byte slices.
func EncodeSubmitMessage(blocks []SubmitBlock) []byte {
	total := submitHeaderSize
	for _, b := range blocks {
		total += submitBlockHeaderSize + len(b.Rows)
	}

	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(blocks)))
	binary.BigEndian.PutUint32(buf[8:12], 0) // compressed=0

	offset := submitHeaderSize
	for _, b := range blocks {
		h := buf[offset : offset+submitBlockHeaderSize]
		binary.BigEndian.PutUint32(h[0:4], uint32(len(b.Rows)))
		binary.BigEndian.PutUint16(h[4:6], b.NumRows)
		binary.BigEndian.PutUint64(h[6:14], b.UID)
		binary.BigEndian.PutUint32(h[14:18], uint32(b.TID))
		binary.BigEndian.PutUint32(h[18:22], b.SVersion)
		offset += submitBlockHeaderSize
		copy(buf[offset:], b.Rows)
		offset += len(b.Rows)
	}
	return buf
}

// SubmitBlock is the exported, caller-facing counterpart of
// submitBlock, used to build a submit message via EncodeSubmitMessage.
type SubmitBlock struct {
	UID      uint64
	TID      int32
	SVersion uint32
	NumRows  uint16
	Rows     []byte
}
