package fileformat

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// MarshalCompIdx encodes c into a compIdxEntrySize-byte buffer.
func MarshalCompIdx(c CompIdx) []byte {
	buf := make([]byte, compIdxEntrySize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(c.Offset))
	binary.BigEndian.PutUint64(buf[8:16], uint64(c.Len))
	buf[16] = boolByte(c.HasLast)
	binary.BigEndian.PutUint64(buf[17:25], uint64(c.MaxKey))
	binary.BigEndian.PutUint32(buf[25:29], uint32(c.NumOfSuperBlocks))
	binary.BigEndian.PutUint32(buf[29:33], c.Checksum)
	return buf
}

// UnmarshalCompIdx decodes a compIdxEntrySize-byte buffer.
func UnmarshalCompIdx(buf []byte) (CompIdx, error) {
	if len(buf) < compIdxEntrySize {
		return CompIdx{}, fmt.Errorf("fileformat: short CompIdx buffer: %d bytes", len(buf))
	}
	return CompIdx{
		Offset:           int64(binary.BigEndian.Uint64(buf[0:8])),
		Len:              int64(binary.BigEndian.Uint64(buf[8:16])),
		HasLast:          buf[16] != 0,
		MaxKey:           int64(binary.BigEndian.Uint64(buf[17:25])),
		NumOfSuperBlocks: int32(binary.BigEndian.Uint32(buf[25:29])),
		Checksum:         binary.BigEndian.Uint32(buf[29:33]),
	}, nil
}

func marshalCompBlock(b CompBlock) []byte {
	buf := make([]byte, compBlockEntrySize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(b.Offset))
	binary.BigEndian.PutUint32(buf[8:12], uint32(b.Len))
	binary.BigEndian.PutUint64(buf[12:20], uint64(b.KeyFirst))
	binary.BigEndian.PutUint64(buf[20:28], uint64(b.KeyLast))
	binary.BigEndian.PutUint32(buf[28:32], uint32(b.NumOfPoints))
	binary.BigEndian.PutUint32(buf[32:36], uint32(b.NumOfCols))
	binary.BigEndian.PutUint32(buf[36:40], uint32(b.NumOfSubBlocks))
	buf[40] = boolByte(b.Last)
	buf[41] = b.Algorithm
	binary.BigEndian.PutUint32(buf[42:46], b.SVersion)
	return buf
}

func unmarshalCompBlock(buf []byte) (CompBlock, error) {
	if len(buf) < compBlockEntrySize {
		return CompBlock{}, fmt.Errorf("fileformat: short CompBlock buffer: %d bytes", len(buf))
	}
	return CompBlock{
		Offset:         int64(binary.BigEndian.Uint64(buf[0:8])),
		Len:            int32(binary.BigEndian.Uint32(buf[8:12])),
		KeyFirst:       int64(binary.BigEndian.Uint64(buf[12:20])),
		KeyLast:        int64(binary.BigEndian.Uint64(buf[20:28])),
		NumOfPoints:    int32(binary.BigEndian.Uint32(buf[28:32])),
		NumOfCols:      int32(binary.BigEndian.Uint32(buf[32:36])),
		NumOfSubBlocks: int32(binary.BigEndian.Uint32(buf[36:40])),
		Last:           buf[40] != 0,
		Algorithm:      buf[41],
		SVersion:       binary.BigEndian.Uint32(buf[42:46]),
	}, nil
}

// MarshalCompInfo encodes ci as { delimiter, uid, numOfBlocks, blocks... }.
func MarshalCompInfo(ci CompInfo) []byte {
	buf := make([]byte, 0, 4+8+4+len(ci.Blocks)*compBlockEntrySize)
	head := make([]byte, 16)
	binary.BigEndian.PutUint32(head[0:4], InfoDelimiter)
	binary.BigEndian.PutUint64(head[4:12], ci.UID)
	binary.BigEndian.PutUint32(head[12:16], uint32(len(ci.Blocks)))
	buf = append(buf, head...)
	for _, b := range ci.Blocks {
		buf = append(buf, marshalCompBlock(b)...)
	}
	return buf
}

// ErrCorrupt is returned when a decoded region's delimiter does not
// match, when a file header's magic or CRC is wrong, or when an info
// region's checksum does not match its SCompIdx entry, signalling
// on-disk corruption per the CORRUPT_ON_DISK error kind.
var ErrCorrupt = fmt.Errorf("fileformat: corrupt on-disk region")

// UnmarshalCompInfo decodes a CompInfo previously written by
// MarshalCompInfo.
func UnmarshalCompInfo(buf []byte) (CompInfo, error) {
	if len(buf) < 16 {
		return CompInfo{}, fmt.Errorf("fileformat: short CompInfo buffer: %d bytes", len(buf))
	}
	delim := binary.BigEndian.Uint32(buf[0:4])
	if delim != InfoDelimiter {
		return CompInfo{}, ErrCorrupt
	}
	uid := binary.BigEndian.Uint64(buf[4:12])
	n := binary.BigEndian.Uint32(buf[12:16])
	off := 16
	blocks := make([]CompBlock, 0, n)
	for i := uint32(0); i < n; i++ {
		if off+compBlockEntrySize > len(buf) {
			return CompInfo{}, fmt.Errorf("fileformat: truncated CompInfo block region")
		}
		b, err := unmarshalCompBlock(buf[off : off+compBlockEntrySize])
		if err != nil {
			return CompInfo{}, err
		}
		blocks = append(blocks, b)
		off += compBlockEntrySize
	}
	return CompInfo{UID: uid, Blocks: blocks}, nil
}

func marshalCompCol(c CompCol) []byte {
	buf := make([]byte, compColEntrySize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(c.ColID))
	buf[4] = c.Type
	binary.BigEndian.PutUint32(buf[8:12], uint32(c.Offset))
	binary.BigEndian.PutUint32(buf[12:16], uint32(c.Len))
	return buf
}

func unmarshalCompCol(buf []byte) (CompCol, error) {
	if len(buf) < compColEntrySize {
		return CompCol{}, fmt.Errorf("fileformat: short CompCol buffer: %d bytes", len(buf))
	}
	return CompCol{
		ColID:  int32(binary.BigEndian.Uint32(buf[0:4])),
		Type:   buf[4],
		Offset: int32(binary.BigEndian.Uint32(buf[8:12])),
		Len:    int32(binary.BigEndian.Uint32(buf[12:16])),
	}, nil
}

// MarshalCompDataHeader encodes the SCompData framing prepended to a
// written block's payload.
func MarshalCompDataHeader(h CompDataHeader) []byte {
	buf := make([]byte, 0, 16+len(h.Cols)*compColEntrySize)
	head := make([]byte, 16)
	binary.BigEndian.PutUint32(head[0:4], InfoDelimiter)
	binary.BigEndian.PutUint64(head[4:12], h.UID)
	binary.BigEndian.PutUint32(head[12:16], uint32(len(h.Cols)))
	buf = append(buf, head...)
	for _, c := range h.Cols {
		buf = append(buf, marshalCompCol(c)...)
	}
	return buf
}

// CompDataHeaderSize returns the serialized size of a header with n columns.
func CompDataHeaderSize(n int) int { return 16 + n*compColEntrySize }

// UnmarshalCompDataHeader decodes a CompDataHeader.
func UnmarshalCompDataHeader(buf []byte) (CompDataHeader, error) {
	if len(buf) < 16 {
		return CompDataHeader{}, fmt.Errorf("fileformat: short CompData header: %d bytes", len(buf))
	}
	delim := binary.BigEndian.Uint32(buf[0:4])
	if delim != InfoDelimiter {
		return CompDataHeader{}, ErrCorrupt
	}
	uid := binary.BigEndian.Uint64(buf[4:12])
	n := binary.BigEndian.Uint32(buf[12:16])
	off := 16
	cols := make([]CompCol, 0, n)
	for i := uint32(0); i < n; i++ {
		if off+compColEntrySize > len(buf) {
			return CompDataHeader{}, fmt.Errorf("fileformat: truncated CompData column region")
		}
		c, err := unmarshalCompCol(buf[off : off+compColEntrySize])
		if err != nil {
			return CompDataHeader{}, err
		}
		cols = append(cols, c)
		off += compColEntrySize
	}
	return CompDataHeader{UID: uid, Cols: cols}, nil
}

// Checksum computes the CRC32 (IEEE polynomial) over an info region,
// the algorithm this implementation picks for SCompIdx.Checksum (the
// source format left the algorithm unspecified; IEEE CRC32 matches
// every other on-disk checksum in the corpus, see DESIGN.md).
func Checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
