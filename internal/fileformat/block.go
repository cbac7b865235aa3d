package fileformat

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Record is one row as the file format sees it: a timestamp and an
// opaque, already-encoded payload. The row/column codec that produces
// Payload is a collaborator this package never inspects.
type Record struct {
	Timestamp int64
	Payload   []byte
}

const (
	algoNone   uint8 = 0
	algoSnappy uint8 = 1
)

// packRecords frames records as a single self-describing byte stream:
// each entry is { len u32, timestamp i64, payload }.
func packRecords(records []Record) []byte {
	size := 0
	for _, r := range records {
		size += 4 + 8 + len(r.Payload)
	}
	buf := make([]byte, size)
	off := 0
	for _, r := range records {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(r.Payload)))
		off += 4
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(r.Timestamp))
		off += 8
		copy(buf[off:], r.Payload)
		off += len(r.Payload)
	}
	return buf
}

func unpackRecords(buf []byte) ([]Record, error) {
	var records []Record
	off := 0
	for off < len(buf) {
		if off+12 > len(buf) {
			return nil, fmt.Errorf("fileformat: truncated record stream")
		}
		l := int(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		ts := int64(binary.BigEndian.Uint64(buf[off : off+8]))
		off += 8
		if off+l > len(buf) {
			return nil, fmt.Errorf("fileformat: truncated record payload")
		}
		payload := make([]byte, l)
		copy(payload, buf[off:off+l])
		off += l
		records = append(records, Record{Timestamp: ts, Payload: payload})
	}
	return records, nil
}

// WriteBlock writes records as one block (SCompData header + packed
// record stream), choosing .data or .last per the `last` flag, and
// returns the SCompBlock descriptor the caller stores in the table's
// SCompInfo. Column metadata is a single opaque blob column (colId 0)
// since the actual row/column codec is an external collaborator this
// package treats as a black box.
func (fg *FileGroup) WriteBlock(uid uint64, sversion uint32, records []Record, last bool) (CompBlock, error) {
	if len(records) == 0 {
		return CompBlock{}, fmt.Errorf("fileformat: cannot write an empty block")
	}

	raw := packRecords(records)
	payload := snappy.Encode(nil, raw)
	algorithm := algoSnappy

	header := MarshalCompDataHeader(CompDataHeader{
		UID: uid,
		Cols: []CompCol{
			{ColID: 0, Type: 0, Offset: int32(CompDataHeaderSize(1)), Len: int32(len(payload))},
		},
	})

	full := append(header, payload...)

	target := fg.data
	if last {
		target = fg.last
	}

	off, err := target.Seek(0, io.SeekEnd)
	if err != nil {
		return CompBlock{}, err
	}
	if _, err := target.Write(full); err != nil {
		return CompBlock{}, err
	}

	keyFirst, keyLast := records[0].Timestamp, records[0].Timestamp
	for _, r := range records {
		if r.Timestamp < keyFirst {
			keyFirst = r.Timestamp
		}
		if r.Timestamp > keyLast {
			keyLast = r.Timestamp
		}
	}

	return CompBlock{
		Offset:         off,
		Len:            int32(len(full)),
		KeyFirst:       keyFirst,
		KeyLast:        keyLast,
		NumOfPoints:    int32(len(records)),
		NumOfCols:      1,
		NumOfSubBlocks: 1,
		Last:           last,
		Algorithm:      algorithm,
		SVersion:       sversion,
	}, nil
}

// LoadBlockCols reads and decodes the records for block, which must
// have been written to .data (last=false) or .last (last=true).
func (fg *FileGroup) LoadBlockCols(block CompBlock) ([]Record, error) {
	target := fg.data
	if block.Last {
		target = fg.last
	}

	buf := make([]byte, block.Len)
	if _, err := target.ReadAt(buf, block.Offset); err != nil {
		return nil, fmt.Errorf("fileformat: reading block: %w", err)
	}

	header, err := UnmarshalCompDataHeader(buf)
	if err != nil {
		return nil, err
	}
	if len(header.Cols) != 1 {
		return nil, fmt.Errorf("fileformat: unexpected column count %d in block", len(header.Cols))
	}
	col := header.Cols[0]
	payload := buf[col.Offset : col.Offset+col.Len]

	var raw []byte
	if block.Algorithm == algoSnappy {
		raw, err = snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("fileformat: decompressing block: %w", err)
		}
	} else {
		raw = payload
	}

	return unpackRecords(raw)
}

// CopyBlockData loads every sub-block of a super-block (or, for the
// tail, every tail block referenced) from src and rewrites it as a
// single coalesced block in fg — the rewrite path used when the tail
// file is being rewritten rather than carried forward bytewise.
func CopyBlockData(fg, src *FileGroup, blocks []CompBlock, uid uint64, sversion uint32, last bool) (CompBlock, error) {
	var all []Record
	for _, b := range blocks {
		recs, err := src.LoadBlockCols(b)
		if err != nil {
			return CompBlock{}, err
		}
		all = append(all, recs...)
	}
	return fg.WriteBlock(uid, sversion, all, last)
}
