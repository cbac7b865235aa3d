package tsdb

import (
	"encoding/binary"
	"fmt"
)

// rowHeaderSize is the fixed {length, timestamp} prefix of one row
// within a submit block's densely packed row sequence; length counts
// only the payload that follows, matching the row/column codec's
// black-box contract (spec.md §3 Row) — this package never interprets
// the payload bytes themselves.
const rowHeaderSize = 4 + 8

type wireRow struct {
	Timestamp int64
	Payload   []byte
}

// decodeRows walks a submit block's densely packed row sequence.
func decodeRows(buf []byte) ([]wireRow, error) {
	var rows []wireRow
	offset := 0
	for offset < len(buf) {
		if offset+rowHeaderSize > len(buf) {
			return nil, newError(CorruptOnDisk, fmt.Errorf("row sequence truncated at offset %d", offset))
		}
		payloadLen := binary.BigEndian.Uint32(buf[offset : offset+4])
		ts := int64(binary.BigEndian.Uint64(buf[offset+4 : offset+12]))
		start := offset + rowHeaderSize
		end := start + int(payloadLen)
		if end > len(buf) {
			return nil, newError(CorruptOnDisk, fmt.Errorf("row sequence truncated at offset %d payload", offset))
		}
		rows = append(rows, wireRow{Timestamp: ts, Payload: buf[start:end]})
		offset = end
	}
	return rows, nil
}

// encodeRows is the write-side counterpart, used to build submit
// blocks' row payloads for tests and in-process callers.
func encodeRows(rows []wireRow) []byte {
	total := 0
	for _, r := range rows {
		total += rowHeaderSize + len(r.Payload)
	}
	buf := make([]byte, total)
	offset := 0
	for _, r := range rows {
		binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(r.Payload)))
		binary.BigEndian.PutUint64(buf[offset+4:offset+12], uint64(r.Timestamp))
		offset += rowHeaderSize
		copy(buf[offset:], r.Payload)
		offset += len(r.Payload)
	}
	return buf
}
