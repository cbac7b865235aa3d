package fileformat

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// FileGroup is the open handle set for one time partition's three
// files (C3): head (block index), data (full blocks) and last (tail
// blocks), plus the in-memory bookkeeping needed to append new
// SCompInfo regions and blocks.
type FileGroup struct {
	Fid       int64
	MaxTables int32

	HeadPath, DataPath, LastPath string

	// Staging bookkeeping used only by Stage/Publish/Abort; empty for
	// file groups opened via Create/Open.
	stagedHeadPath, finalHeadPath string
	stagedLastPath, finalLastPath string

	head, data, last *os.File
}

func writeFileHead(f *os.File) error {
	buf := make([]byte, FileHeadSize)
	binary.BigEndian.PutUint32(buf[0:4], fileHeadMagic)
	binary.BigEndian.PutUint32(buf[4:8], fileHeadVersion)
	binary.BigEndian.PutUint32(buf[8:12], Checksum(buf[0:8]))
	if _, err := f.WriteAt(buf, 0); err != nil {
		return err
	}
	return nil
}

func checkFileHead(f *os.File) error {
	buf := make([]byte, FileHeadSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("fileformat: reading file header: %w", err)
	}
	if binary.BigEndian.Uint32(buf[0:4]) != fileHeadMagic {
		return ErrCorrupt
	}
	if Checksum(buf[0:8]) != binary.BigEndian.Uint32(buf[8:12]) {
		return ErrCorrupt
	}
	return nil
}

// Create lays out a brand new file group: three files, only .head
// pre-zeroed over its SCompIdx[maxTables] region so random access by
// tid is a constant-offset read, per the design.
func Create(dataDir string, fid int64, maxTables int32) (*FileGroup, error) {
	headPath, dataPath, lastPath := FileNames(dataDir, fid)

	head, err := os.OpenFile(headPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("fileformat: creating head file: %w", err)
	}
	data, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		head.Close()
		return nil, fmt.Errorf("fileformat: creating data file: %w", err)
	}
	last, err := os.OpenFile(lastPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		head.Close()
		data.Close()
		return nil, fmt.Errorf("fileformat: creating last file: %w", err)
	}

	if err := writeFileHead(head); err != nil {
		return nil, err
	}
	if err := writeFileHead(data); err != nil {
		return nil, err
	}
	if err := writeFileHead(last); err != nil {
		return nil, err
	}

	zero := make([]byte, int(maxTables)*compIdxEntrySize)
	if _, err := head.WriteAt(zero, FileHeadSize); err != nil {
		return nil, fmt.Errorf("fileformat: zeroing SCompIdx region: %w", err)
	}

	return &FileGroup{
		Fid: fid, MaxTables: maxTables,
		HeadPath: headPath, DataPath: dataPath, LastPath: lastPath,
		head: head, data: data, last: last,
	}, nil
}

// Open opens an existing file group's three files. writable selects
// read-write vs. read-only access.
func Open(dataDir string, fid int64, maxTables int32, writable bool) (*FileGroup, error) {
	headPath, dataPath, lastPath := FileNames(dataDir, fid)
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}

	head, err := os.OpenFile(headPath, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("fileformat: opening head file: %w", err)
	}
	data, err := os.OpenFile(dataPath, flag, 0644)
	if err != nil {
		head.Close()
		return nil, fmt.Errorf("fileformat: opening data file: %w", err)
	}
	last, err := os.OpenFile(lastPath, flag, 0644)
	if err != nil {
		head.Close()
		data.Close()
		return nil, fmt.Errorf("fileformat: opening last file: %w", err)
	}

	for _, f := range []*os.File{head, data, last} {
		if err := checkFileHead(f); err != nil {
			head.Close()
			data.Close()
			last.Close()
			return nil, err
		}
	}

	return &FileGroup{
		Fid: fid, MaxTables: maxTables,
		HeadPath: headPath, DataPath: dataPath, LastPath: lastPath,
		head: head, data: data, last: last,
	}, nil
}

// Close releases the file group's open descriptors.
func (fg *FileGroup) Close() error {
	var firstErr error
	for _, f := range []*os.File{fg.head, fg.data, fg.last} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Sync fsyncs all three files, as required before an atomic rename
// publishes a rewritten file group.
func (fg *FileGroup) Sync() error {
	for _, f := range []*os.File{fg.head, fg.data, fg.last} {
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes all three files of fid's group from disk; files that
// are already missing are skipped.
func Remove(dataDir string, fid int64) error {
	headPath, dataPath, lastPath := FileNames(dataDir, fid)
	var firstErr error
	for _, p := range []string{headPath, dataPath, lastPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// idxRegionOffset is the fixed offset of the SCompIdx[maxTables] array
// within .head.
func idxRegionOffset() int64 { return FileHeadSize }

// LoadIdx reads the full SCompIdx array.
func (fg *FileGroup) LoadIdx() ([]CompIdx, error) {
	buf := make([]byte, int(fg.MaxTables)*compIdxEntrySize)
	if _, err := fg.head.ReadAt(buf, idxRegionOffset()); err != nil && err != io.EOF {
		return nil, fmt.Errorf("fileformat: reading SCompIdx array: %w", err)
	}
	out := make([]CompIdx, fg.MaxTables)
	for i := range out {
		off := i * compIdxEntrySize
		idx, err := UnmarshalCompIdx(buf[off : off+compIdxEntrySize])
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

// WriteIdx overwrites the entire SCompIdx array. tid is the slice index.
func (fg *FileGroup) WriteIdx(idx []CompIdx) error {
	buf := make([]byte, 0, len(idx)*compIdxEntrySize)
	for _, e := range idx {
		buf = append(buf, MarshalCompIdx(e)...)
	}
	_, err := fg.head.WriteAt(buf, idxRegionOffset())
	return err
}

// WriteIdxEntry overwrites a single table's SCompIdx entry.
func (fg *FileGroup) WriteIdxEntry(tid int32, e CompIdx) error {
	_, err := fg.head.WriteAt(MarshalCompIdx(e), idxRegionOffset()+int64(tid)*compIdxEntrySize)
	return err
}

// LoadInfo reads and decodes the SCompInfo region described by idx,
// verifying the checksum recorded alongside it.
func (fg *FileGroup) LoadInfo(idx CompIdx) (CompInfo, error) {
	if idx.IsEmpty() {
		return CompInfo{}, nil
	}
	buf := make([]byte, idx.Len)
	if _, err := fg.head.ReadAt(buf, idx.Offset); err != nil {
		return CompInfo{}, fmt.Errorf("fileformat: reading SCompInfo region: %w", err)
	}
	if Checksum(buf) != idx.Checksum {
		return CompInfo{}, ErrCorrupt
	}
	return UnmarshalCompInfo(buf)
}

// AppendInfo appends a new SCompInfo region at the current end of
// .head and returns the offset/length/checksum a caller stores into
// the table's SCompIdx entry.
func (fg *FileGroup) AppendInfo(info CompInfo) (offset, length int64, checksum uint32, err error) {
	buf := MarshalCompInfo(info)
	off, err := fg.head.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, 0, 0, err
	}
	if _, err := fg.head.Write(buf); err != nil {
		return 0, 0, 0, err
	}
	return off, int64(len(buf)), Checksum(buf), nil
}

// CopyInfoRegion carries an unchanged info region forward from src to
// fg bytewise (the plain read+write substitute for the optimization
// `sendfile` path the design notes call out as equivalent). Returns
// the new offset/length/checksum.
func CopyInfoRegion(fg, src *FileGroup, idx CompIdx) (offset, length int64, checksum uint32, err error) {
	buf := make([]byte, idx.Len)
	if _, err := src.head.ReadAt(buf, idx.Offset); err != nil {
		return 0, 0, 0, fmt.Errorf("fileformat: copying info region: %w", err)
	}
	off, err := fg.head.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, 0, 0, err
	}
	if _, err := fg.head.Write(buf); err != nil {
		return 0, 0, 0, err
	}
	return off, int64(len(buf)), idx.Checksum, nil
}
