package fileformat

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateThenOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()

	fg, err := Create(dir, 7, 16)
	require.NoError(t, err)

	idx, err := fg.LoadIdx()
	require.NoError(t, err)
	require.Len(t, idx, 16)
	for _, e := range idx {
		require.True(t, e.IsEmpty())
	}
	require.NoError(t, fg.Close())

	fg2, err := Open(dir, 7, 16, true)
	require.NoError(t, err)
	defer fg2.Close()

	idx2, err := fg2.LoadIdx()
	require.NoError(t, err)
	require.Equal(t, idx, idx2)
}

func TestWriteBlockThenLoadBlockCols(t *testing.T) {
	dir := t.TempDir()
	fg, err := Create(dir, 1, 4)
	require.NoError(t, err)
	defer fg.Close()

	records := []Record{
		{Timestamp: 10, Payload: []byte("alpha")},
		{Timestamp: 20, Payload: []byte("beta")},
		{Timestamp: 30, Payload: []byte("gamma")},
	}

	block, err := fg.WriteBlock(99, 1, records, false)
	require.NoError(t, err)
	require.EqualValues(t, 10, block.KeyFirst)
	require.EqualValues(t, 30, block.KeyLast)
	require.EqualValues(t, 3, block.NumOfPoints)
	require.False(t, block.Last)

	got, err := fg.LoadBlockCols(block)
	require.NoError(t, err)
	require.Equal(t, records, got)
}

func TestWriteBlockToLastFile(t *testing.T) {
	dir := t.TempDir()
	fg, err := Create(dir, 2, 4)
	require.NoError(t, err)
	defer fg.Close()

	records := []Record{{Timestamp: 1, Payload: []byte("x")}}
	block, err := fg.WriteBlock(1, 1, records, true)
	require.NoError(t, err)
	require.True(t, block.Last)

	got, err := fg.LoadBlockCols(block)
	require.NoError(t, err)
	require.Equal(t, records, got)
}

func TestAppendInfoAndLoadInfoRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fg, err := Create(dir, 3, 4)
	require.NoError(t, err)
	defer fg.Close()

	info := CompInfo{UID: 55, Blocks: []CompBlock{
		{Offset: 0, Len: 10, KeyFirst: 1, KeyLast: 2, NumOfPoints: 2, NumOfCols: 1, NumOfSubBlocks: 1},
	}}

	off, length, checksum, err := fg.AppendInfo(info)
	require.NoError(t, err)

	idxEntry := CompIdx{Offset: off, Len: length, Checksum: checksum, MaxKey: info.MaxKey(), NumOfSuperBlocks: int32(len(info.Blocks))}
	require.NoError(t, fg.WriteIdxEntry(0, idxEntry))

	idx, err := fg.LoadIdx()
	require.NoError(t, err)
	require.Equal(t, idxEntry, idx[0])

	got, err := fg.LoadInfo(idx[0])
	require.NoError(t, err)
	require.Equal(t, info, got)
}

func TestCopyBlockDataCoalescesBlocks(t *testing.T) {
	dir := t.TempDir()
	src, err := Create(dir, 4, 2)
	require.NoError(t, err)
	defer src.Close()

	b1, err := src.WriteBlock(1, 1, []Record{{Timestamp: 1, Payload: []byte("a")}}, true)
	require.NoError(t, err)
	b2, err := src.WriteBlock(1, 1, []Record{{Timestamp: 2, Payload: []byte("b")}}, true)
	require.NoError(t, err)

	dstDir := t.TempDir()
	dst, err := Create(dstDir, 4, 2)
	require.NoError(t, err)
	defer dst.Close()

	coalesced, err := CopyBlockData(dst, src, []CompBlock{b1, b2}, 1, 1, true)
	require.NoError(t, err)
	require.EqualValues(t, 2, coalesced.NumOfPoints)

	got, err := dst.LoadBlockCols(coalesced)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestOpenRejectsCorruptHeader(t *testing.T) {
	dir := t.TempDir()
	fg, err := Create(dir, 5, 2)
	require.NoError(t, err)
	require.NoError(t, fg.Close())

	// Corrupt the head file's magic bytes directly.
	headPath, _, _ := FileNames(dir, 5)
	f, err := os.OpenFile(headPath, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt([]byte{0, 0, 0, 0}, 0)
	require.NoError(t, err)

	_, err = Open(dir, 5, 2, false)
	require.ErrorIs(t, err, ErrCorrupt)
}
