package fileformat

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestCompIdxRoundTrip(t *testing.T) {
	in := CompIdx{Offset: 128, Len: 64, HasLast: true, MaxKey: 9000, NumOfSuperBlocks: 3, Checksum: 0xDEADBEEF}
	out, err := UnmarshalCompIdx(MarshalCompIdx(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestCompInfoRoundTrip(t *testing.T) {
	in := CompInfo{
		UID: 42,
		Blocks: []CompBlock{
			{Offset: 0, Len: 100, KeyFirst: 1, KeyLast: 10, NumOfPoints: 10, NumOfCols: 1, NumOfSubBlocks: 1, Last: false, Algorithm: 1, SVersion: 1},
			{Offset: 100, Len: 20, KeyFirst: 11, KeyLast: 15, NumOfPoints: 5, NumOfCols: 1, NumOfSubBlocks: 1, Last: true, Algorithm: 1, SVersion: 1},
		},
	}
	out, err := UnmarshalCompInfo(MarshalCompInfo(in))
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("CompInfo round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalCompInfoRejectsBadDelimiter(t *testing.T) {
	buf := MarshalCompInfo(CompInfo{UID: 1})
	buf[0] ^= 0xFF
	_, err := UnmarshalCompInfo(buf)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestCompDataHeaderRoundTrip(t *testing.T) {
	in := CompDataHeader{UID: 7, Cols: []CompCol{{ColID: 0, Type: 0, Offset: 16, Len: 200}}}
	out, err := UnmarshalCompDataHeader(MarshalCompDataHeader(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}
