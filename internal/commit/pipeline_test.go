package commit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsdbcore/engine/internal/arena"
	"github.com/tsdbcore/engine/internal/filedir"
	"github.com/tsdbcore/engine/internal/meta"
	"github.com/tsdbcore/engine/internal/partition"
	"github.com/tsdbcore/engine/internal/schema"
)

func testSchema() schema.Schema {
	return schema.Schema{
		Version: 1,
		Columns: []schema.Column{
			{ID: 0, Name: "ts", Type: schema.TypeTimestamp},
			{ID: 1, Name: "value", Type: schema.TypeFloat64},
		},
	}
}

type harness struct {
	dir      string
	arena    *arena.Arena
	registry *meta.Registry
	fdir     *filedir.Directory
	pipeline *Pipeline
	cfg      Config
}

func newHarness(t *testing.T, minRows, maxRows int32) *harness {
	t.Helper()
	dir := t.TempDir()
	a := arena.New(1 << 20)
	r := meta.New(16, a)
	cfg := Config{
		Precision: partition.Milli, DaysPerFile: 1,
		MinRowsPerFileBlock: minRows, MaxRowsPerFileBlock: maxRows,
		MaxTables: 16,
	}
	fd := filedir.New(dir, cfg.MaxTables, 0)
	return &harness{
		dir: dir, arena: a, registry: r, fdir: fd, cfg: cfg,
		pipeline: New(dir, cfg, r, fd),
	}
}

func payload(n int64) []byte { return []byte{byte(n), byte(n >> 8)} }

// S1 — single-table insert and commit.
func TestScenarioS1SingleTableTailBlock(t *testing.T) {
	h := newHarness(t, 10, 100)
	require.NoError(t, h.registry.Create(0, 42, meta.Normal, testSchema(), nil))
	handle, _ := h.registry.Get(0)

	for _, ts := range []int64{1, 2, 3} {
		require.NoError(t, handle.Insert(ts, payload(ts)))
	}

	h.registry.FreezeAll()
	require.NoError(t, h.pipeline.Run())

	fg, err := h.fdir.Open(0, false)
	require.NoError(t, err)
	defer fg.Close()

	idx, err := fg.LoadIdx()
	require.NoError(t, err)
	require.True(t, idx[0].HasLast)
	require.EqualValues(t, 1, idx[0].NumOfSuperBlocks)
	require.EqualValues(t, 3, idx[0].MaxKey)

	info, err := fg.LoadInfo(idx[0])
	require.NoError(t, err)
	require.Len(t, info.Blocks, 1)
	require.True(t, info.Blocks[0].Last)
	require.EqualValues(t, 3, info.Blocks[0].NumOfPoints)
}

// S2 — promote tail to data.
func TestScenarioS2PromoteTailToData(t *testing.T) {
	h := newHarness(t, 10, 100)
	require.NoError(t, h.registry.Create(0, 42, meta.Normal, testSchema(), nil))
	handle, _ := h.registry.Get(0)

	for _, ts := range []int64{1, 2, 3} {
		require.NoError(t, handle.Insert(ts, payload(ts)))
	}
	h.registry.FreezeAll()
	require.NoError(t, h.pipeline.Run())

	for ts := int64(4); ts <= 20; ts++ {
		require.NoError(t, handle.Insert(ts, payload(ts)))
	}
	h.registry.FreezeAll()
	require.NoError(t, h.pipeline.Run())

	fg, err := h.fdir.Open(0, false)
	require.NoError(t, err)
	defer fg.Close()

	idx, err := fg.LoadIdx()
	require.NoError(t, err)
	require.False(t, idx[0].HasLast)
	require.EqualValues(t, 20, idx[0].MaxKey)

	info, err := fg.LoadInfo(idx[0])
	require.NoError(t, err)
	require.Len(t, info.Blocks, 1)
	require.False(t, info.Blocks[0].Last)
	require.EqualValues(t, 20, info.Blocks[0].NumOfPoints)
}

// S3 — cross-partition write at the day boundary.
func TestScenarioS3CrossPartitionWrite(t *testing.T) {
	h := newHarness(t, 10, 100)
	require.NoError(t, h.registry.Create(0, 1, meta.Normal, testSchema(), nil))
	handle, _ := h.registry.Get(0)

	require.NoError(t, handle.Insert(86_399_000, payload(1)))
	require.NoError(t, handle.Insert(86_400_000, payload(2)))
	h.registry.FreezeAll()
	require.NoError(t, h.pipeline.Run())

	fg0, err := h.fdir.Open(0, false)
	require.NoError(t, err)
	defer fg0.Close()
	idx0, err := fg0.LoadIdx()
	require.NoError(t, err)
	require.True(t, idx0[0].HasLast)
	require.EqualValues(t, 86_399_000, idx0[0].MaxKey)

	fg1, err := h.fdir.Open(1, false)
	require.NoError(t, err)
	defer fg1.Close()
	idx1, err := fg1.LoadIdx()
	require.NoError(t, err)
	require.True(t, idx1[0].HasLast)
	require.EqualValues(t, 86_400_000, idx1[0].MaxKey)
}

// S4 — overlap merge: newer payload wins on tie.
func TestScenarioS4OverlapMerge(t *testing.T) {
	h := newHarness(t, 10, 100)
	require.NoError(t, h.registry.Create(0, 1, meta.Normal, testSchema(), nil))
	handle, _ := h.registry.Get(0)

	for _, ts := range []int64{10, 20, 30} {
		require.NoError(t, handle.Insert(ts, []byte("old")))
	}
	h.registry.FreezeAll()
	require.NoError(t, h.pipeline.Run())

	for _, ts := range []int64{15, 25, 30} {
		require.NoError(t, handle.Insert(ts, []byte("new")))
	}
	h.registry.FreezeAll()
	require.NoError(t, h.pipeline.Run())

	fg, err := h.fdir.Open(0, false)
	require.NoError(t, err)
	defer fg.Close()

	idx, err := fg.LoadIdx()
	require.NoError(t, err)
	info, err := fg.LoadInfo(idx[0])
	require.NoError(t, err)
	require.Len(t, info.Blocks, 1)

	recs, err := fg.LoadBlockCols(info.Blocks[0])
	require.NoError(t, err)
	require.Len(t, recs, 5)

	want := map[int64]string{10: "old", 15: "new", 20: "old", 25: "new", 30: "new"}
	for _, r := range recs {
		require.Equal(t, want[r.Timestamp], string(r.Payload), "timestamp %d", r.Timestamp)
	}
}

// Backfill landing below an earlier (non-final) super-block must fold
// into that block rather than append after it, or the rewritten block
// list ends up out of KeyFirst order with overlapping ranges.
func TestScenarioBackfillFoldsIntoEarlierBlock(t *testing.T) {
	h := newHarness(t, 10, 100)
	require.NoError(t, h.registry.Create(0, 1, meta.Normal, testSchema(), nil))
	handle, _ := h.registry.Get(0)

	for ts := int64(100); ts <= 109; ts++ {
		require.NoError(t, handle.Insert(ts, payload(ts)))
	}
	h.registry.FreezeAll()
	require.NoError(t, h.pipeline.Run())

	for ts := int64(200); ts <= 209; ts++ {
		require.NoError(t, handle.Insert(ts, payload(ts)))
	}
	h.registry.FreezeAll()
	require.NoError(t, h.pipeline.Run())

	require.NoError(t, handle.Insert(50, payload(50)))
	require.NoError(t, handle.Insert(51, payload(51)))
	h.registry.FreezeAll()
	require.NoError(t, h.pipeline.Run())

	fg, err := h.fdir.Open(0, false)
	require.NoError(t, err)
	defer fg.Close()

	idx, err := fg.LoadIdx()
	require.NoError(t, err)
	info, err := fg.LoadInfo(idx[0])
	require.NoError(t, err)
	require.Len(t, info.Blocks, 2)

	for i := 1; i < len(info.Blocks); i++ {
		require.Less(t, info.Blocks[i-1].KeyFirst, info.Blocks[i].KeyFirst, "blocks must be sorted by KeyFirst")
		require.Less(t, info.Blocks[i-1].KeyLast, info.Blocks[i].KeyFirst, "block ranges must be disjoint")
	}

	require.EqualValues(t, 50, info.Blocks[0].KeyFirst)
	require.EqualValues(t, 109, info.Blocks[0].KeyLast)
	require.EqualValues(t, 12, info.Blocks[0].NumOfPoints)
	require.EqualValues(t, 200, info.Blocks[1].KeyFirst)
	require.EqualValues(t, 209, info.Blocks[1].KeyLast)

	recs, err := fg.LoadBlockCols(info.Blocks[0])
	require.NoError(t, err)
	require.Len(t, recs, 12)
	require.Equal(t, int64(50), recs[0].Timestamp)
	require.Equal(t, payload(50), recs[0].Payload)
	require.Equal(t, int64(51), recs[1].Timestamp)
	require.Equal(t, payload(51), recs[1].Payload)
}

// Property 4 — idempotent commit on empty frozen state.
func TestIdempotentCommitOnEmptyFrozenState(t *testing.T) {
	h := newHarness(t, 10, 100)
	require.NoError(t, h.registry.Create(0, 1, meta.Normal, testSchema(), nil))

	require.NoError(t, h.pipeline.Run())
	require.Equal(t, 0, h.fdir.Len(), "no file groups should be created by an empty commit")
}

// Property 3 — partition independence.
func TestPartitionIndependence(t *testing.T) {
	h := newHarness(t, 1, 100)
	require.NoError(t, h.registry.Create(0, 1, meta.Normal, testSchema(), nil))
	handle, _ := h.registry.Get(0)

	require.NoError(t, handle.Insert(1, payload(1)))               // fid 0
	require.NoError(t, handle.Insert(86_400_000+1, payload(2)))    // fid 1
	h.registry.FreezeAll()
	require.NoError(t, h.pipeline.Run())

	require.True(t, h.fdir.Find(0))
	require.True(t, h.fdir.Find(1))
	require.False(t, h.fdir.Find(2))
}
