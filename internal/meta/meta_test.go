package meta

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsdbcore/engine/internal/arena"
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

func TestCreateValidatesBoundsAndSchema(t *testing.T) {
	r := New(4, arena.New(1<<20))

	require.ErrorIs(t, r.Create(-1, 1, Normal, testSchema(), nil), ErrOutOfBounds)
	require.ErrorIs(t, r.Create(4, 1, Normal, testSchema(), nil), ErrOutOfBounds)

	badSchema := schema.Schema{Columns: []schema.Column{{ID: 0, Type: schema.TypeFloat64}}}
	require.Error(t, r.Create(0, 1, Normal, badSchema, nil))

	require.NoError(t, r.Create(0, 1, Normal, testSchema(), nil))
	require.ErrorIs(t, r.Create(0, 2, Normal, testSchema(), nil), ErrTableExists)
}

func TestValidateForInsert(t *testing.T) {
	r := New(4, arena.New(1<<20))
	require.NoError(t, r.Create(1, 42, Normal, testSchema(), nil))

	h, err := r.ValidateForInsert(1, 42)
	require.NoError(t, err)
	require.Equal(t, int32(1), h.TID)

	_, err = r.ValidateForInsert(1, 99)
	require.ErrorIs(t, err, ErrUIDMismatch)

	_, err = r.ValidateForInsert(2, 1)
	require.ErrorIs(t, err, ErrTableUnknown)

	_, err = r.ValidateForInsert(9, 1)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestDropTombstonesSlot(t *testing.T) {
	r := New(4, arena.New(1<<20))
	require.NoError(t, r.Create(0, 1, Normal, testSchema(), nil))
	require.NoError(t, r.Drop(0))

	_, err := r.ValidateForInsert(0, 1)
	require.ErrorIs(t, err, ErrTableUnknown)

	require.ErrorIs(t, r.Drop(0), ErrTableUnknown)
}

func TestHandleInsertAndFreezeLifecycle(t *testing.T) {
	r := New(4, arena.New(1<<20))
	require.NoError(t, r.Create(0, 1, Normal, testSchema(), nil))

	h, _ := r.Get(0)
	require.NoError(t, h.Insert(10, []byte("a")))
	require.Nil(t, h.FrozenMemtable())

	h.Freeze()
	frozen := h.FrozenMemtable()
	require.NotNil(t, frozen)
	require.True(t, frozen.IsFrozen())
	require.EqualValues(t, 1, frozen.NumOfPoints())

	// A fresh active memtable is lazily created on the next insert.
	require.NoError(t, h.Insert(20, []byte("b")))

	h.ClearFrozen()
	require.Nil(t, h.FrozenMemtable())
}

func TestFreezeAllFreezesEveryOccupiedTable(t *testing.T) {
	r := New(4, arena.New(1<<20))
	require.NoError(t, r.Create(0, 1, Normal, testSchema(), nil))
	require.NoError(t, r.Create(2, 2, Normal, testSchema(), nil))

	h0, _ := r.Get(0)
	h2, _ := r.Get(2)
	require.NoError(t, h0.Insert(1, nil))
	require.NoError(t, h2.Insert(1, nil))

	r.FreezeAll()

	require.NotNil(t, h0.FrozenMemtable())
	require.NotNil(t, h2.FrozenMemtable())
}
