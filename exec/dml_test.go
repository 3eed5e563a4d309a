package exec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/exec"
	"relcore/types"
)

func TestInsertPopulatesHeapAndIndex(t *testing.T) {
	schema := testSchema()
	h := newTestHeap(t, 1, schema)
	keySchema := types.Schema{Columns: []types.ColumnDef{schema.Columns[0]}}
	idx := newTestIndex(t, 2, keySchema)

	src := newLiteralRows(schema, []types.Tuple{makeRow(t, 1, "a"), makeRow(t, 2, "b")})
	ins := exec.NewInsert(src, h, []exec.IndexBinding{{Idx: idx, Cols: []int{0}}}, "t", nil)

	out := drain(t, ins)
	require.Len(t, out, 1)
	require.Equal(t, int32(2), out[0].Values[0].I)

	rid, ok, err := idx.Get([]types.Value{types.IntValue(1)})
	require.NoError(t, err)
	require.True(t, ok)
	row, err := h.Get(rid)
	require.NoError(t, err)
	require.Equal(t, int32(1), row.Values[0].I)
}

func TestDeleteRemovesFromHeapAndIndex(t *testing.T) {
	schema := testSchema()
	h := newTestHeap(t, 1, schema)
	keySchema := types.Schema{Columns: []types.ColumnDef{schema.Columns[0]}}
	idx := newTestIndex(t, 2, keySchema)

	var rids []types.Rid
	for i := int32(0); i < 3; i++ {
		rid, err := h.Insert(makeRow(t, i, "row"))
		require.NoError(t, err)
		require.NoError(t, idx.InsertEntry([]types.Value{types.IntValue(i)}, rid))
		rids = append(rids, rid)
	}

	victim := exec.NewSeqScan(h, schema, func(row types.Tuple) (bool, error) {
		return row.Values[0].I == 1, nil
	})
	del := exec.NewDelete(victim, h, []exec.IndexBinding{{Idx: idx, Cols: []int{0}}}, "t", nil)
	out := drain(t, del)
	require.Len(t, out, 1)
	require.Equal(t, int32(1), out[0].Values[0].I)

	_, ok, err := idx.Get([]types.Value{types.IntValue(1)})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateSwapsKeysWithinSameBatch(t *testing.T) {
	schema := testSchema()
	h := newTestHeap(t, 1, schema)
	keySchema := types.Schema{Columns: []types.ColumnDef{schema.Columns[0]}}
	idx := newTestIndex(t, 2, keySchema)

	ridA, err := h.Insert(makeRow(t, 1, "a"))
	require.NoError(t, err)
	require.NoError(t, idx.InsertEntry([]types.Value{types.IntValue(1)}, ridA))
	ridB, err := h.Insert(makeRow(t, 2, "b"))
	require.NoError(t, err)
	require.NoError(t, idx.InsertEntry([]types.Value{types.IntValue(2)}, ridB))

	src := exec.NewSeqScan(h, schema, nil)
	swap := func(row types.Tuple) (types.Tuple, error) {
		if row.Values[0].I == 1 {
			return makeRow(t, 2, "a-swapped"), nil
		}
		return makeRow(t, 1, "b-swapped"), nil
	}
	upd := exec.NewUpdate(src, h, []exec.IndexBinding{{Idx: idx, Cols: []int{0}}}, swap, "t", nil)
	out := drain(t, upd)
	require.Len(t, out, 1)
	require.Equal(t, int32(2), out[0].Values[0].I)

	rid, ok, err := idx.Get([]types.Value{types.IntValue(1)})
	require.NoError(t, err)
	require.True(t, ok)
	row, err := h.Get(rid)
	require.NoError(t, err)
	require.Equal(t, "b-swapped", trimZeroDML(row.Values[1].S))
}

func trimZeroDML(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
