package exec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/exec"
	"relcore/types"
)

func TestSeqScanVisitsAllRowsAndAppliesPredicate(t *testing.T) {
	schema := testSchema()
	h := newTestHeap(t, 1, schema)
	for i := int32(0); i < 5; i++ {
		_, err := h.Insert(makeRow(t, i, "row"))
		require.NoError(t, err)
	}

	all := drain(t, exec.NewSeqScan(h, schema, nil))
	require.Len(t, all, 5)

	even := drain(t, exec.NewSeqScan(h, schema, func(row types.Tuple) (bool, error) {
		return row.Values[0].I%2 == 0, nil
	}))
	require.Len(t, even, 3)
}

func TestIndexScanRangeAndRecheck(t *testing.T) {
	schema := testSchema()
	h := newTestHeap(t, 1, schema)
	keySchema := types.Schema{Columns: []types.ColumnDef{schema.Columns[0]}}
	idx := newTestIndex(t, 2, keySchema)

	for i := int32(0); i < 10; i++ {
		rid, err := h.Insert(makeRow(t, i, "row"))
		require.NoError(t, err)
		require.NoError(t, idx.InsertEntry([]types.Value{types.IntValue(i)}, rid))
	}

	preds := []exec.ColumnPredicate{
		{Column: "id", Op: exec.OpGe, Value: types.IntValue(3)},
		{Column: "id", Op: exec.OpLt, Value: types.IntValue(7)},
	}
	scan := exec.NewIndexScan(h, idx, schema, []int{0}, preds, nil)
	rows := drain(t, scan)
	require.Len(t, rows, 4) // 3,4,5,6
	require.Equal(t, int32(3), rows[0].Values[0].I)
	require.Equal(t, int32(6), rows[3].Values[0].I)
}

func TestBuildIndexBoundsMatchesByColumnName(t *testing.T) {
	idxSchema := types.Schema{Columns: []types.ColumnDef{
		{Name: "b", Kind: types.KindInt},
		{Name: "a", Kind: types.KindInt},
	}}
	// preds list order deliberately doesn't match idxSchema's column order.
	preds := []exec.ColumnPredicate{
		{Column: "a", Op: exec.OpEq, Value: types.IntValue(5)},
		{Column: "b", Op: exec.OpGe, Value: types.IntValue(2)},
	}
	lower, upper := exec.BuildIndexBounds(idxSchema, preds)
	require.Equal(t, types.IntValue(2), lower[0]) // b
	require.Equal(t, types.IntValue(5), lower[1]) // a
	require.Equal(t, types.IntValue(5), upper[1]) // a pinned by =
}
