package exec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/exec"
	"relcore/types"
)

func groupSchema() types.Schema {
	return types.Schema{Columns: []types.ColumnDef{
		{Name: "grp", Kind: types.KindInt},
		{Name: "val", Kind: types.KindInt},
	}}
}

func groupRow(g, v int32) types.Tuple {
	return types.Tuple{Values: []types.Value{types.IntValue(g), types.IntValue(v)}}
}

func TestAggregationGroupsAndSums(t *testing.T) {
	rows := []types.Tuple{
		groupRow(1, 10), groupRow(2, 20), groupRow(1, 5), groupRow(2, 1), groupRow(1, 1),
	}
	src := newLiteralRows(groupSchema(), rows)

	outSchema := types.Schema{Columns: []types.ColumnDef{
		{Name: "grp", Kind: types.KindInt},
		{Name: "sum", Kind: types.KindInt},
		{Name: "cnt", Kind: types.KindInt},
	}}
	agg := exec.NewAggregation(src, []int{0}, []exec.AggSpec{
		{Fn: exec.AggSum, Col: 1},
		{Fn: exec.AggCountStar},
	}, nil, outSchema)

	out := drain(t, agg)
	require.Len(t, out, 2)

	byGroup := map[int32][2]int32{}
	for _, row := range out {
		byGroup[row.Values[0].I] = [2]int32{row.Values[1].I, row.Values[2].I}
	}
	require.Equal(t, [2]int32{16, 3}, byGroup[1])
	require.Equal(t, [2]int32{21, 2}, byGroup[2])
}

func TestAggregationHavingFiltersGroups(t *testing.T) {
	rows := []types.Tuple{groupRow(1, 1), groupRow(1, 1), groupRow(2, 100)}
	src := newLiteralRows(groupSchema(), rows)
	outSchema := types.Schema{Columns: []types.ColumnDef{
		{Name: "grp", Kind: types.KindInt},
		{Name: "sum", Kind: types.KindInt},
	}}
	having := func(row types.Tuple) (bool, error) {
		return row.Values[1].I > 10, nil
	}
	agg := exec.NewAggregation(src, []int{0}, []exec.AggSpec{{Fn: exec.AggSum, Col: 1}}, having, outSchema)

	out := drain(t, agg)
	require.Len(t, out, 1)
	require.Equal(t, int32(2), out[0].Values[0].I)
}

func TestScalarAggregateOverEmptyInputEmitsOneRow(t *testing.T) {
	src := newLiteralRows(groupSchema(), nil)
	outSchema := types.Schema{Columns: []types.ColumnDef{{Name: "cnt", Kind: types.KindInt}}}
	agg := exec.NewAggregation(src, nil, []exec.AggSpec{{Fn: exec.AggCountStar}}, nil, outSchema)

	out := drain(t, agg)
	require.Len(t, out, 1)
	require.Equal(t, int32(0), out[0].Values[0].I)
}
