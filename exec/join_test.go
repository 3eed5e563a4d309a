package exec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/exec"
	"relcore/types"
)

func idSchema() types.Schema {
	return types.Schema{Columns: []types.ColumnDef{{Name: "id", Kind: types.KindInt}}}
}

func idRow(v int32) types.Tuple { return types.Tuple{Values: []types.Value{types.IntValue(v)}} }

func TestNestedLoopJoinMatchesOnPredicate(t *testing.T) {
	left := newLiteralRows(idSchema(), []types.Tuple{idRow(1), idRow(2), idRow(3)})
	rightRows := []types.Tuple{idRow(2), idRow(3), idRow(4)}

	pred := func(l, r types.Tuple) (bool, error) {
		return l.Values[0].I == r.Values[0].I, nil
	}
	join := exec.NewNestedLoopJoin(left, func() (exec.Executor, error) {
		return newLiteralRows(idSchema(), rightRows), nil
	}, pred)

	out := drain(t, join)
	require.Len(t, out, 2)
	require.Equal(t, int32(2), out[0].Values[0].I)
	require.Equal(t, int32(2), out[0].Values[1].I)
	require.Equal(t, int32(3), out[1].Values[0].I)
}

func TestMergeJoinHandlesDuplicateKeyGroups(t *testing.T) {
	// left has two rows keyed 2, right has two rows keyed 2: full cross
	// product of that group is 4 rows.
	left := newLiteralRows(idSchema(), []types.Tuple{idRow(1), idRow(2), idRow(2), idRow(3)})
	right := newLiteralRows(idSchema(), []types.Tuple{idRow(2), idRow(2), idRow(3)})

	join := exec.NewMergeJoin(left, right, []int{0}, []int{0})
	out := drain(t, join)

	// key=2: 2 left * 2 right = 4 rows; key=3: 1*1 = 1 row; key=1 has no
	// match on the right.
	require.Len(t, out, 5)
	for _, row := range out {
		require.Equal(t, row.Values[0].I, row.Values[1].I)
	}
}
