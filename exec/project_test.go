package exec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/exec"
	"relcore/types"
)

func TestProjectionReordersColumns(t *testing.T) {
	schema := testSchema()
	rows := []types.Tuple{makeRow(t, 1, "alice"), makeRow(t, 2, "bob")}
	src := newLiteralRows(schema, rows)

	outSchema := types.Schema{Columns: []types.ColumnDef{schema.Columns[1], schema.Columns[0]}}
	proj := exec.NewProjection(src, []int{1, 0}, outSchema)

	out := drain(t, proj)
	require.Len(t, out, 2)
	require.Equal(t, types.KindChar, out[0].Values[0].Kind)
	require.Equal(t, int32(1), out[0].Values[1].I)
}
