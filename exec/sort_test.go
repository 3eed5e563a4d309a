package exec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/exec"
	"relcore/types"
)

func TestSortOrdersAscendingByKey(t *testing.T) {
	schema := idSchema()
	unordered := []types.Tuple{idRow(5), idRow(1), idRow(3), idRow(2), idRow(4)}
	src := newLiteralRows(schema, unordered)

	s := exec.NewSort(src, []int{0}, 2, t.TempDir())
	out := drain(t, s)
	require.NoError(t, s.Close())

	require.Len(t, out, 5)
	for i := range out {
		require.Equal(t, int32(i+1), out[i].Values[0].I)
	}
}
