package sort_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/storage/sort"
	"relcore/types"
)

func rowSchema() types.Schema {
	return types.Schema{Columns: []types.ColumnDef{{Name: "v", Kind: types.KindInt}}}
}

func TestExternalSortSingleRun(t *testing.T) {
	s := sort.New(rowSchema(), []int{0}, 1000, t.TempDir())
	vals := []int32{5, 3, 8, 1, 9, 2}
	for _, v := range vals {
		require.NoError(t, s.Write(types.Tuple{Values: []types.Value{types.IntValue(v)}}))
	}
	require.NoError(t, s.EndWrite())
	require.NoError(t, s.BeginRead())
	defer s.Close()

	var got []int32
	for !s.IsEnd() {
		row, err := s.Read()
		require.NoError(t, err)
		got = append(got, row.Values[0].I)
	}
	require.Equal(t, []int32{1, 2, 3, 5, 8, 9}, got)
}

func TestExternalSortAcrossManyRuns(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const n = 2000
	s := sort.New(rowSchema(), []int{0}, 64, t.TempDir())
	want := make([]int32, n)
	for i := 0; i < n; i++ {
		v := int32(rng.Intn(1_000_000))
		want[i] = v
		require.NoError(t, s.Write(types.Tuple{Values: []types.Value{types.IntValue(v)}}))
	}
	require.NoError(t, s.EndWrite())
	require.NoError(t, s.BeginRead())
	defer s.Close()

	var got []int32
	for !s.IsEnd() {
		row, err := s.Read()
		require.NoError(t, err)
		got = append(got, row.Values[0].I)
	}
	require.Len(t, got, n)
	for i := 1; i < len(got); i++ {
		require.LessOrEqual(t, got[i-1], got[i])
	}
}

func TestExternalSortEmpty(t *testing.T) {
	s := sort.New(rowSchema(), []int{0}, 16, t.TempDir())
	require.NoError(t, s.EndWrite())
	require.NoError(t, s.BeginRead())
	defer s.Close()
	require.True(t, s.IsEnd())
}
