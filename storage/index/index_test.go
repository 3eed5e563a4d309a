package index_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/relerr"
	"relcore/storage/bufferpool"
	"relcore/storage/diskmgr"
	"relcore/storage/index"
	"relcore/types"
)

func keySchema() types.Schema {
	return types.Schema{Columns: []types.ColumnDef{{Name: "id", Kind: types.KindInt}}}
}

func newTestIndex(t *testing.T) *index.Index {
	t.Helper()
	dir := t.TempDir()
	dm := diskmgr.NewManager()
	_, err := dm.Open(1, dir+"/i1.idx")
	require.NoError(t, err)
	pool, err := bufferpool.New(16, dm, nil)
	require.NoError(t, err)
	idx, err := index.Create(pool, 1, keySchema())
	require.NoError(t, err)
	return idx
}

func key(id int32) []types.Value { return []types.Value{types.IntValue(id)} }

func TestInsertGetRoundTrip(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.InsertEntry(key(7), types.Rid{PageNo: 1, SlotNo: 2}))

	rid, ok, err := idx.Get(key(7))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.Rid{PageNo: 1, SlotNo: 2}, rid)
}

func TestDuplicateKeyRejected(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.InsertEntry(key(1), types.Rid{PageNo: 1, SlotNo: 0}))
	err := idx.InsertEntry(key(1), types.Rid{PageNo: 1, SlotNo: 1})
	require.ErrorIs(t, err, relerr.ErrIndexKeyDuplicate)
}

func TestSplitAndOrderedScan(t *testing.T) {
	idx := newTestIndex(t)
	const n = 500
	for i := 0; i < n; i++ {
		// insert out of order to exercise mid-tree splits
		id := int32((i * 37) % n)
		require.NoError(t, idx.InsertEntry(key(id), types.Rid{PageNo: id, SlotNo: 0}))
	}

	cur, err := idx.Begin()
	require.NoError(t, err)
	var got []int32
	for {
		rid, ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, rid.PageNo)
	}
	require.Len(t, got, n)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i], "scan must return entries in ascending key order")
	}
}

func TestDeleteThenLookupMisses(t *testing.T) {
	idx := newTestIndex(t)
	const n = 300
	for i := int32(0); i < n; i++ {
		require.NoError(t, idx.InsertEntry(key(i), types.Rid{PageNo: i, SlotNo: 0}))
	}
	for i := int32(0); i < n; i += 2 {
		require.NoError(t, idx.DeleteEntry(key(i)))
	}
	for i := int32(0); i < n; i++ {
		_, ok, err := idx.Get(key(i))
		require.NoError(t, err)
		require.Equal(t, i%2 != 0, ok)
	}
}

func TestDeleteAllCollapsesToEmptyRoot(t *testing.T) {
	idx := newTestIndex(t)
	const n = 200
	for i := int32(0); i < n; i++ {
		require.NoError(t, idx.InsertEntry(key(i), types.Rid{PageNo: i, SlotNo: 0}))
	}
	for i := int32(0); i < n; i++ {
		require.NoError(t, idx.DeleteEntry(key(i)))
	}
	cur, err := idx.Begin()
	require.NoError(t, err)
	_, ok, err := cur.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLowerAndUpperBound(t *testing.T) {
	idx := newTestIndex(t)
	for _, id := range []int32{10, 20, 30, 40} {
		require.NoError(t, idx.InsertEntry(key(id), types.Rid{PageNo: id, SlotNo: 0}))
	}

	lb, err := idx.LowerBound(key(25))
	require.NoError(t, err)
	rid, ok, err := lb.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(30), rid.PageNo)

	ub, err := idx.UpperBound(key(30))
	require.NoError(t, err)
	rid, ok, err = ub.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(40), rid.PageNo)
}
