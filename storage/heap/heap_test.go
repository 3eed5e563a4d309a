package heap_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/storage/bufferpool"
	"relcore/storage/diskmgr"
	"relcore/storage/heap"
	"relcore/types"
)

func testSchema() types.Schema {
	return types.Schema{Columns: []types.ColumnDef{
		{Name: "id", Kind: types.KindInt},
		{Name: "name", Kind: types.KindChar, Len: 16},
	}}
}

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()
	dir := t.TempDir()
	dm := diskmgr.NewManager()
	_, err := dm.Open(1, dir+"/t1.tbl")
	require.NoError(t, err)
	pool, err := bufferpool.New(8, dm, nil)
	require.NoError(t, err)
	h, err := heap.Create(pool, 1, testSchema())
	require.NoError(t, err)
	return h
}

func row(id int32, name string) types.Tuple {
	nv, _ := types.CharValue(name, 16)
	return types.Tuple{Values: []types.Value{types.IntValue(id), nv}}
}

func TestInsertGetRoundTrip(t *testing.T) {
	h := newTestHeap(t)
	rid, err := h.Insert(row(1, "alice"))
	require.NoError(t, err)

	got, err := h.Get(rid)
	require.NoError(t, err)
	require.Equal(t, int32(1), got.Values[0].I)
	require.Equal(t, "alice", string(trimZero(got.Values[1].S)))
}

func TestDeleteRejoinsFreeList(t *testing.T) {
	h := newTestHeap(t)
	n := int(h.RecordsPerPage())

	rids := make([]types.Rid, 0, n)
	for i := 0; i < n; i++ {
		rid, err := h.Insert(row(int32(i), "x"))
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	// Page is now full; the next insert must allocate a second page.
	rid2, err := h.Insert(row(999, "overflow"))
	require.NoError(t, err)
	require.NotEqual(t, rids[0].PageNo, rid2.PageNo)

	// Deleting from the full first page must rejoin it to the free list.
	_, err = h.Delete(rids[0])
	require.NoError(t, err)

	rid3, err := h.Insert(row(1000, "reused"))
	require.NoError(t, err)
	require.Equal(t, rids[0].PageNo, rid3.PageNo, "delete on a full page should rejoin the free list for the next insert")
}

func TestUpdateInPlacePreservesRid(t *testing.T) {
	h := newTestHeap(t)
	rid, err := h.Insert(row(5, "bob"))
	require.NoError(t, err)

	require.NoError(t, h.Update(rid, row(5, "robert")))
	got, err := h.Get(rid)
	require.NoError(t, err)
	require.Equal(t, "robert", string(trimZero(got.Values[1].S)))
}

func TestScanVisitsAllOccupiedSlots(t *testing.T) {
	h := newTestHeap(t)
	const n = 50
	inserted := map[int32]bool{}
	for i := 0; i < n; i++ {
		_, err := h.Insert(row(int32(i), "r"))
		require.NoError(t, err)
		inserted[int32(i)] = true
	}

	cur := h.Scan()
	seen := map[int32]bool{}
	for {
		_, row, ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		seen[row.Values[0].I] = true
	}
	require.Equal(t, inserted, seen)
}

func trimZero(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return b[:i]
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
