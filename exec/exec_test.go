package exec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/exec"
	"relcore/storage/bufferpool"
	"relcore/storage/diskmgr"
	"relcore/storage/heap"
	"relcore/storage/index"
	"relcore/types"
)

// literalRows is a trivial Executor over an in-memory slice, standing in for
// a values-list row source in DML tests and for pre-sorted join inputs.
type literalRows struct {
	schema types.Schema
	rows   []types.Tuple
	pos    int
}

func newLiteralRows(schema types.Schema, rows []types.Tuple) *literalRows {
	return &literalRows{schema: schema, rows: rows}
}

func (l *literalRows) Kind() exec.Kind        { return exec.KindSeqScan }
func (l *literalRows) Cols() types.Schema     { return l.schema }
func (l *literalRows) TupleLen() int          { return l.schema.RowWidth() }
func (l *literalRows) IsEnd() bool            { return l.pos >= len(l.rows) }
func (l *literalRows) Current() types.Tuple   { return l.rows[l.pos] }
func (l *literalRows) Rid() types.Rid         { return types.NilRid }
func (l *literalRows) Begin() error           { l.pos = 0; return nil }
func (l *literalRows) Next() error            { l.pos++; return nil }

func testSchema() types.Schema {
	return types.Schema{Columns: []types.ColumnDef{
		{Name: "id", Kind: types.KindInt},
		{Name: "name", Kind: types.KindChar, Len: 16},
	}}
}

func makeRow(t *testing.T, id int32, name string) types.Tuple {
	t.Helper()
	nv, err := types.CharValue(name, 16)
	require.NoError(t, err)
	return types.Tuple{Values: []types.Value{types.IntValue(id), nv}}
}

func newTestHeap(t *testing.T, fileID uint32, schema types.Schema) *heap.Heap {
	t.Helper()
	dir := t.TempDir()
	dm := diskmgr.NewManager()
	_, err := dm.Open(fileID, dir+"/t.tbl")
	require.NoError(t, err)
	pool, err := bufferpool.New(16, dm, nil)
	require.NoError(t, err)
	h, err := heap.Create(pool, fileID, schema)
	require.NoError(t, err)
	return h
}

func newTestIndex(t *testing.T, fileID uint32, keySchema types.Schema) *index.Index {
	t.Helper()
	dir := t.TempDir()
	dm := diskmgr.NewManager()
	_, err := dm.Open(fileID, dir+"/i.idx")
	require.NoError(t, err)
	pool, err := bufferpool.New(16, dm, nil)
	require.NoError(t, err)
	idx, err := index.Create(pool, fileID, keySchema)
	require.NoError(t, err)
	return idx
}

func drain(t *testing.T, e exec.Executor) []types.Tuple {
	t.Helper()
	require.NoError(t, e.Begin())
	var out []types.Tuple
	for !e.IsEnd() {
		out = append(out, e.Current().Clone())
		require.NoError(t, e.Next())
	}
	return out
}
