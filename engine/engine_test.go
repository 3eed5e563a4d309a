package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/engine"
	"relcore/exec"
	"relcore/types"
)

func schema() types.Schema {
	return types.Schema{Columns: []types.ColumnDef{
		{Name: "id", Kind: types.KindInt},
		{Name: "name", Kind: types.KindChar, Len: 16},
	}}
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.Open(engine.Config{DataDir: t.TempDir(), PoolCapacity: 32})
	require.NoError(t, err)
	require.NoError(t, e.CreateTable("people", schema(), []string{"id"}))
	require.NoError(t, e.CreateIndex("people_pk", "people", []string{"id"}))
	return e
}

func row(t *testing.T, id int32, name string) types.Tuple {
	t.Helper()
	nv, err := types.CharValue(name, 16)
	require.NoError(t, err)
	return types.Tuple{Values: []types.Value{types.IntValue(id), nv}}
}

func TestCreateTableAndIndexAreResolvable(t *testing.T) {
	e := newTestEngine(t)
	h, err := e.Table("people")
	require.NoError(t, err)
	require.NotNil(t, h)
	idx, err := e.Index("people_pk")
	require.NoError(t, err)
	require.NotNil(t, idx)
}

func TestInsertThenAbortRollsBackHeapAndIndex(t *testing.T) {
	e := newTestEngine(t)
	h, err := e.Table("people")
	require.NoError(t, err)
	bindings, err := e.IndexesOn("people")
	require.NoError(t, err)

	tr := e.Begin()
	src := singleRowExecutor{schema: schema(), row: row(t, 1, "alice")}
	ins := exec.NewInsert(&src, h, bindings, "people", tr)
	require.NoError(t, ins.Begin())

	idx, err := e.Index("people_pk")
	require.NoError(t, err)
	_, ok, err := idx.Get([]types.Value{types.IntValue(1)})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.Abort(tr))

	_, ok, err = idx.Get([]types.Value{types.IntValue(1)})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckpointSucceedsOnEmptyEngine(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Checkpoint(context.Background()))
}

// singleRowExecutor is a minimal one-row Executor for exercising Insert
// without pulling in the exec package's own test helpers (unexported,
// different package).
type singleRowExecutor struct {
	schema types.Schema
	row    types.Tuple
	pos    int
}

func (s *singleRowExecutor) Kind() exec.Kind        { return exec.KindSeqScan }
func (s *singleRowExecutor) Cols() types.Schema     { return s.schema }
func (s *singleRowExecutor) TupleLen() int          { return s.schema.RowWidth() }
func (s *singleRowExecutor) IsEnd() bool            { return s.pos > 0 }
func (s *singleRowExecutor) Current() types.Tuple   { return s.row }
func (s *singleRowExecutor) Rid() types.Rid         { return types.NilRid }
func (s *singleRowExecutor) Begin() error           { s.pos = 0; return nil }
func (s *singleRowExecutor) Next() error            { s.pos++; return nil }
