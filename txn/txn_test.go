package txn_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/txn"
	"relcore/types"
)

func TestBeginIssuesDistinctIDs(t *testing.T) {
	m := txn.NewManager()
	a := m.Begin()
	b := m.Begin()
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, txn.Active, a.State())
}

func TestCommitRunsHookThenMarksCommitted(t *testing.T) {
	m := txn.NewManager()
	tr := m.Begin()
	ran := false
	require.NoError(t, tr.Commit(func() error { ran = true; return nil }))
	require.True(t, ran)
	require.Equal(t, txn.Committed, tr.State())
}

func TestAbortAppliesUndoInReverseOrder(t *testing.T) {
	m := txn.NewManager()
	tr := m.Begin()

	require.NoError(t, tr.RecordInsert("t", types.Rid{PageNo: 1, SlotNo: 0}))
	require.NoError(t, tr.RecordDelete("t", types.Rid{PageNo: 1, SlotNo: 1}, types.Tuple{Values: []types.Value{types.IntValue(9)}}))
	require.NoError(t, tr.RecordUpdate("t", types.Rid{PageNo: 1, SlotNo: 2},
		types.Tuple{Values: []types.Value{types.IntValue(1)}},
		types.Tuple{Values: []types.Value{types.IntValue(2)}}))

	var seenOrder []txn.WriteKind
	err := tr.Abort(func(rec txn.WriteRecord) error {
		seenOrder = append(seenOrder, rec.Kind)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []txn.WriteKind{txn.WriteUpdate, txn.WriteDelete, txn.WriteInsert}, seenOrder)
	require.Equal(t, txn.Aborted, tr.State())
}

func TestCannotRecordAfterCommit(t *testing.T) {
	m := txn.NewManager()
	tr := m.Begin()
	require.NoError(t, tr.Commit(nil))
	err := tr.RecordInsert("t", types.Rid{PageNo: 0, SlotNo: 0})
	require.Error(t, err)
}
