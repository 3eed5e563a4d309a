package exec

import (
	boom "github.com/tylertreat/BoomFilters"

	"relcore/storage/heap"
	"relcore/storage/index"
	"relcore/txn"
	"relcore/types"
)

// IndexBinding pairs one index over a table with the row-column positions
// its composite key is drawn from — enough for a DML executor to keep every
// index on the table in sync with the heap. Bloom, when non-nil, is the
// index's point-lookup filter (populated here on insert, consulted by
// IndexScan; never populated on delete, so it degrades gracefully toward
// "maybe present" rather than ever producing a false negative).
type IndexBinding struct {
	Idx   *index.Index
	Cols  []int
	Bloom *boom.BloomFilter
}

func indexKey(row types.Tuple, ib IndexBinding) []types.Value {
	return keyOf(row, ib.Cols)
}

// addToBloom records key in ib's filter, if it has one.
func addToBloom(ib IndexBinding, key []types.Value) error {
	if ib.Bloom == nil {
		return nil
	}
	encoded, err := ib.Idx.EncodeKey(key)
	if err != nil {
		return err
	}
	ib.Bloom.Add(encoded)
	return nil
}

// summaryTuple is the single row a DML executor emits: one INT column
// holding the number of rows affected.
func summaryTuple(n int) types.Tuple {
	return types.Tuple{Values: []types.Value{types.IntValue(int32(n))}}
}

var summarySchema = types.Schema{Columns: []types.ColumnDef{{Name: "affected", Kind: types.KindInt}}}

// Insert drains its child (the row source — typically a literal-values
// producer), inserting each row into the heap and every bound index, then
// emits a single summary row with the count inserted. Each insert is
// recorded on tx so abort can undo it.
type Insert struct {
	child   Executor
	h       *heap.Heap
	indexes []IndexBinding
	table   string
	tx      *txn.Transaction

	summary types.Tuple
	done    bool
}

func NewInsert(child Executor, h *heap.Heap, indexes []IndexBinding, table string, tx *txn.Transaction) *Insert {
	return &Insert{child: child, h: h, indexes: indexes, table: table, tx: tx}
}

func (e *Insert) Kind() Kind          { return KindInsert }
func (e *Insert) Cols() types.Schema  { return summarySchema }
func (e *Insert) TupleLen() int       { return summarySchema.RowWidth() }
func (e *Insert) IsEnd() bool         { return e.done }
func (e *Insert) Current() types.Tuple { return e.summary }
func (e *Insert) Rid() types.Rid      { return types.NilRid }
func (e *Insert) Next() error         { e.done = true; return nil }

func (e *Insert) Begin() error {
	if err := e.child.Begin(); err != nil {
		return err
	}
	n := 0
	for !e.child.IsEnd() {
		row := e.child.Current()
		rid, err := e.h.Insert(row)
		if err != nil {
			return err
		}
		for _, ib := range e.indexes {
			key := indexKey(row, ib)
			if err := ib.Idx.InsertEntry(key, rid); err != nil {
				return err
			}
			if err := addToBloom(ib, key); err != nil {
				return err
			}
		}
		if e.tx != nil {
			if err := e.tx.RecordInsert(e.table, rid); err != nil {
				return err
			}
		}
		n++
		if err := e.child.Next(); err != nil {
			return err
		}
	}
	e.summary = summaryTuple(n)
	e.done = false
	return nil
}

// Delete drains its child, removing each matched row from the heap and every
// bound index, then emits a single summary row with the count deleted.
type Delete struct {
	child   Executor
	h       *heap.Heap
	indexes []IndexBinding
	table   string
	tx      *txn.Transaction

	summary types.Tuple
	done    bool
}

func NewDelete(child Executor, h *heap.Heap, indexes []IndexBinding, table string, tx *txn.Transaction) *Delete {
	return &Delete{child: child, h: h, indexes: indexes, table: table, tx: tx}
}

func (e *Delete) Kind() Kind          { return KindDelete }
func (e *Delete) Cols() types.Schema  { return summarySchema }
func (e *Delete) TupleLen() int       { return summarySchema.RowWidth() }
func (e *Delete) IsEnd() bool         { return e.done }
func (e *Delete) Current() types.Tuple { return e.summary }
func (e *Delete) Rid() types.Rid      { return types.NilRid }
func (e *Delete) Next() error         { e.done = true; return nil }

func (e *Delete) Begin() error {
	if err := e.child.Begin(); err != nil {
		return err
	}
	// Materialize (rid, row) first: the child may be a SeqScan/IndexScan
	// reading the very heap we're about to mutate mid-scan.
	type victim struct {
		rid types.Rid
		row types.Tuple
	}
	var victims []victim
	for !e.child.IsEnd() {
		victims = append(victims, victim{rid: e.child.Rid(), row: e.child.Current().Clone()})
		if err := e.child.Next(); err != nil {
			return err
		}
	}

	for _, v := range victims {
		for _, ib := range e.indexes {
			if err := ib.Idx.DeleteEntry(indexKey(v.row, ib)); err != nil {
				return err
			}
		}
		before, err := e.h.Delete(v.rid)
		if err != nil {
			return err
		}
		if e.tx != nil {
			if err := e.tx.RecordDelete(e.table, v.rid, before); err != nil {
				return err
			}
		}
	}
	e.summary = summaryTuple(len(victims))
	e.done = false
	return nil
}

// updatePlan is one row's before/after image, computed by applying set to
// the row the child produced.
type updatePlan struct {
	rid    types.Rid
	old    types.Tuple
	newRow types.Tuple
}

// Update drains its child, computes each row's new image via set, and
// applies the batch in two phases so that rows swapping key values within
// the same batch never trip a spurious duplicate-key rejection: phase 1
// removes every old index entry across the whole batch, then phase 2 applies
// the heap updates and inserts the new index entries, where InsertEntry
// rejects any new key that collides with an entry still in the index.
type Update struct {
	child   Executor
	h       *heap.Heap
	indexes []IndexBinding
	set     func(types.Tuple) (types.Tuple, error)
	table   string
	tx      *txn.Transaction

	summary types.Tuple
	done    bool
}

func NewUpdate(child Executor, h *heap.Heap, indexes []IndexBinding, set func(types.Tuple) (types.Tuple, error), table string, tx *txn.Transaction) *Update {
	return &Update{child: child, h: h, indexes: indexes, set: set, table: table, tx: tx}
}

func (e *Update) Kind() Kind          { return KindUpdate }
func (e *Update) Cols() types.Schema  { return summarySchema }
func (e *Update) TupleLen() int       { return summarySchema.RowWidth() }
func (e *Update) IsEnd() bool         { return e.done }
func (e *Update) Current() types.Tuple { return e.summary }
func (e *Update) Rid() types.Rid      { return types.NilRid }
func (e *Update) Next() error         { e.done = true; return nil }

func (e *Update) Begin() error {
	if err := e.child.Begin(); err != nil {
		return err
	}

	var plans []updatePlan
	for !e.child.IsEnd() {
		old := e.child.Current().Clone()
		newRow, err := e.set(old)
		if err != nil {
			return err
		}
		plans = append(plans, updatePlan{rid: e.child.Rid(), old: old, newRow: newRow})
		if err := e.child.Next(); err != nil {
			return err
		}
	}

	// Phase 1: remove every old index entry in the batch.
	for _, p := range plans {
		for _, ib := range e.indexes {
			if err := ib.Idx.DeleteEntry(indexKey(p.old, ib)); err != nil {
				return err
			}
		}
	}

	// Phase 2: apply the heap update, then insert new index entries. Any
	// duplicate-key collision against a row outside this batch surfaces
	// here as InsertEntry's own duplicate check.
	for _, p := range plans {
		if err := e.h.Update(p.rid, p.newRow); err != nil {
			return err
		}
		for _, ib := range e.indexes {
			key := indexKey(p.newRow, ib)
			if err := ib.Idx.InsertEntry(key, p.rid); err != nil {
				return err
			}
			if err := addToBloom(ib, key); err != nil {
				return err
			}
		}
		if e.tx != nil {
			if err := e.tx.RecordUpdate(e.table, p.rid, p.old, p.newRow); err != nil {
				return err
			}
		}
	}

	e.summary = summaryTuple(len(plans))
	e.done = false
	return nil
}
