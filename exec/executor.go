// Package exec implements the volcano-style pull executor pipeline — spec §2
// component 6. Every operator satisfies the same narrow Executor interface;
// callers never type-assert down to a concrete operator to reach
// operator-specific state (spec's REDESIGN FLAGS: "tagged-union executor
// kind, no dynamic downcasting") — Kind() exists for diagnostics and
// logging, not control flow.
package exec

import (
	"relcore/types"
)

// Kind tags an operator's identity without exposing its concrete type.
type Kind uint8

const (
	KindSeqScan Kind = iota
	KindIndexScan
	KindNestedLoopJoin
	KindMergeJoin
	KindSort
	KindProjection
	KindAggregation
	KindInsert
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindSeqScan:
		return "SeqScan"
	case KindIndexScan:
		return "IndexScan"
	case KindNestedLoopJoin:
		return "NestedLoopJoin"
	case KindMergeJoin:
		return "MergeJoin"
	case KindSort:
		return "Sort"
	case KindProjection:
		return "Projection"
	case KindAggregation:
		return "Aggregation"
	case KindInsert:
		return "Insert"
	case KindUpdate:
		return "Update"
	case KindDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// Executor is the single-threaded pull interface every operator implements:
// Begin positions the operator on its first tuple (or immediately marks
// end-of-stream on an empty input); Next advances past the current tuple.
type Executor interface {
	Kind() Kind
	Cols() types.Schema
	TupleLen() int
	Begin() error
	Next() error
	IsEnd() bool
	Current() types.Tuple
	Rid() types.Rid
}

// Predicate re-checks or filters a single tuple.
type Predicate func(types.Tuple) (bool, error)

// JoinPredicate tests a candidate (left, right) pair for a join match.
type JoinPredicate func(left, right types.Tuple) (bool, error)

// concatTuples builds a join's output row: left's columns followed by
// right's.
func concatTuples(left, right types.Tuple) types.Tuple {
	out := make([]types.Value, 0, len(left.Values)+len(right.Values))
	out = append(out, left.Values...)
	out = append(out, right.Values...)
	return types.Tuple{Values: out}
}

func concatSchema(left, right types.Schema) types.Schema {
	cols := make([]types.ColumnDef, 0, len(left.Columns)+len(right.Columns))
	cols = append(cols, left.Columns...)
	cols = append(cols, right.Columns...)
	return types.Schema{Columns: cols}
}

// keyOf projects the columns at cols out of row, in order.
func keyOf(row types.Tuple, cols []int) []types.Value {
	out := make([]types.Value, len(cols))
	for i, c := range cols {
		out[i] = row.Values[c]
	}
	return out
}

// compareKeyVals compares two same-shaped value slices column by column.
func compareKeyVals(a, b []types.Value) (int, error) {
	for i := range a {
		c, err := types.Compare(a[i], b[i])
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}
