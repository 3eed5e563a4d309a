package exec

import (
	"github.com/pkg/errors"
	boom "github.com/tylertreat/BoomFilters"

	"relcore/relerr"
	"relcore/storage/heap"
	"relcore/storage/index"
	"relcore/types"
)

// SeqScan pulls every row in a heap in physical (page, slot) order,
// re-checking pred against each candidate.
type SeqScan struct {
	h      *heap.Heap
	schema types.Schema
	pred   Predicate

	cur    *heap.Cursor
	curRid types.Rid
	curRow types.Tuple
	done   bool
}

func NewSeqScan(h *heap.Heap, schema types.Schema, pred Predicate) *SeqScan {
	return &SeqScan{h: h, schema: schema, pred: pred}
}

func (s *SeqScan) Kind() Kind          { return KindSeqScan }
func (s *SeqScan) Cols() types.Schema  { return s.schema }
func (s *SeqScan) TupleLen() int       { return s.schema.RowWidth() }
func (s *SeqScan) IsEnd() bool         { return s.done }
func (s *SeqScan) Current() types.Tuple { return s.curRow }
func (s *SeqScan) Rid() types.Rid      { return s.curRid }

func (s *SeqScan) Begin() error {
	s.cur = s.h.Scan()
	s.done = false
	return s.advance()
}

func (s *SeqScan) Next() error { return s.advance() }

func (s *SeqScan) advance() error {
	for {
		rid, row, ok, err := s.cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			s.done = true
			return nil
		}
		if s.pred != nil {
			match, err := s.pred(row)
			if err != nil {
				return err
			}
			if !match {
				continue
			}
		}
		s.curRid, s.curRow = rid, row
		return nil
	}
}

// Operator is a single-column comparison operator a WHERE-clause predicate
// can carry — the vocabulary IndexScan's bound-builder recognizes.
type Operator uint8

const (
	OpEq Operator = iota
	OpLt
	OpLe
	OpGt
	OpGe
	OpNe
)

// ColumnPredicate is one condition against a named column, matched to an
// index's key columns by name rather than position — spec §9's open
// question on IndexScan predicate-to-column matching resolves that way
// since predicates need not arrive in index-column order.
type ColumnPredicate struct {
	Column string
	Op     Operator
	Value  types.Value
}

// BuildIndexBounds builds the composite lower and upper key spec §4.5
// describes for IndexScan: `=` fixes both sides, `<`/`<=` fixes the upper
// and floors the lower at the column's type minimum, `>`/`>=` is the mirror
// image, `!=` and any index column with no matching predicate span the full
// type range. preds may also name columns outside idxSchema; those are
// ignored here and left for recheckPredicate to enforce.
func BuildIndexBounds(idxSchema types.Schema, preds []ColumnPredicate) (lower, upper []types.Value) {
	lower = make([]types.Value, len(idxSchema.Columns))
	upper = make([]types.Value, len(idxSchema.Columns))
	for i, col := range idxSchema.Columns {
		lower[i] = types.MinValue(col)
		upper[i] = types.MaxValue(col)
		for _, p := range preds {
			if p.Column != col.Name {
				continue
			}
			switch p.Op {
			case OpEq:
				lower[i], upper[i] = p.Value, p.Value
			case OpLt, OpLe:
				upper[i] = p.Value
			case OpGt, OpGe:
				lower[i] = p.Value
			case OpNe:
				// already spans the full range
			}
		}
	}
	return lower, upper
}

// evalColumnPredicate re-checks one predicate against a fetched row's
// decoded value for its named column.
func evalColumnPredicate(row types.Tuple, schema types.Schema, p ColumnPredicate) (bool, error) {
	i := schema.IndexOf(p.Column)
	if i < 0 {
		return false, errors.Wrapf(relerr.ErrInternal, "exec: predicate column %q not found in schema", p.Column)
	}
	c, err := types.Compare(row.Values[i], p.Value)
	if err != nil {
		return false, err
	}
	switch p.Op {
	case OpEq:
		return c == 0, nil
	case OpLt:
		return c < 0, nil
	case OpLe:
		return c <= 0, nil
	case OpGt:
		return c > 0, nil
	case OpGe:
		return c >= 0, nil
	case OpNe:
		return c != 0, nil
	default:
		return false, errors.Wrap(relerr.ErrInternal, "exec: unknown operator")
	}
}

// recheckPredicate compiles preds into the single conjunctive Predicate
// IndexScan re-checks against every fetched row (spec §4.5: "re-checks
// every predicate on the fetched row") — the composite key bound alone can
// only prune, never fully decide, since it degrades to "full range" on `!=`
// and on any column with no covering predicate.
func recheckPredicate(schema types.Schema, preds []ColumnPredicate) Predicate {
	if len(preds) == 0 {
		return nil
	}
	return func(row types.Tuple) (bool, error) {
		for _, p := range preds {
			ok, err := evalColumnPredicate(row, schema, p)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
}

// compareKeyValues compares two same-shaped composite key value lists
// column-by-column, the same convention the index package's own key
// comparator uses over the encoded wire form.
func compareKeyValues(a, b []types.Value) (int, error) {
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

// isPointLookup reports whether every column of lower/upper is pinned to
// the same value — i.e. every index column carries an `=` predicate, the
// only shape a Bloom-filter short-circuit can answer.
func isPointLookup(lower, upper []types.Value) bool {
	for i := range lower {
		if !types.Equal(lower[i], upper[i]) {
			return false
		}
	}
	return true
}

// IndexScan drives an ascending range scan through a B+-tree, fetching the
// matching heap row for each entry. Given the index's key columns and a set
// of predicates, it builds the composite [lower, upper] key bound spec
// §4.5 describes, then re-checks every predicate against each fetched row
// (the bound can over-include on multi-column keys and on `!=`).
type IndexScan struct {
	h         *heap.Heap
	idx       *index.Index
	schema    types.Schema
	idxCols   []int
	idxSchema types.Schema

	lower   []types.Value
	upper   []types.Value
	recheck Predicate
	bloom   *boom.BloomFilter // optional point-lookup "definitely absent" short-circuit

	cur    *index.Cursor
	curRid types.Rid
	curRow types.Tuple
	done   bool
}

// NewIndexScan builds a range scan over idx, whose composite key is drawn
// from schema's columns at idxCols, filtered by preds. bloom, if supplied,
// is consulted only when preds pin every index column to an exact value
// (an `=` on each), to skip the tree walk entirely on a definite miss.
func NewIndexScan(h *heap.Heap, idx *index.Index, schema types.Schema, idxCols []int, preds []ColumnPredicate, bloom *boom.BloomFilter) *IndexScan {
	idxSchema := types.Schema{Columns: make([]types.ColumnDef, len(idxCols))}
	for i, c := range idxCols {
		idxSchema.Columns[i] = schema.Columns[c]
	}
	lower, upper := BuildIndexBounds(idxSchema, preds)
	return &IndexScan{
		h: h, idx: idx, schema: schema, idxCols: idxCols, idxSchema: idxSchema,
		lower: lower, upper: upper, recheck: recheckPredicate(schema, preds), bloom: bloom,
	}
}

func (s *IndexScan) Kind() Kind          { return KindIndexScan }
func (s *IndexScan) Cols() types.Schema  { return s.schema }
func (s *IndexScan) TupleLen() int       { return s.schema.RowWidth() }
func (s *IndexScan) IsEnd() bool         { return s.done }
func (s *IndexScan) Current() types.Tuple { return s.curRow }
func (s *IndexScan) Rid() types.Rid      { return s.curRid }

func (s *IndexScan) Begin() error {
	s.done = false
	pointLookup := isPointLookup(s.lower, s.upper)
	if s.bloom != nil && pointLookup {
		key, err := s.idx.EncodeKey(s.lower)
		if err != nil {
			return err
		}
		if !s.bloom.Test(key) {
			s.done = true
			return nil
		}
	}

	allMin := true
	for i, col := range s.idxSchema.Columns {
		if !types.Equal(s.lower[i], types.MinValue(col)) {
			allMin = false
			break
		}
	}
	var cur *index.Cursor
	var err error
	if allMin {
		cur, err = s.idx.Begin()
	} else {
		cur, err = s.idx.LowerBound(s.lower)
	}
	if err != nil {
		return err
	}
	s.cur = cur
	return s.advance()
}

func (s *IndexScan) Next() error { return s.advance() }

func (s *IndexScan) advance() error {
	for {
		rid, ok, err := s.cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			s.done = true
			return nil
		}
		row, err := s.h.Get(rid)
		if err != nil {
			return err
		}

		rowKey := make([]types.Value, len(s.idxCols))
		for i, c := range s.idxCols {
			rowKey[i] = row.Values[c]
		}
		cmp, err := compareKeyValues(rowKey, s.upper)
		if err != nil {
			return err
		}
		if cmp > 0 {
			s.done = true
			return nil
		}

		if s.recheck != nil {
			ok, err := s.recheck(row)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}
		s.curRid, s.curRow = rid, row
		return nil
	}
}
