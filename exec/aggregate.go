package exec

import (
	"math"

	"github.com/cespare/xxhash/v2"

	"relcore/types"
)

// AggFuncKind selects the aggregate applied to one output column.
type AggFuncKind uint8

const (
	AggCount     AggFuncKind = iota // COUNT(col): there are no NULLs, so this counts all rows in the group
	AggCountStar                    // COUNT(*)
	AggMin
	AggMax
	AggSum
)

// AggSpec is one aggregate expression: AggFuncKind applied to Col (ignored
// for AggCountStar).
type AggSpec struct {
	Fn  AggFuncKind
	Col int
}

// aggState accumulates one AggSpec's running value across a group.
type aggState struct {
	spec    AggSpec
	count   int64
	sum     float64
	sumIsF  bool
	minMax  types.Value
	hasVal  bool
}

func newAggState(spec AggSpec) *aggState {
	return &aggState{spec: spec}
}

func (a *aggState) add(row types.Tuple) error {
	a.count++
	if a.spec.Fn == AggCountStar || a.spec.Fn == AggCount {
		return nil
	}
	v := row.Values[a.spec.Col]
	switch a.spec.Fn {
	case AggSum:
		f, isF := numericFloat(v)
		a.sum += f
		if isF {
			a.sumIsF = true
		}
	case AggMin:
		if !a.hasVal {
			a.minMax, a.hasVal = v, true
			return nil
		}
		c, err := types.Compare(v, a.minMax)
		if err != nil {
			return err
		}
		if c < 0 {
			a.minMax = v
		}
	case AggMax:
		if !a.hasVal {
			a.minMax, a.hasVal = v, true
			return nil
		}
		c, err := types.Compare(v, a.minMax)
		if err != nil {
			return err
		}
		if c > 0 {
			a.minMax = v
		}
	}
	return nil
}

func numericFloat(v types.Value) (float64, bool) {
	switch v.Kind {
	case types.KindFloat:
		return float64(v.F), true
	default:
		return float64(v.I), false
	}
}

func (a *aggState) result() types.Value {
	switch a.spec.Fn {
	case AggCount, AggCountStar:
		return types.IntValue(int32(a.count))
	case AggSum:
		if a.sumIsF {
			return types.FloatValue(float32(a.sum))
		}
		return types.IntValue(int32(math.Round(a.sum)))
	case AggMin, AggMax:
		if !a.hasVal {
			return types.IntValue(0)
		}
		return a.minMax
	default:
		return types.IntValue(0)
	}
}

// Aggregation groups its child's rows by groupCols and computes aggSpecs per
// group, optionally filtered by having. Group keys are hashed with xxhash to
// bucket candidate groups; bucket collisions are resolved by comparing the
// actual key values, since a 64-bit hash alone can't rule out a false match.
type Aggregation struct {
	child     Executor
	groupCols []int
	aggSpecs  []AggSpec
	having    Predicate
	keySchema types.Schema
	schema    types.Schema

	buckets map[uint64][]int // hash -> indices into groups
	groups  []groupEntry

	rows []types.Tuple
	pos  int
	done bool
}

type groupEntry struct {
	key   []types.Value
	aggs  []*aggState
}

func NewAggregation(child Executor, groupCols []int, aggSpecs []AggSpec, having Predicate, outSchema types.Schema) *Aggregation {
	keyCols := make([]types.ColumnDef, len(groupCols))
	childCols := child.Cols().Columns
	for i, c := range groupCols {
		keyCols[i] = childCols[c]
	}
	return &Aggregation{
		child:     child,
		groupCols: groupCols,
		aggSpecs:  aggSpecs,
		having:    having,
		keySchema: types.Schema{Columns: keyCols},
		schema:    outSchema,
	}
}

func (a *Aggregation) Kind() Kind          { return KindAggregation }
func (a *Aggregation) Cols() types.Schema  { return a.schema }
func (a *Aggregation) TupleLen() int       { return a.schema.RowWidth() }
func (a *Aggregation) IsEnd() bool         { return a.done }
func (a *Aggregation) Current() types.Tuple { return a.rows[a.pos] }
func (a *Aggregation) Rid() types.Rid      { return types.NilRid }

func (a *Aggregation) Begin() error {
	if err := a.child.Begin(); err != nil {
		return err
	}
	a.buckets = make(map[uint64][]int)
	a.groups = nil

	for !a.child.IsEnd() {
		row := a.child.Current()
		key := keyOf(row, a.groupCols)
		idx, err := a.findOrCreateGroup(key)
		if err != nil {
			return err
		}
		g := &a.groups[idx]
		for _, agg := range g.aggs {
			if err := agg.add(row); err != nil {
				return err
			}
		}
		if err := a.child.Next(); err != nil {
			return err
		}
	}

	a.rows = nil
	if len(a.groupCols) == 0 && len(a.groups) == 0 {
		// Scalar aggregate over an empty input still emits one row of
		// zero-valued/identity aggregates.
		g := a.newGroup(nil)
		a.groups = append(a.groups, g)
	}
	for _, g := range a.groups {
		out := make([]types.Value, 0, len(g.key)+len(g.aggs))
		out = append(out, g.key...)
		for _, agg := range g.aggs {
			out = append(out, agg.result())
		}
		row := types.Tuple{Values: out}
		if a.having != nil {
			ok, err := a.having(row)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}
		a.rows = append(a.rows, row)
	}
	a.pos = 0
	a.done = len(a.rows) == 0
	return nil
}

func (a *Aggregation) Next() error {
	a.pos++
	if a.pos >= len(a.rows) {
		a.done = true
	}
	return nil
}

func (a *Aggregation) newGroup(key []types.Value) groupEntry {
	aggs := make([]*aggState, len(a.aggSpecs))
	for i, spec := range a.aggSpecs {
		aggs[i] = newAggState(spec)
	}
	return groupEntry{key: key, aggs: aggs}
}

func (a *Aggregation) findOrCreateGroup(key []types.Value) (int, error) {
	buf, err := types.EncodeTuple(a.keySchema, key)
	if err != nil {
		return 0, err
	}
	h := xxhash.Sum64(buf)
	for _, idx := range a.buckets[h] {
		existing := a.groups[idx].key
		same := true
		for i := range key {
			c, err := types.Compare(key[i], existing[i])
			if err != nil {
				return 0, err
			}
			if c != 0 {
				same = false
				break
			}
		}
		if same {
			return idx, nil
		}
	}
	a.groups = append(a.groups, a.newGroup(key))
	idx := len(a.groups) - 1
	a.buckets[h] = append(a.buckets[h], idx)
	return idx, nil
}
