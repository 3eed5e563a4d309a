package exec

import "relcore/types"

// NestedLoopJoin re-opens a fresh right-hand child (via rightFactory) for
// every left-hand row, matching pred against each candidate pair. This is
// the fallback join strategy when neither side is usefully ordered or
// indexed.
type NestedLoopJoin struct {
	left         Executor
	rightFactory func() (Executor, error)
	pred         JoinPredicate
	schema       types.Schema

	right  Executor
	curRow types.Tuple
	done   bool
}

func NewNestedLoopJoin(left Executor, rightFactory func() (Executor, error), pred JoinPredicate) *NestedLoopJoin {
	return &NestedLoopJoin{left: left, rightFactory: rightFactory, pred: pred}
}

func (j *NestedLoopJoin) Kind() Kind          { return KindNestedLoopJoin }
func (j *NestedLoopJoin) Cols() types.Schema  { return concatSchema(j.left.Cols(), j.rightSchemaHint()) }
func (j *NestedLoopJoin) TupleLen() int       { return j.Cols().RowWidth() }
func (j *NestedLoopJoin) IsEnd() bool         { return j.done }
func (j *NestedLoopJoin) Current() types.Tuple { return j.curRow }
func (j *NestedLoopJoin) Rid() types.Rid      { return types.NilRid }

// rightSchemaHint peeks at a throwaway right-hand executor purely to expose
// the joined output schema before Begin runs.
func (j *NestedLoopJoin) rightSchemaHint() types.Schema {
	if j.schema.Columns != nil {
		return j.schema
	}
	r, err := j.rightFactory()
	if err != nil {
		return types.Schema{}
	}
	return r.Cols()
}

func (j *NestedLoopJoin) Begin() error {
	if err := j.left.Begin(); err != nil {
		return err
	}
	j.schema = concatSchema(j.left.Cols(), j.rightSchemaHint())
	if j.left.IsEnd() {
		j.done = true
		return nil
	}
	right, err := j.rightFactory()
	if err != nil {
		return err
	}
	j.right = right
	if err := j.right.Begin(); err != nil {
		return err
	}
	return j.advance()
}

func (j *NestedLoopJoin) Next() error { return j.advance() }

func (j *NestedLoopJoin) advance() error {
	for {
		if j.right.IsEnd() {
			if err := j.left.Next(); err != nil {
				return err
			}
			if j.left.IsEnd() {
				j.done = true
				return nil
			}
			right, err := j.rightFactory()
			if err != nil {
				return err
			}
			j.right = right
			if err := j.right.Begin(); err != nil {
				return err
			}
			continue
		}
		match, err := j.pred(j.left.Current(), j.right.Current())
		if err != nil {
			return err
		}
		if match {
			j.curRow = concatTuples(j.left.Current(), j.right.Current())
			if err := j.right.Next(); err != nil {
				return err
			}
			return nil
		}
		if err := j.right.Next(); err != nil {
			return err
		}
	}
}

// MergeJoin joins two inputs already sorted ascending by their respective
// join-key columns (via an upstream Sort, or an index-ordered scan — spec's
// "index-ordered shortcut"). Right-hand rows sharing a key are buffered once
// so repeated left-hand matches on the same key don't re-scan the input.
type MergeJoin struct {
	left, right           Executor
	leftKeyCols, rightKeyCols []int
	schema                types.Schema

	groupValid  bool
	groupKey    []types.Value
	rightGroup  []types.Tuple
	posInGroup  int
	curRow      types.Tuple
	done        bool
}

func NewMergeJoin(left, right Executor, leftKeyCols, rightKeyCols []int) *MergeJoin {
	return &MergeJoin{left: left, right: right, leftKeyCols: leftKeyCols, rightKeyCols: rightKeyCols}
}

func (j *MergeJoin) Kind() Kind          { return KindMergeJoin }
func (j *MergeJoin) Cols() types.Schema  { return j.schema }
func (j *MergeJoin) TupleLen() int       { return j.schema.RowWidth() }
func (j *MergeJoin) IsEnd() bool         { return j.done }
func (j *MergeJoin) Current() types.Tuple { return j.curRow }
func (j *MergeJoin) Rid() types.Rid      { return types.NilRid }

func (j *MergeJoin) Begin() error {
	if err := j.left.Begin(); err != nil {
		return err
	}
	if err := j.right.Begin(); err != nil {
		return err
	}
	j.schema = concatSchema(j.left.Cols(), j.right.Cols())
	j.groupValid = false
	j.rightGroup = nil
	j.done = false
	return j.advance()
}

func (j *MergeJoin) Next() error { return j.advance() }

func (j *MergeJoin) advance() error {
	for {
		if j.groupValid && j.posInGroup < len(j.rightGroup) {
			j.curRow = concatTuples(j.left.Current(), j.rightGroup[j.posInGroup])
			j.posInGroup++
			return nil
		}
		if j.groupValid {
			if err := j.left.Next(); err != nil {
				return err
			}
			if j.left.IsEnd() {
				j.done = true
				j.groupValid = false
				return nil
			}
			c, err := compareKeyVals(keyOf(j.left.Current(), j.leftKeyCols), j.groupKey)
			if err != nil {
				return err
			}
			if c == 0 {
				j.posInGroup = 0
				continue
			}
			j.groupValid = false
			continue
		}

		if j.left.IsEnd() || j.right.IsEnd() {
			j.done = true
			return nil
		}
		lk := keyOf(j.left.Current(), j.leftKeyCols)
		rk := keyOf(j.right.Current(), j.rightKeyCols)
		c, err := compareKeyVals(lk, rk)
		if err != nil {
			return err
		}
		switch {
		case c < 0:
			if err := j.left.Next(); err != nil {
				return err
			}
		case c > 0:
			if err := j.right.Next(); err != nil {
				return err
			}
		default:
			j.groupKey = rk
			j.rightGroup = j.rightGroup[:0]
			for !j.right.IsEnd() {
				rk2 := keyOf(j.right.Current(), j.rightKeyCols)
				cc, err := compareKeyVals(rk2, j.groupKey)
				if err != nil {
					return err
				}
				if cc != 0 {
					break
				}
				j.rightGroup = append(j.rightGroup, j.right.Current().Clone())
				if err := j.right.Next(); err != nil {
					return err
				}
			}
			j.groupValid = true
			j.posInGroup = 0
		}
	}
}
