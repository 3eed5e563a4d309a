package exec

import (
	"relcore/storage/sort"
	"relcore/types"
)

// Closer is the optional resource-release hook an operator may satisfy — a
// callback pattern, not a type switch on concrete operators, so it doesn't
// reintroduce the downcasting this package otherwise avoids.
type Closer interface {
	Close() error
}

// Sort fully drains its child into an external merge sorter before serving
// any output, then streams rows back out in ascending key order.
type Sort struct {
	child   Executor
	sorter  *sort.ExternalSorter
	schema  types.Schema
	curRow  types.Tuple
	done    bool
}

func NewSort(child Executor, keyCols []int, memBudgetRows int, tmpDir string) *Sort {
	schema := child.Cols()
	return &Sort{
		child:  child,
		schema: schema,
		sorter: sort.New(schema, keyCols, memBudgetRows, tmpDir),
	}
}

func (s *Sort) Kind() Kind          { return KindSort }
func (s *Sort) Cols() types.Schema  { return s.schema }
func (s *Sort) TupleLen() int       { return s.schema.RowWidth() }
func (s *Sort) IsEnd() bool         { return s.done }
func (s *Sort) Current() types.Tuple { return s.curRow }
func (s *Sort) Rid() types.Rid      { return types.NilRid }

func (s *Sort) Begin() error {
	if err := s.child.Begin(); err != nil {
		return err
	}
	for !s.child.IsEnd() {
		if err := s.sorter.Write(s.child.Current()); err != nil {
			return err
		}
		if err := s.child.Next(); err != nil {
			return err
		}
	}
	if err := s.sorter.EndWrite(); err != nil {
		return err
	}
	if err := s.sorter.BeginRead(); err != nil {
		return err
	}
	return s.Next()
}

func (s *Sort) Next() error {
	if s.sorter.IsEnd() {
		s.done = true
		return nil
	}
	row, err := s.sorter.Read()
	if err != nil {
		return err
	}
	s.curRow = row
	return nil
}

// Close releases the sorter's mmap'd run files. Callers that own a Sort
// should check for this via the Closer interface once they're done pulling
// from it.
func (s *Sort) Close() error {
	return s.sorter.Close()
}
