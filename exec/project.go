package exec

import "relcore/types"

// Projection re-orders/narrows a child's columns lazily, one row at a time.
type Projection struct {
	child  Executor
	cols   []int
	schema types.Schema
}

func NewProjection(child Executor, cols []int, schema types.Schema) *Projection {
	return &Projection{child: child, cols: cols, schema: schema}
}

func (p *Projection) Kind() Kind          { return KindProjection }
func (p *Projection) Cols() types.Schema  { return p.schema }
func (p *Projection) TupleLen() int       { return p.schema.RowWidth() }
func (p *Projection) IsEnd() bool         { return p.child.IsEnd() }
func (p *Projection) Rid() types.Rid      { return p.child.Rid() }

func (p *Projection) Current() types.Tuple {
	return types.Tuple{Values: keyOf(p.child.Current(), p.cols)}
}

func (p *Projection) Begin() error { return p.child.Begin() }
func (p *Projection) Next() error  { return p.child.Next() }
