// Package types holds the fixed-width column and tuple encoding shared by the
// Record Manager, Index Manager, and Executor Pipeline. The engine encodes
// fixed-width tuples only — no NULLs, no variable-length records (spec
// non-goals) — so every ColumnType has a static on-disk width.
package types

import "fmt"

// ColumnKind enumerates the recognized fixed-width column kinds.
type ColumnKind uint8

const (
	KindInt ColumnKind = iota
	KindFloat
	KindChar
	KindDate
)

func (k ColumnKind) String() string {
	switch k {
	case KindInt:
		return "INT"
	case KindFloat:
		return "FLOAT"
	case KindChar:
		return "CHAR"
	case KindDate:
		return "DATE"
	default:
		return fmt.Sprintf("ColumnKind(%d)", uint8(k))
	}
}

// IsNumeric reports whether values of this kind promote to float for
// cross-type comparison (spec §3: "Integer↔float comparisons promote the
// integer side").
func (k ColumnKind) IsNumeric() bool {
	return k == KindInt || k == KindFloat || k == KindDate
}

// ColumnDef describes one column: its kind and its fixed on-disk width.
// Len is meaningful only for KindChar; other kinds have an implicit fixed
// width (see ColumnDef.Width).
type ColumnDef struct {
	Name string
	Kind ColumnKind
	Len  int // byte width for KindChar; ignored otherwise
}

// Width returns the fixed number of bytes this column occupies in an encoded
// tuple.
func (c ColumnDef) Width() int {
	switch c.Kind {
	case KindInt, KindFloat, KindDate:
		return 4
	case KindChar:
		return c.Len
	default:
		return 0
	}
}

// Schema is an ordered list of column definitions, shared by the Record
// Manager (row width) and the Index Manager (composite key width).
type Schema struct {
	Columns []ColumnDef
}

// RowWidth returns the total fixed byte width of one encoded row.
func (s Schema) RowWidth() int {
	w := 0
	for _, c := range s.Columns {
		w += c.Width()
	}
	return w
}

// IndexOf returns the position of the named column, or -1 if absent.
func (s Schema) IndexOf(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Project builds the sub-schema for the named columns, in the given order —
// used to derive a B+-tree's composite key schema from its indexed columns.
func (s Schema) Project(names []string) (Schema, error) {
	out := Schema{Columns: make([]ColumnDef, 0, len(names))}
	for _, n := range names {
		i := s.IndexOf(n)
		if i < 0 {
			return Schema{}, fmt.Errorf("column %q not found in schema", n)
		}
		out.Columns = append(out.Columns, s.Columns[i])
	}
	return out, nil
}
