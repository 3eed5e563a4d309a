package types

import (
	"github.com/pkg/errors"
	"relcore/relerr"
)

// Tuple is a decoded row: one Value per column of some Schema.
type Tuple struct {
	Values []Value
}

// EncodeTuple packs values into the schema's fixed-width wire format.
func EncodeTuple(schema Schema, values []Value) ([]byte, error) {
	if len(values) != len(schema.Columns) {
		return nil, errors.Wrapf(relerr.ErrInvalidValueCount, "expected %d values, got %d", len(schema.Columns), len(values))
	}
	buf := make([]byte, schema.RowWidth())
	off := 0
	for i, col := range schema.Columns {
		w := col.Width()
		if err := Encode(values[i], col, buf[off:off+w]); err != nil {
			return nil, err
		}
		off += w
	}
	return buf, nil
}

// DecodeTuple unpacks a fixed-width row into a Tuple.
func DecodeTuple(schema Schema, buf []byte) (Tuple, error) {
	if len(buf) != schema.RowWidth() {
		return Tuple{}, errors.Errorf("row buffer width %d does not match schema width %d", len(buf), schema.RowWidth())
	}
	values := make([]Value, len(schema.Columns))
	off := 0
	for i, col := range schema.Columns {
		w := col.Width()
		values[i] = Decode(buf[off:off+w], col)
		off += w
	}
	return Tuple{Values: values}, nil
}

// Clone returns a deep copy of the tuple's byte-backed values.
func (t Tuple) Clone() Tuple {
	out := Tuple{Values: make([]Value, len(t.Values))}
	for i, v := range t.Values {
		nv := v
		if v.Kind == KindChar {
			nv.S = append([]byte(nil), v.S...)
		}
		out.Values[i] = nv
	}
	return out
}
