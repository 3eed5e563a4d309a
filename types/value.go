package types

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"relcore/relerr"
)

// Value is the in-memory representation of one encoded column value. Only one
// of the fields is meaningful, selected by Kind.
type Value struct {
	Kind ColumnKind
	I    int32
	F    float32
	S    []byte // fixed-width, zero-padded for KindChar
}

func IntValue(v int32) Value   { return Value{Kind: KindInt, I: v} }
func FloatValue(v float32) Value { return Value{Kind: KindFloat, F: v} }
func DateValue(v int32) Value  { return Value{Kind: KindDate, I: v} }

// CharValue zero-pads or truncates-checks s to width n, per spec §3
// ("fixed-length byte string, zero-padded").
func CharValue(s string, n int) (Value, error) {
	if len(s) > n {
		return Value{}, errors.Wrapf(relerr.ErrStringOverflow, "value %q wider than column width %d", s, n)
	}
	buf := make([]byte, n)
	copy(buf, s)
	return Value{Kind: KindChar, S: buf}, nil
}

// MinValue returns the smallest value col's kind can represent — the lower
// bound an unconstrained or range-open column widens to when an IndexScan
// builds a composite key (spec §4.5).
func MinValue(col ColumnDef) Value {
	switch col.Kind {
	case KindInt:
		return Value{Kind: KindInt, I: math.MinInt32}
	case KindFloat:
		return Value{Kind: KindFloat, F: -math.MaxFloat32}
	case KindDate:
		return Value{Kind: KindDate, I: 0}
	case KindChar:
		return Value{Kind: KindChar, S: make([]byte, col.Len)}
	default:
		return Value{}
	}
}

// MaxValue returns the largest value col's kind can represent — the mirror
// image of MinValue.
func MaxValue(col ColumnDef) Value {
	switch col.Kind {
	case KindInt:
		return Value{Kind: KindInt, I: math.MaxInt32}
	case KindFloat:
		return Value{Kind: KindFloat, F: math.MaxFloat32}
	case KindDate:
		return Value{Kind: KindDate, I: math.MaxInt32}
	case KindChar:
		buf := make([]byte, col.Len)
		for i := range buf {
			buf[i] = 0xFF
		}
		return Value{Kind: KindChar, S: buf}
	default:
		return Value{}
	}
}

// PackDate encodes a (year, month, day) triple the way spec §3 requires:
// (year<<9)|(month<<5)|day.
func PackDate(year, month, day int) int32 {
	return int32(year<<9 | month<<5 | day)
}

// UnpackDate reverses PackDate.
func UnpackDate(v int32) (year, month, day int) {
	day = int(v & 0x1F)
	month = int((v >> 5) & 0xF)
	year = int(v >> 9)
	return
}

// Encode writes v into buf (which must be exactly col.Width() bytes) in the
// engine's little-endian fixed-width wire format.
func Encode(v Value, col ColumnDef, buf []byte) error {
	switch col.Kind {
	case KindInt, KindDate:
		if v.Kind != col.Kind {
			return errors.Wrapf(relerr.ErrIncompatibleType, "column %s expects %s, got %s", col.Name, col.Kind, v.Kind)
		}
		binary.LittleEndian.PutUint32(buf, uint32(v.I))
	case KindFloat:
		if v.Kind != KindFloat {
			return errors.Wrapf(relerr.ErrIncompatibleType, "column %s expects FLOAT, got %s", col.Name, v.Kind)
		}
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v.F))
	case KindChar:
		if v.Kind != KindChar {
			return errors.Wrapf(relerr.ErrIncompatibleType, "column %s expects CHAR, got %s", col.Name, v.Kind)
		}
		if len(v.S) > col.Len {
			return errors.Wrapf(relerr.ErrStringOverflow, "column %s width %d, value width %d", col.Name, col.Len, len(v.S))
		}
		for i := range buf {
			buf[i] = 0
		}
		copy(buf, v.S)
	default:
		return errors.Wrapf(relerr.ErrInternal, "unknown column kind %v", col.Kind)
	}
	return nil
}

// Decode reads a Value out of buf (exactly col.Width() bytes) per col.Kind.
func Decode(buf []byte, col ColumnDef) Value {
	switch col.Kind {
	case KindInt:
		return Value{Kind: KindInt, I: int32(binary.LittleEndian.Uint32(buf))}
	case KindDate:
		return Value{Kind: KindDate, I: int32(binary.LittleEndian.Uint32(buf))}
	case KindFloat:
		return Value{Kind: KindFloat, F: math.Float32frombits(binary.LittleEndian.Uint32(buf))}
	case KindChar:
		s := make([]byte, len(buf))
		copy(s, buf)
		return Value{Kind: KindChar, S: s}
	default:
		return Value{}
	}
}

// Compare implements the comparator from spec §3: integer/float/date promote
// the integer side to float; strings compare lexicographically byte-by-byte;
// string vs. numeric is a type-mismatch error.
func Compare(a, b Value) (int, error) {
	if a.Kind == KindChar || b.Kind == KindChar {
		if a.Kind != b.Kind {
			return 0, errors.Wrap(relerr.ErrIncompatibleType, "cannot compare string to numeric")
		}
		n := len(a.S)
		if len(b.S) < n {
			n = len(b.S)
		}
		for i := 0; i < n; i++ {
			if a.S[i] != b.S[i] {
				if a.S[i] < b.S[i] {
					return -1, nil
				}
				return 1, nil
			}
		}
		switch {
		case len(a.S) < len(b.S):
			return -1, nil
		case len(a.S) > len(b.S):
			return 1, nil
		default:
			return 0, nil
		}
	}

	// Numeric family: int, float, date. Date values compare as their packed
	// int32 encoding, consistent with ordering by (year, month, day).
	af, aIsFloat := numericAsFloat(a)
	bf, bIsFloat := numericAsFloat(b)
	_ = aIsFloat
	_ = bIsFloat
	switch {
	case af < bf:
		return -1, nil
	case af > bf:
		return 1, nil
	default:
		return 0, nil
	}
}

func numericAsFloat(v Value) (float64, bool) {
	switch v.Kind {
	case KindFloat:
		return float64(v.F), true
	case KindInt, KindDate:
		return float64(v.I), false
	default:
		return 0, false
	}
}

// Equal reports whether a and b compare equal, per Compare's semantics.
func Equal(a, b Value) bool {
	c, err := Compare(a, b)
	return err == nil && c == 0
}
