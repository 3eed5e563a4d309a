// Package relerr defines the error taxonomy shared across the storage and
// execution core. Every sentinel here is surfaced verbatim to callers; wrap
// with github.com/pkg/errors at the call site to attach context.
package relerr

import "github.com/pkg/errors"

var (
	// ErrPageNotExist is returned when the buffer pool cannot locate a page.
	ErrPageNotExist = errors.New("page does not exist")

	// ErrIndexKeyDuplicate is a unique-index violation on insert or update.
	ErrIndexKeyDuplicate = errors.New("duplicate key in unique index")

	// ErrStringOverflow means a value is wider than its declared column.
	ErrStringOverflow = errors.New("string value overflows column width")

	// ErrIncompatibleType is a comparison or assignment across incompatible
	// type classes (e.g. string vs. numeric).
	ErrIncompatibleType = errors.New("incompatible column types")

	// ErrInvalidValueCount is an insert arity mismatch.
	ErrInvalidValueCount = errors.New("value count does not match column count")

	// ErrTableNotFound, ErrColumnNotFound, ErrAmbiguousColumn, ErrTableExists,
	// ErrIndexExists and ErrIndexNotFound are catalog errors — this engine
	// treats the catalog as an external collaborator (spec §1) but still
	// surfaces these codes at the boundary the catalog interface exposes.
	ErrTableNotFound   = errors.New("table not found")
	ErrColumnNotFound  = errors.New("column not found")
	ErrAmbiguousColumn = errors.New("ambiguous column reference")
	ErrTableExists     = errors.New("table already exists")
	ErrIndexExists     = errors.New("index already exists")
	ErrIndexNotFound   = errors.New("index not found")

	// ErrUnixError is a raw I/O failure, fatal to the surrounding operation.
	ErrUnixError = errors.New("unix I/O error")

	// ErrInternal is an assertion-style invariant breach that should never
	// occur in a correct engine.
	ErrInternal = errors.New("internal invariant violation")
)
