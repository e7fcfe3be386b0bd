// Package errors provides error handling for listwatch.
//
// It re-exports github.com/cockroachdb/errors so the rest of the engine gets
// stack traces, wrapping with context, and structured details without every
// package importing the upstream module directly.
//
// Usage:
//
//	if err := store.Upsert(ctx, row); err != nil {
//	    return errors.Wrap(err, "persist seen listing")
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Error creation and wrapping.
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// Structured details and hints.
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Error inspection.
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// GetStack returns the reportable stack trace attached to an error, if any.
var GetStack = crdb.GetReportableStackTrace

// Sentinel errors shared across the engine. Check with errors.Is and wrap
// with errors.Wrap to add context while preserving identity.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = New("not found")

	// ErrConflict indicates a uniqueness conflict (e.g. duplicate key).
	ErrConflict = New("resource conflict")

	// ErrQuotaExceeded indicates the owning user has no query budget left.
	ErrQuotaExceeded = New("quota exceeded")
)

// IsNotFound checks whether an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}
