// Package apperr defines the tagged error kinds the MES core surfaces to
// callers. Handlers map kinds to HTTP status codes in exactly one place.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind int

const (
	// KindUnknown is an unclassified internal error.
	KindUnknown Kind = iota
	// KindNotFound: unknown id or missing dependency (machine, order, operation).
	KindNotFound
	// KindConflict: duplicate production order, duplicate open downtime,
	// priority update racing a frozen part.
	KindConflict
	// KindInvariant: a data invariant would be violated (negative quantity,
	// non-dense priorities, overlapping intervals).
	KindInvariant
	// KindFrozen: reschedule or reprioritize attempted on a completed or
	// past-due item.
	KindFrozen
	// KindOutOfRange: a priority outside 1..N.
	KindOutOfRange
	// KindExternal: database, cache or collector failure. Transient; caller
	// may retry.
	KindExternal
	// KindBudget: a scheduling run exceeded its wall-clock budget. The prior
	// plan is retained.
	KindBudget
	// KindBadRequest: malformed or invalid request payload.
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvariant:
		return "invariant_violation"
	case KindFrozen:
		return "frozen_by_state"
	case KindOutOfRange:
		return "out_of_range"
	case KindExternal:
		return "external"
	case KindBudget:
		return "budget_exceeded"
	case KindBadRequest:
		return "bad_request"
	default:
		return "internal"
	}
}

// Error is a kinded error with an operator-facing message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error from a format string.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from any error in the chain, KindUnknown if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
