package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a rejected call into the exchange's error taxonomy. Every
// state-mutating entry point rejects with exactly one Kind plus a short
// machine-readable reason code; callers branch on Kind (or errors.Is against
// the kind sentinels below), never on message text.
type Kind uint8

const (
	KindAuthorization Kind = iota + 1
	KindState
	KindInvariant
	KindCapacity
	KindTiming
	KindDuplicate
	KindNoBalance
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindInvariant:
		return "invariant"
	case KindCapacity:
		return "capacity"
	case KindTiming:
		return "timing"
	case KindDuplicate:
		return "duplicate"
	case KindNoBalance:
		return "no-balance"
	default:
		return "unknown"
	}
}

// Kind sentinels for errors.Is matching.
var (
	ErrAuthorization = stderrors.New("exchange: authorization error")
	ErrState         = stderrors.New("exchange: invalid state")
	ErrInvariant     = stderrors.New("exchange: invariant violation")
	ErrCapacity      = stderrors.New("exchange: capacity exhausted")
	ErrTiming        = stderrors.New("exchange: outside required time window")
	ErrDuplicate     = stderrors.New("exchange: duplicate entry")
	ErrNoBalance     = stderrors.New("exchange: no balance")
)

func (k Kind) sentinel() error {
	switch k {
	case KindAuthorization:
		return ErrAuthorization
	case KindState:
		return ErrState
	case KindInvariant:
		return ErrInvariant
	case KindCapacity:
		return ErrCapacity
	case KindTiming:
		return ErrTiming
	case KindDuplicate:
		return ErrDuplicate
	case KindNoBalance:
		return ErrNoBalance
	default:
		return nil
	}
}

// Error is a rejected exchange call. Code is a stable upper-snake reason
// string (e.g. "TOO_MANY_FORCED_REQUESTS"); Err optionally carries the
// underlying engine error.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Code, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against both the kind sentinel and any wrapped error,
// so errors.Is(err, ErrCapacity) and errors.Is(err, engineErr) both hold.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func newError(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func Authorization(code string, err error) *Error { return newError(KindAuthorization, code, err) }
func State(code string, err error) *Error         { return newError(KindState, code, err) }
func Invariant(code string, err error) *Error     { return newError(KindInvariant, code, err) }
func Capacity(code string, err error) *Error      { return newError(KindCapacity, code, err) }
func Timing(code string, err error) *Error        { return newError(KindTiming, code, err) }
func Duplicate(code string, err error) *Error     { return newError(KindDuplicate, code, err) }
func NoBalance(code string, err error) *Error     { return newError(KindNoBalance, code, err) }

// CodeOf extracts the machine-readable reason code, or "" for non-taxonomy
// errors.
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf extracts the taxonomy kind, or 0 for non-taxonomy errors.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return 0
}
