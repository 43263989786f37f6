// Package errors holds the coded error type returned across package
// boundaries. Callers branch on Code; Msg is meant for operators and API
// responses.
package errors

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	EInternal = "internal error"
	ENotFound = "not found"
	// EConflict means the action clashes with existing state.
	EConflict = "conflict"
	// EInvalid means input validation failed.
	EInvalid = "invalid"
	// EUnprocessableEntity means the data is well formed but inconsistent.
	EUnprocessableEntity = "unprocessable entity"
	EEmptyValue          = "empty value"
	EUnavailable         = "unavailable"
)

const internalMessage = "An internal error has occurred."

// Error is a coded error. Op names the operation that failed and Err is the
// cause, which may itself be an *Error:
//
//	&Error{
//	    Code: EConflict,
//	    Op:   "tenant/CreateTenant",
//	    Msg:  "tenant with this subdomain already exists",
//	    Err:  err,
//	}
type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error
}

// Error returns "Msg: Err", or whichever of the two is set.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return fmt.Sprintf("<%s>", e.Code)
	}
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// first returns the value of field on the outermost *Error in err's chain
// that sets it. ok is false when err holds no *Error at all.
func first(err error, field func(*Error) string) (v string, ok bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	for e != nil {
		if v := field(e); v != "" {
			return v, true
		}
		var next *Error
		if e.Err == nil || !errors.As(e.Err, &next) {
			break
		}
		e = next
	}
	return "", true
}

// ErrorCode returns the first code set in err's chain. Errors without a code
// are internal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if code, _ := first(err, func(e *Error) string { return e.Code }); code != "" {
		return code
	}
	return EInternal
}

// ErrorOp returns the first operation set in err's chain, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	op, _ := first(err, func(e *Error) string { return e.Op })
	return op
}

// ErrorMessage returns the first message set in err's chain, or a generic
// message that does not leak internals.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg, _ := first(err, func(e *Error) string { return e.Msg }); msg != "" {
		return msg
	}
	return internalMessage
}
