package match

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer. Concrete failures wrap one of these
// so the HTTP boundary can map them with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("state conflict")
	ErrStore         = errors.New("store failure")
)

var (
	ErrMatchNotFound = classified(ErrNotFound, "match not found")
	ErrEventNotFound = classified(ErrNotFound, "log not found")
	ErrMatchNotLive  = classified(ErrStateConflict, "match is not live")
)

type classifiedError struct {
	msg   string
	class error
}

func (e *classifiedError) Error() string { return e.msg }
func (e *classifiedError) Unwrap() error { return e.class }

func classified(class error, msg string) error {
	return &classifiedError{msg: msg, class: class}
}

// Conflict returns a state conflict error carrying msg verbatim.
func Conflict(msg string) error {
	return classified(ErrStateConflict, msg)
}

// Invalid returns a validation error whose message is shown to the operator as-is.
func Invalid(format string, args ...any) error {
	return classified(ErrValidation, fmt.Sprintf(format, args...))
}

type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string   { return e.op + ": " + e.err.Error() }
func (e *storeError) Unwrap() []error { return []error{ErrStore, e.err} }

// StoreError wraps a driver failure so it matches both ErrStore and the original error.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &storeError{op: op, err: err}
}
