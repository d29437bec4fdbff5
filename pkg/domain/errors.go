package domain

import (
	"errors"
	"fmt"
)

// Code classifies a failure for propagation policy purposes. VALIDATION and
// STATE_CONFLICT always reach the caller; LEDGER_UNAVAILABLE and
// DOWNSTREAM_UNAVAILABLE are absorbed by the engine and logged; INTERNAL is
// surfaced without detail.
type Code string

const (
	CodeValidation            Code = "VALIDATION"
	CodeNotFound              Code = "NOT_FOUND"
	CodeStateConflict         Code = "STATE_CONFLICT"
	CodeLedgerUnavailable     Code = "LEDGER_UNAVAILABLE"
	CodeDownstreamUnavailable Code = "DOWNSTREAM_UNAVAILABLE"
	CodeEncoding              Code = "ENCODING"
	CodeInternal              Code = "INTERNAL"
)

type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the taxonomy code from err, defaulting to INTERNAL for
// anything that is not a *Error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
