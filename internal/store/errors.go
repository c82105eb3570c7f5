package store

import (
	"errors"
	"fmt"
)

// ErrDuplicateID is wrapped by the error Create returns when the id exists.
var ErrDuplicateID = errors.New("duplicate record id")

var errStoreClosed = errors.New("store is closed")

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeDuplicate indicates Create was given an id already present.
	ErrCodeDuplicate ErrorCode = "DUPLICATE_ID"

	// ErrCodeIO indicates the persistence medium could not be read or written.
	ErrCodeIO ErrorCode = "STORE_IO"

	// ErrCodeInvalid indicates a record or mutation violates an invariant.
	ErrCodeInvalid ErrorCode = "INVALID_RECORD"
)

// Error is returned by every RecordStore operation that fails.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the store operation ("create", "update", ...).
	Op string

	// ID is the record id involved, if any.
	ID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func ioError(op, id string, err error) *Error {
	return &Error{Code: ErrCodeIO, Op: op, ID: id, Err: err}
}

func invalidError(op, id string, err error) *Error {
	return &Error{Code: ErrCodeInvalid, Op: op, ID: id, Err: err}
}

func duplicateError(id string) *Error {
	return &Error{Code: ErrCodeDuplicate, Op: "create", ID: id, Err: ErrDuplicateID}
}

// IsIOError reports whether err is a persistence failure.
// Uses errors.As to handle wrapped errors.
func IsIOError(err error) bool {
	return hasCode(err, ErrCodeIO)
}

// IsDuplicateError reports whether err is a duplicate-id failure.
func IsDuplicateError(err error) bool {
	return hasCode(err, ErrCodeDuplicate)
}

// IsInvalidError reports whether err is an invariant violation.
func IsInvalidError(err error) bool {
	return hasCode(err, ErrCodeInvalid)
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
