package docstore

import (
	"errors"
	"fmt"
)

// Code categorizes store errors.
type Code string

const (
	// CodeNotFound indicates the document does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeAlreadyExists indicates a create targeted an existing document.
	CodeAlreadyExists Code = "ALREADY_EXISTS"

	// CodeInvalidArgument indicates a malformed path, field path or query.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeUnavailable indicates the underlying database failed.
	CodeUnavailable Code = "UNAVAILABLE"
)

// Error is returned by every Store operation.
type Error struct {
	Code Code
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Code)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsNotFound reports whether err is a missing-document error.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsAlreadyExists reports whether err is a create conflict.
func IsAlreadyExists(err error) bool { return hasCode(err, CodeAlreadyExists) }

// IsInvalidArgument reports whether err is a malformed request.
func IsInvalidArgument(err error) bool { return hasCode(err, CodeInvalidArgument) }

// IsUnavailable reports whether err came from the database.
func IsUnavailable(err error) bool { return hasCode(err, CodeUnavailable) }

func notFound(op, path string) *Error {
	return &Error{Code: CodeNotFound, Op: op, Path: path}
}

func invalid(op, path string, err error) *Error {
	return &Error{Code: CodeInvalidArgument, Op: op, Path: path, Err: err}
}

func unavailable(op, path string, err error) *Error {
	return &Error{Code: CodeUnavailable, Op: op, Path: path, Err: err}
}
