package chat

import (
	"errors"
	"fmt"

	"github.com/roach88/chatsync/internal/docstore"
)

// Code categorizes chat errors.
type Code string

const (
	// CodePermissionDenied indicates the caller lacks the required role.
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// CodeForbidden indicates the target does not allow the action at all,
	// such as joining a private group. It also matches ErrPermissionDenied.
	CodeForbidden Code = "FORBIDDEN"

	// CodeNotFound indicates a missing conversation, message or user.
	CodeNotFound Code = "NOT_FOUND"

	// CodeValidation indicates malformed input.
	CodeValidation Code = "VALIDATION"

	// CodeUploadFailure indicates the object storage rejected a file.
	CodeUploadFailure Code = "UPLOAD_FAILURE"

	// CodeAssistantUnavailable indicates the assistant could not draft.
	CodeAssistantUnavailable Code = "ASSISTANT_UNAVAILABLE"

	// CodeStoreUnavailable indicates the document store failed.
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// Error is returned by Service operations.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
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

// Is matches sentinel errors by code. Forbidden errors also match
// ErrPermissionDenied.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return e.Code == CodeForbidden && t.Code == CodePermissionDenied
}

// Sentinels for errors.Is.
var (
	ErrPermissionDenied     = &Error{Code: CodePermissionDenied}
	ErrForbidden            = &Error{Code: CodeForbidden}
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrValidation           = &Error{Code: CodeValidation}
	ErrUploadFailure        = &Error{Code: CodeUploadFailure}
	ErrAssistantUnavailable = &Error{Code: CodeAssistantUnavailable}
	ErrStoreUnavailable     = &Error{Code: CodeStoreUnavailable}
)

// IsPermissionDenied reports permission and forbidden errors.
func IsPermissionDenied(err error) bool { return errors.Is(err, ErrPermissionDenied) }

// IsForbidden reports forbidden errors.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsNotFound reports missing-entity errors.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports malformed-input errors.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsUploadFailure reports object storage failures.
func IsUploadFailure(err error) bool { return errors.Is(err, ErrUploadFailure) }

// IsAssistantUnavailable reports assistant drafting failures.
func IsAssistantUnavailable(err error) bool { return errors.Is(err, ErrAssistantUnavailable) }

// IsStoreUnavailable reports document store failures.
func IsStoreUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }

// CodeOf returns the code of a chat error, or "" for other errors.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func newError(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

func permissionDenied(op, format string, args ...any) *Error {
	return newError(CodePermissionDenied, op, format, args...)
}

func validation(op, format string, args ...any) *Error {
	return newError(CodeValidation, op, format, args...)
}

func notFound(op, format string, args ...any) *Error {
	return newError(CodeNotFound, op, format, args...)
}

// fromStore maps a store error into the chat taxonomy. Chat errors pass
// through unchanged.
func fromStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	if docstore.IsNotFound(err) {
		return &Error{Code: CodeNotFound, Op: op, Err: err}
	}
	if docstore.IsInvalidArgument(err) {
		return &Error{Code: CodeValidation, Op: op, Err: err}
	}
	return &Error{Code: CodeStoreUnavailable, Op: op, Err: err}
}
