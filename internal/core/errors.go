package core

import (
	"errors"
	"fmt"
)

// Error codes shared across the API surface and the job pipeline. Workers
// route on them: retryable errors get delayed replays with backoff, the
// rest (see IsRetryable) go straight to the dead-letter queue.
const (
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeValidation         = "validation"
	CodePreconditionFailed = "precondition_failed"
	CodeForbidden          = "forbidden"
	CodeTimeout            = "timeout"
	CodeTransient          = "transient"
	CodeFatal              = "fatal"
)

// Error is a categorized domain error.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two domain errors by code so sentinel comparisons like
// errors.Is(err, core.ErrNotFound) work on wrapped instances.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrConflict           = &Error{Code: CodeConflict, Message: "conflict"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrPreconditionFailed = &Error{Code: CodePreconditionFailed, Message: "precondition failed"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrTimeout            = &Error{Code: CodeTimeout, Message: "deadline exceeded"}
	ErrTransient          = &Error{Code: CodeTransient, Message: "transient failure"}
	ErrFatal              = &Error{Code: CodeFatal, Message: "unrecoverable"}
)

// NotFoundf builds a NotFound error.
func NotFoundf(format string, args ...interface{}) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a Conflict error.
func Conflictf(format string, args ...interface{}) error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Validationf builds a Validation error.
func Validationf(format string, args ...interface{}) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Preconditionf builds a PreconditionFailed error.
func Preconditionf(format string, args ...interface{}) error {
	return &Error{Code: CodePreconditionFailed, Message: fmt.Sprintf(format, args...)}
}

// Forbiddenf builds a Forbidden error.
func Forbiddenf(format string, args ...interface{}) error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

// Transientf wraps an I/O failure that a retry may resolve.
func Transientf(err error, format string, args ...interface{}) error {
	return &Error{Code: CodeTransient, Message: fmt.Sprintf(format, args...), Err: err}
}

// Fatalf wraps an unrecoverable failure.
func Fatalf(err error, format string, args ...interface{}) error {
	return &Error{Code: CodeFatal, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the domain code from err, defaulting to transient: an
// unclassified failure must stay retryable rather than poison a job.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeTransient
}

// IsRetryable reports whether a job failure should be retried with backoff
// rather than dead-lettered immediately.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeValidation, CodeFatal, CodePreconditionFailed, CodeForbidden:
		return false
	}
	return true
}
