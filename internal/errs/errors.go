package errs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Code is a stable, machine-readable error classification
type Code string

const (
	CodeValidation           Code = "VALIDATION"
	CodeNotFound             Code = "NOT_FOUND"
	CodeDuplicateKey         Code = "DUPLICATE_KEY"
	CodeInvalidState         Code = "INVALID_STATE"
	CodeAmountMismatch       Code = "AMOUNT_MISMATCH"
	CodeRefundExceedsBalance Code = "REFUND_EXCEEDS_BALANCE"
	CodeOutOfStock           Code = "OUT_OF_STOCK"
	CodeReferentialIntegrity Code = "REFERENTIAL_INTEGRITY"
	CodeTimeout              Code = "TIMEOUT"
	CodeStorage              Code = "STORAGE"
)

// Error is a domain error carrying a stable code. CodeStorage and
// CodeTimeout are retryable by callers, the rest are terminal: a timed-out
// transaction has been rolled back in full, so resubmitting the same input
// is safe.
type Error struct {
	Code Code
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// New creates an error with the given code
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...), err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return New(CodeValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(CodeNotFound, format, args...)
}

func InvalidState(format string, args ...interface{}) *Error {
	return New(CodeInvalidState, format, args...)
}

// CodeOf extracts the code from an error chain, defaulting to CodeStorage
// for anything that never passed through this package.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeStorage
}

// Is reports whether err carries the given code
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// Retryable reports whether the caller may retry with the same input
func Retryable(err error) bool {
	return CodeOf(err) == CodeStorage || CodeOf(err) == CodeTimeout
}

// Postgres SQLSTATE classes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// FromStorage translates a raw datastore error into the taxonomy. notFoundMsg
// describes the entity for the sql.ErrNoRows case.
func FromStorage(err error, notFoundMsg string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return New(CodeNotFound, notFoundMsg, args...)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(CodeTimeout, err, "operation timed out")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation:
			return Wrap(CodeDuplicateKey, err, "unique constraint %s violated", pqErr.Constraint)
		case pgForeignKeyViolation:
			return Wrap(CodeReferentialIntegrity, err, "foreign key constraint %s violated", pqErr.Constraint)
		}
	}
	return Wrap(CodeStorage, err, "datastore error")
}
