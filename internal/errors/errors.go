// Package errors provides the error taxonomy shared by the sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies an error class independent of its message.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Payload errors
	ErrInvalidPayload    ErrorCode = "INVALID_PAYLOAD"
	ErrUnknownEntityType ErrorCode = "UNKNOWN_ENTITY_TYPE"

	// Sync errors. ErrSyncFailed is a per-item transport failure and is retried;
	// offline and already-draining short-circuit a whole drain.
	ErrSyncFailed          ErrorCode = "SYNC_FAILED"
	ErrSyncOffline         ErrorCode = "SYNC_OFFLINE"
	ErrSyncAlreadyDraining ErrorCode = "SYNC_ALREADY_DRAINING"
	ErrSyncConflict        ErrorCode = "SYNC_CONFLICT"

	// Conflict resolution errors
	ErrConflictNotFound ErrorCode = "CONFLICT_NOT_FOUND"
	ErrConflictClosed   ErrorCode = "CONFLICT_CLOSED"

	// Trust errors
	ErrTrustUnreachable ErrorCode = "TRUST_UNREACHABLE"
	ErrTrustBlocked     ErrorCode = "TRUST_BLOCKED"

	// Capacity errors
	ErrCapacityCritical ErrorCode = "CAPACITY_CRITICAL"

	// Scheduling errors
	ErrBookingConflict ErrorCode = "BOOKING_CONFLICT"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any AppError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// Code returns the code of the outermost AppError in err's chain,
// or ErrInternal when there is none.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Retryable reports whether the error class is recovered by retrying later.
func Retryable(err error) bool {
	switch Code(err) {
	case ErrSyncFailed, ErrSyncOffline, ErrSyncAlreadyDraining, ErrTrustUnreachable, ErrDatabase:
		return true
	default:
		return false
	}
}
