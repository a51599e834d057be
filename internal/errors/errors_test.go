// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		{"internal", ErrInternal},
		{"invalid", ErrInvalid},
		{"not found", ErrNotFound},
		{"database", ErrDatabase},
		{"migration", ErrMigration},
		{"invalid payload", ErrInvalidPayload},
		{"unknown entity", ErrUnknownEntityType},
		{"sync failed", ErrSyncFailed},
		{"sync offline", ErrSyncOffline},
		{"already draining", ErrSyncAlreadyDraining},
		{"sync conflict", ErrSyncConflict},
		{"conflict not found", ErrConflictNotFound},
		{"conflict closed", ErrConflictClosed},
		{"trust unreachable", ErrTrustUnreachable},
		{"trust blocked", ErrTrustBlocked},
		{"capacity critical", ErrCapacityCritical},
		{"booking conflict", ErrBookingConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				t.Errorf("ErrorCode %q should not be empty", tt.name)
			}
		})
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrSyncOffline, Message: "offline"},
			want:     "[SYNC_OFFLINE] offline",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrDatabase, Message: "insert failed", Err: errors.New("disk I/O")},
			want:     "[DATABASE_ERROR] insert failed: disk I/O",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestIs_ThroughWrapping verifies codes are found behind fmt wrapping.
func TestIs_ThroughWrapping(t *testing.T) {
	base := New(ErrSyncOffline, "offline")
	wrapped := fmt.Errorf("drain: %w", base)

	if !Is(wrapped, ErrSyncOffline) {
		t.Error("Is() should find code behind fmt.Errorf wrapping")
	}
	if Is(wrapped, ErrSyncFailed) {
		t.Error("Is() matched the wrong code")
	}
	if !errors.Is(wrapped, base) {
		t.Error("stdlib errors.Is should match the sentinel pointer")
	}
}

// TestIs_NestedAppErrors verifies inner codes are reachable.
func TestIs_NestedAppErrors(t *testing.T) {
	inner := New(ErrTrustUnreachable, "no route")
	outer := Wrap(ErrSyncFailed, "send", inner)

	if !Is(outer, ErrSyncFailed) {
		t.Error("outer code not found")
	}
	if !Is(outer, ErrTrustUnreachable) {
		t.Error("inner code not found")
	}
	if Is(errors.New("plain"), ErrInternal) {
		t.Error("plain error should not match any code")
	}
	if Is(nil, ErrInternal) {
		t.Error("nil should not match any code")
	}
}

// TestCode verifies the outermost code is returned.
func TestCode(t *testing.T) {
	if got := Code(Wrap(ErrCapacityCritical, "still full", nil)); got != ErrCapacityCritical {
		t.Errorf("Code() = %s, want %s", got, ErrCapacityCritical)
	}
	if got := Code(errors.New("plain")); got != ErrInternal {
		t.Errorf("Code() = %s, want %s", got, ErrInternal)
	}
}

// TestRetryable verifies the recoverable error classes.
func TestRetryable(t *testing.T) {
	if !Retryable(New(ErrSyncFailed, "timeout")) {
		t.Error("transport failures should be retryable")
	}
	if Retryable(New(ErrTrustBlocked, "revoked")) {
		t.Error("terminal trust failures should not be retryable")
	}
	if !strings.Contains(New(ErrConflictClosed, "done").Error(), "CONFLICT_CLOSED") {
		t.Error("message should carry the code")
	}
}
