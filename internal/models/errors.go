package models

import (
	"fmt"
	"strings"

	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
)

// ErrInvalidPayload is the sentinel every payload validation error unwraps to.
var ErrInvalidPayload = apperrors.New(apperrors.ErrInvalidPayload, "invalid payload")

// FieldError describes a validation problem with a single field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists the field problems found in one payload.
type ValidationError struct {
	Entity EntityType
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return fmt.Sprintf("invalid %s payload: %s", e.Entity, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPayload }

// validator accumulates field errors for one payload.
type validator struct {
	entity EntityType
	errs   []FieldError
}

func (v *validator) check(ok bool, field, message string) {
	if !ok {
		v.errs = append(v.errs, FieldError{Field: field, Message: message})
	}
}

func (v *validator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return &ValidationError{Entity: v.entity, Errors: v.errs}
}
