// Package uuid generates and validates the identifiers used for entities,
// queued operations and conflict records.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Accepted format: xxxxxxxx-xxxx-Vxxx-yxxx-xxxxxxxxxxxx where V is 4 (random,
// entity ids minted by the UI) or 7 (time ordered, queue and conflict ids)
// and y is one of [8, 9, a, b].
var idRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[47][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a random UUID v4.
func New() string {
	return uuid.New().String()
}

// NewOrdered generates a UUID v7. Ids minted later sort after earlier ones
// (millisecond precision), which keeps queue rows roughly in enqueue order
// even when inspected without the seq column.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Parse parses s and rejects anything other than a v4 or v7 UUID.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	if v := id.Version(); v != 4 && v != 7 {
		return uuid.Nil, fmt.Errorf("expected UUID v4 or v7, got v%d", v)
	}
	return id, nil
}

// IsValid checks the strict dashed form of a v4 or v7 UUID.
func IsValid(s string) bool {
	return idRegex.MatchString(s)
}

// Validate returns an error if s is not a valid identifier.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID format: %q", s)
	}
	return nil
}
