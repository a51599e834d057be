// Package uuid provides unit tests for identifier generation and validation.
package uuid

import (
	"sort"
	"testing"
	"time"
)

// TestNew tests that New() generates valid v4 identifiers.
func TestNew(t *testing.T) {
	id := New()

	if !IsValid(id) {
		t.Fatalf("New() = %q, not a valid identifier", id)
	}
	parsed, err := Parse(id)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", id, err)
	}
	if parsed.Version() != 4 {
		t.Errorf("New() version = %d, want 4", parsed.Version())
	}
}

// TestNewOrdered tests that NewOrdered() ids are v7 and sort by mint time.
func TestNewOrdered(t *testing.T) {
	first := NewOrdered()
	time.Sleep(2 * time.Millisecond)
	second := NewOrdered()

	for _, id := range []string{first, second} {
		parsed, err := Parse(id)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", id, err)
		}
		if parsed.Version() != 7 {
			t.Errorf("NewOrdered() version = %d, want 7", parsed.Version())
		}
	}

	ids := []string{second, first}
	sort.Strings(ids)
	if ids[0] != first {
		t.Errorf("expected %q to sort before %q", first, second)
	}
}

// TestNewUniqueness tests that generated ids do not collide.
func TestNewUniqueness(t *testing.T) {
	ids := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		for _, id := range []string{New(), NewOrdered()} {
			if ids[id] {
				t.Fatalf("Duplicate id generated: %s", id)
			}
			ids[id] = true
		}
	}
}

// TestIsValid tests accepted and rejected formats.
func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid v4", "f47ac10b-58cc-4372-a567-0e02b2c3d479", true},
		{"valid v4 uppercase", "6BA7B810-9DAD-41D1-80B4-00C04FD430C8", true},
		{"valid v7", "01890a5d-ac96-774b-bcce-b302099a8057", true},
		{"empty string", "", false},
		{"too short", "f47ac10b-58cc-4372-a567", false},
		{"missing dashes", "f47ac10b58cc4372a5670e02b2c3d479", false},
		{"v1 rejected", "f47ac10b-58cc-1372-a567-0e02b2c3d479", false},
		{"invalid variant", "f47ac10b-58cc-4372-c567-0e02b2c3d479", false},
		{"random string", "not-a-uuid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.id); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

// TestParse tests version enforcement.
func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"v4", "f47ac10b-58cc-4372-a567-0e02b2c3d479", false},
		{"v7", "01890a5d-ac96-774b-bcce-b302099a8057", false},
		{"v1", "f47ac10b-58cc-1372-a567-0e02b2c3d479", true},
		{"garbage", "not-a-uuid", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

// TestValidate tests Validate() error reporting.
func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Validate(New()) = %v", err)
	}
	if err := Validate("appt-1"); err == nil {
		t.Error("Validate should reject non-UUID ids")
	}
}

// BenchmarkNewOrdered benchmarks ordered id generation.
func BenchmarkNewOrdered(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewOrdered()
	}
}
