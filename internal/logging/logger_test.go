// Package logging tests for structured logging setup.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/config"
)

// =====================================================
// Logger Construction Tests
// =====================================================

// TestNew_JSON verifies JSON output carries attributes.
func TestNew_JSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := New(config.LogConfig{Level: "info", Format: "json"}, &buf)

	logger.Info("drain finished", "synced", 3, Err(errors.New("timeout")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "drain finished" {
		t.Errorf("msg = %v, want drain finished", entry["msg"])
	}
	if entry["synced"] != float64(3) {
		t.Errorf("synced = %v, want 3", entry["synced"])
	}
	if entry["error"] != "timeout" {
		t.Errorf("error = %v, want timeout", entry["error"])
	}
	if slog.Default() != logger {
		t.Error("New() should install the logger as default")
	}
}

// TestNew_TextFiltersLevel verifies records below the level are dropped.
func TestNew_TextFiltersLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := New(config.LogConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "msg=shown") {
		t.Errorf("text output missing warn record: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestComponent verifies the component attribute is attached.
func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	Component(base, "queue").Info("enqueued")

	if !strings.Contains(buf.String(), `"component":"queue"`) {
		t.Errorf("component attribute missing: %q", buf.String())
	}
	if OrDefault(nil) == nil {
		t.Error("OrDefault(nil) should return the default logger")
	}
	Nop().Error("dropped")
}
