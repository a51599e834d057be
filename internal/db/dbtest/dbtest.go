// Package dbtest opens migrated SQLite databases for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/db"
)

// Open creates a fresh database under t.TempDir, applies all migrations and
// closes it via t.Cleanup.
func Open(t *testing.T) *db.DB {
	t.Helper()

	d, err := db.Open(filepath.Join(t.TempDir(), "mango.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("dbtest: open: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	if _, err := db.Migrate(context.Background(), d.DB); err != nil {
		t.Fatalf("dbtest: migrate: %v", err)
	}
	return d
}
