package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// Sizer reports the bytes held by the local database. db.DB implements it.
type Sizer interface {
	Size(ctx context.Context) (int64, error)
	Path() string
}

// SQLiteEstimator estimates usage of the local SQLite database against a
// fixed quota, or when the quota is zero against the database size plus
// the free space of the volume holding it.
type SQLiteEstimator struct {
	db    Sizer
	quota int64
	free  func(ctx context.Context, dir string) (uint64, error)
}

// NewSQLiteEstimator creates an estimator for db.
func NewSQLiteEstimator(db Sizer, quotaBytes int64) *SQLiteEstimator {
	return &SQLiteEstimator{db: db, quota: quotaBytes, free: freeBytes}
}

// Estimate implements Estimator.
func (e *SQLiteEstimator) Estimate(ctx context.Context) (Estimate, error) {
	used, err := e.db.Size(ctx)
	if err != nil {
		return Estimate{}, err
	}
	if e.quota > 0 {
		return Estimate{UsedBytes: used, QuotaBytes: e.quota}, nil
	}

	free, err := e.free(ctx, filepath.Dir(e.db.Path()))
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{UsedBytes: used, QuotaBytes: used + int64(free)}, nil
}

func freeBytes(ctx context.Context, dir string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("disk usage of %s: %w", dir, err)
	}
	return usage.Free, nil
}
