package config

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Validate performs business-rule validation on the loaded configuration.
// Load calls it automatically.
func (c *Config) Validate() error {
	if !semver.IsValid(CanonicalVersion(c.Device.AppVersion)) {
		return fmt.Errorf("device.app_version %q is not a semantic version", c.Device.AppVersion)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if err := c.Sync.validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if c.Conflicts.Buffer < 0 {
		return fmt.Errorf("conflicts.buffer must be >= 0 (got %s)", c.Conflicts.Buffer)
	}
	if c.Conflicts.SurfaceLimit < 1 {
		return fmt.Errorf("conflicts.surface_limit must be >= 1 (got %d)", c.Conflicts.SurfaceLimit)
	}
	if err := c.Storage.validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Retention.validate(); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	if err := c.Trust.validate(); err != nil {
		return fmt.Errorf("trust: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if s.Interval <= 0 {
		return fmt.Errorf("interval must be > 0 (got %s)", s.Interval)
	}
	if s.Debounce < 0 {
		return fmt.Errorf("debounce must be >= 0 (got %s)", s.Debounce)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", s.MaxAttempts)
	}
	return nil
}

func (s *StorageConfig) validate() error {
	if s.SampleInterval <= 0 {
		return fmt.Errorf("sample_interval must be > 0 (got %s)", s.SampleInterval)
	}
	if s.QuotaBytes < 0 {
		return fmt.Errorf("quota_bytes must be >= 0 (got %d)", s.QuotaBytes)
	}
	if s.WarningPercent <= 0 || s.CriticalPercent > 100 || s.WarningPercent >= s.CriticalPercent {
		return fmt.Errorf("thresholds must satisfy 0 < warning < critical <= 100 (got %v, %v)",
			s.WarningPercent, s.CriticalPercent)
	}
	return nil
}

func (r *RetentionConfig) validate() error {
	if r.Interval <= 0 {
		return fmt.Errorf("interval must be > 0 (got %s)", r.Interval)
	}
	if r.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1 (got %d)", r.BatchSize)
	}
	for name, d := range map[string]int64{
		"appointments":     int64(r.Appointments),
		"tickets":          int64(r.Tickets),
		"transactions":     int64(r.Transactions),
		"completed_queue":  int64(r.CompletedQueue),
		"emergency_window": int64(r.EmergencyWindow),
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	return nil
}

func (t *TrustConfig) validate() error {
	if t.Mode != ModeLicense && t.Mode != ModeLogin {
		return fmt.Errorf("mode must be %q or %q (got %q)", ModeLicense, ModeLogin, t.Mode)
	}
	if t.GracePeriod <= 0 {
		return fmt.Errorf("grace_period must be > 0 (got %s)", t.GracePeriod)
	}
	if t.RevalidateInterval <= 0 {
		return fmt.Errorf("revalidate_interval must be > 0 (got %s)", t.RevalidateInterval)
	}
	return nil
}

// CanonicalVersion prefixes v to a bare version so x/mod/semver accepts it.
func CanonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
