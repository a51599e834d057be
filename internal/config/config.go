// Package config loads the sync core configuration from YAML and the
// environment.
package config

import "time"

// Config is the root configuration of the sync core.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Database  DatabaseConfig  `yaml:"database"`
	Sync      SyncConfig      `yaml:"sync"`
	Conflicts ConflictConfig  `yaml:"conflicts"`
	Storage   StorageConfig   `yaml:"storage"`
	Retention RetentionConfig `yaml:"retention"`
	Trust     TrustConfig     `yaml:"trust"`
	Network   NetworkConfig   `yaml:"network"`
	Log       LogConfig       `yaml:"log"`
}

// DeviceConfig identifies this installation.
type DeviceConfig struct {
	ID         string `yaml:"id"          env:"DEVICE_ID"`
	StoreID    string `yaml:"store_id"    env:"DEVICE_STORE_ID"`
	AppVersion string `yaml:"app_version" env:"DEVICE_APP_VERSION" env-default:"1.0.0"`
}

// DatabaseConfig holds local SQLite settings.
type DatabaseConfig struct {
	Path        string        `yaml:"path"         env:"DATABASE_PATH"         env-default:"./data/mango.db"`
	BusyTimeout time.Duration `yaml:"busy_timeout" env:"DATABASE_BUSY_TIMEOUT" env-default:"5s"`
}

// SyncConfig holds sync queue and drain trigger settings.
type SyncConfig struct {
	Interval    time.Duration `yaml:"interval"     env:"SYNC_INTERVAL"     env-default:"30s"`
	Debounce    time.Duration `yaml:"debounce"     env:"SYNC_DEBOUNCE"     env-default:"500ms"`
	MaxAttempts int           `yaml:"max_attempts" env:"SYNC_MAX_ATTEMPTS" env-default:"5"`
}

// ConflictConfig holds appointment detection and resolution settings.
type ConflictConfig struct {
	Buffer       time.Duration `yaml:"buffer"        env:"CONFLICT_BUFFER"        env-default:"10m"`
	SurfaceLimit int           `yaml:"surface_limit" env:"CONFLICT_SURFACE_LIMIT" env-default:"3"`
}

// StorageConfig holds storage monitor settings. A zero quota means the
// quota is the database size plus free disk space.
type StorageConfig struct {
	SampleInterval  time.Duration `yaml:"sample_interval"  env:"STORAGE_SAMPLE_INTERVAL"  env-default:"5m"`
	QuotaBytes      int64         `yaml:"quota_bytes"      env:"STORAGE_QUOTA_BYTES"      env-default:"0"`
	WarningPercent  float64       `yaml:"warning_percent"  env:"STORAGE_WARNING_PERCENT"  env-default:"70"`
	CriticalPercent float64       `yaml:"critical_percent" env:"STORAGE_CRITICAL_PERCENT" env-default:"90"`
}

// RetentionConfig holds retention windows. Entity windows are measured
// from creation.
type RetentionConfig struct {
	Interval        time.Duration `yaml:"interval"         env:"RETENTION_INTERVAL"         env-default:"24h"`
	BatchSize       int           `yaml:"batch_size"       env:"RETENTION_BATCH_SIZE"       env-default:"100"`
	Appointments    time.Duration `yaml:"appointments"     env:"RETENTION_APPOINTMENTS"     env-default:"1440h"`
	Tickets         time.Duration `yaml:"tickets"          env:"RETENTION_TICKETS"          env-default:"720h"`
	Transactions    time.Duration `yaml:"transactions"     env:"RETENTION_TRANSACTIONS"     env-default:"720h"`
	CompletedQueue  time.Duration `yaml:"completed_queue"  env:"RETENTION_COMPLETED_QUEUE"  env-default:"168h"`
	EmergencyWindow time.Duration `yaml:"emergency_window" env:"RETENTION_EMERGENCY_WINDOW" env-default:"168h"`
	RunAtStartup    bool          `yaml:"run_at_startup"   env:"RETENTION_RUN_AT_STARTUP"   env-default:"true"`
}

// TrustConfig holds license/login validation settings.
type TrustConfig struct {
	Mode               string        `yaml:"mode"                env:"TRUST_MODE"                env-default:"license"`
	IdentityKey        string        `yaml:"identity_key"        env:"TRUST_IDENTITY_KEY"`
	ValidateURL        string        `yaml:"validate_url"        env:"TRUST_VALIDATE_URL"`
	GracePeriod        time.Duration `yaml:"grace_period"        env:"TRUST_GRACE_PERIOD"        env-default:"168h"`
	RevalidateInterval time.Duration `yaml:"revalidate_interval" env:"TRUST_REVALIDATE_INTERVAL" env-default:"24h"`
	Timeout            time.Duration `yaml:"timeout"             env:"TRUST_TIMEOUT"             env-default:"10s"`
}

// NetworkConfig holds connectivity probe settings. An empty probe URL
// leaves the device online until told otherwise.
type NetworkConfig struct {
	ProbeURL      string        `yaml:"probe_url"      env:"NETWORK_PROBE_URL"`
	ProbeInterval time.Duration `yaml:"probe_interval" env:"NETWORK_PROBE_INTERVAL" env-default:"15s"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"  env:"NETWORK_PROBE_TIMEOUT"  env-default:"5s"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Trust modes.
const (
	ModeLicense = "license"
	ModeLogin   = "login"
)
