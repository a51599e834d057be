// Package storage samples local storage usage and classifies pressure.
package storage

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
)

// Level classifies storage pressure.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Default thresholds and sampling interval.
const (
	DefaultWarningPercent  = 70.0
	DefaultCriticalPercent = 90.0
	DefaultInterval        = 5 * time.Minute
)

// Estimate is what the platform reports about storage.
type Estimate struct {
	UsedBytes  int64
	QuotaBytes int64
}

// Estimator reports storage usage.
type Estimator interface {
	Estimate(ctx context.Context) (Estimate, error)
}

// EstimatorFunc adapts a function to Estimator.
type EstimatorFunc func(ctx context.Context) (Estimate, error)

// Estimate calls f.
func (f EstimatorFunc) Estimate(ctx context.Context) (Estimate, error) {
	return f(ctx)
}

// Stats is one classified sample.
type Stats struct {
	UsedBytes    int64     `json:"used_bytes" yaml:"used_bytes"`
	QuotaBytes   int64     `json:"quota_bytes" yaml:"quota_bytes"`
	UsagePercent float64   `json:"usage_percent" yaml:"usage_percent"`
	Level        Level     `json:"level" yaml:"level"`
	SampledAt    time.Time `json:"sampled_at" yaml:"sampled_at"`
}

// Thresholds are the usage percentages at which pressure is reported.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// Classify returns the level of a usage percentage. Boundaries are
// inclusive: exactly the critical threshold is critical.
func (t Thresholds) Classify(percent float64) Level {
	switch {
	case percent >= t.Critical:
		return LevelCritical
	case percent >= t.Warning:
		return LevelWarning
	default:
		return LevelOK
	}
}

// CriticalFunc is called with a sample that reached the critical level.
type CriticalFunc func(ctx context.Context, s Stats)

// MonitorConfig wires a Monitor.
type MonitorConfig struct {
	Estimator  Estimator
	Thresholds Thresholds
	Interval   time.Duration
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// Monitor samples storage usage on an interval.
type Monitor struct {
	estimator  Estimator
	thresholds Thresholds
	interval   time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger

	mu         sync.Mutex
	last       Stats
	onCritical []CriticalFunc
}

// NewMonitor creates a Monitor. Zero thresholds and interval take their
// defaults.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Thresholds.Warning <= 0 {
		cfg.Thresholds.Warning = DefaultWarningPercent
	}
	if cfg.Thresholds.Critical <= 0 {
		cfg.Thresholds.Critical = DefaultCriticalPercent
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Monitor{
		estimator:  cfg.Estimator,
		thresholds: cfg.Thresholds,
		interval:   cfg.Interval,
		clock:      cfg.Clock,
		logger:     logging.Component(cfg.Logger, "storage"),
	}
}

// OnCritical registers fn to run after every critical sample.
func (m *Monitor) OnCritical(fn CriticalFunc) {
	m.mu.Lock()
	m.onCritical = append(m.onCritical, fn)
	m.mu.Unlock()
}

// Measure takes a sample without invoking callbacks. An estimator failure
// yields a zero sample, which classifies as ok.
func (m *Monitor) Measure(ctx context.Context) Stats {
	s := Stats{SampledAt: m.clock.Now().UTC()}

	est, err := m.estimator.Estimate(ctx)
	if err != nil {
		m.logger.Warn("storage estimate unavailable", logging.Err(err))
		est = Estimate{}
	}

	s.UsedBytes = est.UsedBytes
	s.QuotaBytes = est.QuotaBytes
	if est.QuotaBytes > 0 {
		s.UsagePercent = float64(est.UsedBytes) / float64(est.QuotaBytes) * 100
	}
	s.Level = m.thresholds.Classify(s.UsagePercent)

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
	return s
}

// Sample takes a sample and invokes the critical callbacks when it is
// critical.
func (m *Monitor) Sample(ctx context.Context) Stats {
	s := m.Measure(ctx)

	switch s.Level {
	case LevelCritical:
		m.logger.Error("storage critical",
			"used_bytes", s.UsedBytes, "quota_bytes", s.QuotaBytes, "usage_percent", s.UsagePercent)
		m.mu.Lock()
		callbacks := slices.Clone(m.onCritical)
		m.mu.Unlock()
		for _, fn := range callbacks {
			fn(ctx, s)
		}
	case LevelWarning:
		m.logger.Warn("storage usage high", "usage_percent", s.UsagePercent)
	default:
		m.logger.Debug("storage sampled", "usage_percent", s.UsagePercent)
	}
	return s
}

// Last returns the most recent sample.
func (m *Monitor) Last() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Run samples immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			m.Sample(ctx)
		}
	}
}
