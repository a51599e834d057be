// Package retention deletes aged local data that the remote store already
// holds. Rows that are not synced are never selected, even under critical
// storage pressure.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/config"
	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/storage"
)

// ErrCapacityCritical is returned when emergency cleanup could not bring
// storage below the critical level.
var ErrCapacityCritical = apperrors.New(apperrors.ErrCapacityCritical, "storage still critical after emergency retention")

// Entities deletes aged synced rows. db.EntityRepository implements it.
type Entities interface {
	DeleteSyncedBefore(ctx context.Context, t models.EntityType, cutoff time.Time, limit int) (int64, error)
}

// Queue deletes finished sync queue rows. db.QueueRepository implements it.
type Queue interface {
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	DeleteAbandoned(ctx context.Context, limit int) (int64, error)
}

// Sampler measures storage after an emergency run. storage.Monitor
// implements it.
type Sampler interface {
	Measure(ctx context.Context) storage.Stats
}

// Policy holds retention windows and batching.
type Policy struct {
	Windows         map[models.EntityType]time.Duration
	CompletedQueue  time.Duration
	EmergencyWindow time.Duration
	BatchSize       int
	Interval        time.Duration
	RunAtStartup    bool
}

// DefaultPolicy returns the default windows: appointments 60 days,
// tickets and transactions 30 days, completed queue entries 7 days.
func DefaultPolicy() Policy {
	const day = 24 * time.Hour
	return Policy{
		Windows: map[models.EntityType]time.Duration{
			models.EntityAppointment: 60 * day,
			models.EntityTicket:      30 * day,
			models.EntityTransaction: 30 * day,
		},
		CompletedQueue:  7 * day,
		EmergencyWindow: 7 * day,
		BatchSize:       100,
		Interval:        day,
		RunAtStartup:    true,
	}
}

// PolicyFromConfig builds a Policy from configuration.
func PolicyFromConfig(cfg config.RetentionConfig) Policy {
	return Policy{
		Windows: map[models.EntityType]time.Duration{
			models.EntityAppointment: cfg.Appointments,
			models.EntityTicket:      cfg.Tickets,
			models.EntityTransaction: cfg.Transactions,
		},
		CompletedQueue:  cfg.CompletedQueue,
		EmergencyWindow: cfg.EmergencyWindow,
		BatchSize:       cfg.BatchSize,
		Interval:        cfg.Interval,
		RunAtStartup:    cfg.RunAtStartup,
	}
}

// Mode names the kind of retention run.
type Mode string

const (
	ModeNormal    Mode = "normal"
	ModeEmergency Mode = "emergency"
)

// Report summarizes one run.
type Report struct {
	Mode           Mode                        `json:"mode" yaml:"mode"`
	Deleted        map[models.EntityType]int64 `json:"deleted" yaml:"deleted"`
	QueueCompleted int64                       `json:"queue_completed" yaml:"queue_completed"`
	QueueAbandoned int64                       `json:"queue_abandoned" yaml:"queue_abandoned"`
	Errors         []string                    `json:"errors,omitempty" yaml:"errors,omitempty"`
	Usage          *storage.Stats              `json:"usage,omitempty" yaml:"usage,omitempty"`
	StartedAt      time.Time                   `json:"started_at" yaml:"started_at"`
	Duration       time.Duration               `json:"duration" yaml:"duration"`
}

// Total returns the number of rows deleted.
func (r Report) Total() int64 {
	n := r.QueueCompleted + r.QueueAbandoned
	for _, d := range r.Deleted {
		n += d
	}
	return n
}

// Config wires a Manager.
type Config struct {
	Entities Entities
	Queue    Queue
	Sampler  Sampler
	Policy   Policy
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Manager runs retention. One run executes at a time.
type Manager struct {
	entities Entities
	queue    Queue
	sampler  Sampler
	policy   Policy
	clock    clockwork.Clock
	logger   *slog.Logger

	mu        sync.Mutex
	emergency chan struct{}
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	def := DefaultPolicy()
	if cfg.Policy.Windows == nil {
		cfg.Policy.Windows = def.Windows
	}
	if cfg.Policy.BatchSize <= 0 {
		cfg.Policy.BatchSize = def.BatchSize
	}
	if cfg.Policy.Interval <= 0 {
		cfg.Policy.Interval = def.Interval
	}
	if cfg.Policy.CompletedQueue <= 0 {
		cfg.Policy.CompletedQueue = def.CompletedQueue
	}
	if cfg.Policy.EmergencyWindow <= 0 {
		cfg.Policy.EmergencyWindow = def.EmergencyWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Manager{
		entities:  cfg.Entities,
		queue:     cfg.Queue,
		sampler:   cfg.Sampler,
		policy:    cfg.Policy,
		clock:     cfg.Clock,
		logger:    logging.Component(cfg.Logger, "retention"),
		emergency: make(chan struct{}, 1),
	}
}

// RunNormal deletes synced rows older than their normal windows and
// finished queue entries.
func (m *Manager) RunNormal(ctx context.Context) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run(ctx, ModeNormal)
}

// RunEmergency narrows every entity window to the emergency window, then
// measures storage again. Storage that is still critical is reported as
// ErrCapacityCritical; un-synced rows are never deleted to relieve it.
func (m *Manager) RunEmergency(ctx context.Context) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report, err := m.run(ctx, ModeEmergency)
	if err != nil {
		return report, err
	}
	if m.sampler == nil {
		return report, nil
	}

	usage := m.sampler.Measure(ctx)
	report.Usage = &usage
	if usage.Level == storage.LevelCritical {
		m.logger.Error("storage still critical after emergency retention",
			"usage_percent", usage.UsagePercent, "deleted", report.Total())
		return report, ErrCapacityCritical
	}
	return report, nil
}

// RequestEmergency asks Run for an emergency pass. Requests made while one
// is pending are coalesced. It never blocks, so it is safe to call from a
// storage callback.
func (m *Manager) RequestEmergency() {
	select {
	case m.emergency <- struct{}{}:
	default:
	}
}

// Run performs a normal run at start when configured, then one every
// interval, plus emergency runs on request, until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.policy.Interval)
	defer ticker.Stop()

	if m.policy.RunAtStartup {
		m.logRun(m.RunNormal(ctx))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			m.logRun(m.RunNormal(ctx))
		case <-m.emergency:
			m.logRun(m.RunEmergency(ctx))
		}
	}
}

func (m *Manager) logRun(report Report, err error) {
	switch {
	case apperrors.Is(err, apperrors.ErrCapacityCritical):
		// Already logged with usage.
	case err != nil:
		m.logger.Error("retention run failed", "mode", string(report.Mode), logging.Err(err))
	}
}

// window returns the retention window of t for mode.
func (m *Manager) window(t models.EntityType, mode Mode) (time.Duration, bool) {
	w, ok := m.policy.Windows[t]
	if !ok || w <= 0 {
		return 0, false
	}
	if mode == ModeEmergency && m.policy.EmergencyWindow < w {
		w = m.policy.EmergencyWindow
	}
	return w, true
}

// run deletes in batches. A failing step is recorded and the run continues
// with the next one.
func (m *Manager) run(ctx context.Context, mode Mode) (Report, error) {
	now := m.clock.Now().UTC()
	report := Report{
		Mode:      mode,
		Deleted:   make(map[models.EntityType]int64),
		StartedAt: now,
	}

	for _, t := range models.EntityTypes() {
		w, ok := m.window(t, mode)
		if !ok {
			continue
		}
		cutoff := now.Add(-w)
		n, err := m.batched(ctx, func(ctx context.Context, limit int) (int64, error) {
			return m.entities.DeleteSyncedBefore(ctx, t, cutoff, limit)
		})
		report.Deleted[t] = n
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", t, err))
		}
	}

	n, err := m.batched(ctx, func(ctx context.Context, limit int) (int64, error) {
		return m.queue.DeleteCompletedBefore(ctx, now.Add(-m.policy.CompletedQueue), limit)
	})
	report.QueueCompleted = n
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("completed queue: %v", err))
	}

	n, err = m.batched(ctx, m.queue.DeleteAbandoned)
	report.QueueAbandoned = n
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("abandoned queue: %v", err))
	}

	report.Duration = m.clock.Since(now)

	if err := ctx.Err(); err != nil {
		return report, err
	}

	m.logger.Info("retention run finished",
		"mode", string(mode), "deleted", report.Total(),
		"queue_completed", report.QueueCompleted, "queue_abandoned", report.QueueAbandoned,
		"errors", len(report.Errors))
	return report, nil
}

// batched calls del with the batch size until a batch comes back short.
func (m *Manager) batched(ctx context.Context, del func(ctx context.Context, limit int) (int64, error)) (int64, error) {
	var total int64
	limit := m.policy.BatchSize
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := del(ctx, limit)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(limit) {
			return total, nil
		}
	}
}
