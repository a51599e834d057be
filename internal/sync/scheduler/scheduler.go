// Package scheduler decides when the sync queue drains: shortly after new
// work is enqueued, whenever connectivity returns, and on a fixed interval
// while online.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/network"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/sync/queue"
)

// Drainer is the part of the queue manager the scheduler drives.
type Drainer interface {
	Drain(ctx context.Context) (queue.DrainResult, error)
	Draining() bool
}

// Trigger names why a drain was started.
type Trigger string

const (
	TriggerEnqueue  Trigger = "enqueue"
	TriggerNetwork  Trigger = "network"
	TriggerInterval Trigger = "interval"
	TriggerManual   Trigger = "manual"
)

// Config holds scheduler timing.
type Config struct {
	// Interval between drains while online (default 30s).
	Interval time.Duration
	// Debounce is the window that coalesces bursts of enqueues (default 500ms).
	Debounce time.Duration
}

// DefaultConfig returns the default scheduler timing.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Debounce: 500 * time.Millisecond,
	}
}

// Status is a snapshot of scheduler state.
type Status struct {
	Running     bool              `json:"running" yaml:"running"`
	Paused      bool              `json:"paused" yaml:"paused"`
	Online      bool              `json:"online" yaml:"online"`
	Drains      int               `json:"drains" yaml:"drains"`
	LastTrigger Trigger           `json:"last_trigger,omitempty" yaml:"last_trigger,omitempty"`
	LastDrainAt *time.Time        `json:"last_drain_at,omitempty" yaml:"last_drain_at,omitempty"`
	LastResult  queue.DrainResult `json:"last_result" yaml:"last_result"`
	LastError   string            `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Scheduler runs drains from a single goroutine, so drains it starts never
// overlap. Concurrent drains started elsewhere are rejected by the queue.
type Scheduler struct {
	drainer  Drainer
	network  network.Observer
	clock    clockwork.Clock
	logger   *slog.Logger
	interval time.Duration
	debounce time.Duration

	notifyCh  chan struct{}
	triggerCh chan struct{}

	mu          sync.RWMutex
	running     bool
	paused      bool
	cancel      context.CancelFunc
	done        chan struct{}
	drains      int
	lastTrigger Trigger
	lastDrainAt time.Time
	lastResult  queue.DrainResult
	lastErr     error
}

// New creates a Scheduler. Zero Config fields take their defaults.
func New(drainer Drainer, observer network.Observer, clock clockwork.Clock, logger *slog.Logger, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if observer == nil {
		observer = network.NewManual(true)
	}
	return &Scheduler{
		drainer:   drainer,
		network:   observer,
		clock:     clock,
		logger:    logging.Component(logger, "scheduler"),
		interval:  cfg.Interval,
		debounce:  cfg.Debounce,
		notifyCh:  make(chan struct{}, 1),
		triggerCh: make(chan struct{}, 1),
	}
}

// Notify tells the scheduler new work was enqueued. It never blocks; a
// burst of calls within the debounce window produces one drain.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// TriggerNow requests a drain without waiting for the debounce window.
func (s *Scheduler) TriggerNow() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// Pause stops the scheduler from starting drains until Resume.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.logger.Info("scheduler paused")
}

// Resume re-enables drains and requests one immediately.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.logger.Info("scheduler resumed")
	s.TriggerNow()
}

// Start runs the scheduler in the background until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
}

// Stop halts a scheduler started with Start and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel, done := s.cancel, s.done
	s.mu.RUnlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run blocks, scheduling drains until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	sub := s.network.Subscribe()
	defer s.network.Unsubscribe(sub)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	var (
		debounce  clockwork.Timer
		debounceC <-chan time.Time
	)
	stopDebounce := func() {
		if debounce != nil {
			debounce.Stop()
		}
		debounce, debounceC = nil, nil
	}
	defer stopDebounce()

	s.logger.Info("scheduler started", "interval", s.interval.String(), "debounce", s.debounce.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil

		case <-s.notifyCh:
			// The window opens on the first notification and is not extended,
			// so a steady stream of writes still drains every window.
			if debounce == nil {
				debounce = s.clock.NewTimer(s.debounce)
				debounceC = debounce.Chan()
			}

		case <-debounceC:
			stopDebounce()
			s.drain(ctx, TriggerEnqueue)

		case <-s.triggerCh:
			stopDebounce()
			s.drain(ctx, TriggerManual)

		case online, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			s.logger.Info("connectivity changed", "online", online)
			if online {
				s.drain(ctx, TriggerNetwork)
			}

		case <-ticker.Chan():
			if s.network.Online() && !s.drainer.Draining() {
				s.drain(ctx, TriggerInterval)
			}
		}
	}
}

func (s *Scheduler) drain(ctx context.Context, trigger Trigger) {
	s.mu.RLock()
	paused := s.paused
	s.mu.RUnlock()
	if paused {
		s.logger.Debug("drain skipped while paused", "trigger", string(trigger))
		return
	}

	result, err := s.drainer.Drain(ctx)

	s.mu.Lock()
	s.drains++
	s.lastTrigger = trigger
	s.lastDrainAt = s.clock.Now().UTC()
	s.lastResult = result
	s.lastErr = err
	s.mu.Unlock()

	switch {
	case err == nil:
		s.logger.Debug("drain completed", "trigger", string(trigger), "synced", result.Synced)
	case apperrors.Is(err, apperrors.ErrSyncOffline), apperrors.Is(err, apperrors.ErrSyncAlreadyDraining):
		s.logger.Debug("drain skipped", "trigger", string(trigger), logging.Err(err))
	case ctx.Err() != nil:
	default:
		s.logger.Error("drain failed", "trigger", string(trigger), logging.Err(err))
	}
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running:     s.running,
		Paused:      s.paused,
		Online:      s.network.Online(),
		Drains:      s.drains,
		LastTrigger: s.lastTrigger,
		LastResult:  s.lastResult,
	}
	if !s.lastDrainAt.IsZero() {
		at := s.lastDrainAt
		st.LastDrainAt = &at
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
