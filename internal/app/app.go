// Package app wires the sync core together and runs its background loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/config"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/db"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/network"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/retention"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/services"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/storage"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/sync/conflict"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/sync/queue"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/sync/scheduler"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/trust"
)

// errNoAuthority is returned by the validator used when no validation URL
// is configured, so the device runs on its grace period.
var errNoAuthority = errors.New("no trust validation endpoint configured")

// Options supplies the collaborators the host application owns. Every
// field is optional.
type Options struct {
	// Transport delivers queued operations. Without one nothing drains.
	Transport queue.Transport
	// Validator overrides the HTTP validator built from configuration.
	Validator trust.Validator
	// Network overrides the observer built from configuration.
	Network   network.Observer
	Estimator storage.Estimator
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

// App holds every component of the sync core.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	DB         *db.DB
	Entities   *db.EntityRepository
	Operations *db.QueueRepository
	Conflicts  *db.ConflictRepository
	Sessions   *db.SessionRepository

	Network   network.Observer
	Queue     *queue.Manager
	Scheduler *scheduler.Scheduler // nil without a transport
	Resolver  *conflict.Resolver
	Monitor   *storage.Monitor
	Retention *retention.Manager
	Trust     *trust.Machine
	Mutations *services.MutationService

	prober *network.Prober

	mu     sync.Mutex
	runCtx context.Context
}

// New opens and migrates the database, wires every component and restores
// the cached trust session.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	logger := logging.OrDefault(opts.Logger)

	d, err := db.Open(cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		return nil, err
	}
	applied, err := db.Migrate(ctx, d.DB)
	if err != nil {
		d.Close()
		return nil, err
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", "versions", applied)
	}

	a := &App{
		cfg:        cfg,
		logger:     logging.Component(logger, "app"),
		DB:         d,
		Entities:   db.NewEntityRepository(d.DB),
		Operations: db.NewQueueRepository(d.DB),
		Conflicts:  db.NewConflictRepository(d.DB),
		Sessions:   db.NewSessionRepository(d.DB),
	}
	tx := db.NewTxManager(d.DB)

	a.Network = opts.Network
	if a.Network == nil {
		if cfg.Network.ProbeURL != "" {
			a.prober = network.NewProber(cfg.Network.ProbeURL, cfg.Network.ProbeInterval,
				cfg.Network.ProbeTimeout, opts.Clock, logger)
			a.Network = a.prober
		} else {
			a.Network = network.NewManual(true)
		}
	}

	a.Resolver = conflict.NewResolver(conflict.ResolverConfig{
		Conflicts:    a.Conflicts,
		Operations:   a.Operations,
		Entities:     a.Entities,
		Tx:           tx,
		Clock:        opts.Clock,
		Logger:       logger,
		SurfaceLimit: cfg.Conflicts.SurfaceLimit,
	})

	a.Queue = queue.NewManager(queue.Config{
		Store:       a.Operations,
		Entities:    a.Entities,
		Conflicts:   a.Resolver,
		Tx:          tx,
		Transport:   opts.Transport,
		Network:     a.Network,
		Clock:       opts.Clock,
		Logger:      logger,
		MaxAttempts: cfg.Sync.MaxAttempts,
	})
	if opts.Transport != nil {
		a.Scheduler = scheduler.New(a.Queue, a.Network, opts.Clock, logger, scheduler.Config{
			Interval: cfg.Sync.Interval,
			Debounce: cfg.Sync.Debounce,
		})
		a.Queue.SetNotifier(a.Scheduler)
	}

	estimator := opts.Estimator
	if estimator == nil {
		estimator = storage.NewSQLiteEstimator(d, cfg.Storage.QuotaBytes)
	}
	a.Monitor = storage.NewMonitor(storage.MonitorConfig{
		Estimator: estimator,
		Thresholds: storage.Thresholds{
			Warning:  cfg.Storage.WarningPercent,
			Critical: cfg.Storage.CriticalPercent,
		},
		Interval: cfg.Storage.SampleInterval,
		Clock:    opts.Clock,
		Logger:   logger,
	})

	a.Retention = retention.NewManager(retention.Config{
		Entities: a.Entities,
		Queue:    a.Operations,
		Sampler:  a.Monitor,
		Policy:   retention.PolicyFromConfig(cfg.Retention),
		Clock:    opts.Clock,
		Logger:   logger,
	})
	a.Monitor.OnCritical(func(context.Context, storage.Stats) {
		a.Retention.RequestEmergency()
	})

	validator := opts.Validator
	if validator == nil {
		validator = newValidator(cfg.Trust, logger)
	}
	a.Trust = trust.New(trust.Config{
		Store:              a.Sessions,
		Validator:          validator,
		Network:            a.Network,
		Clock:              opts.Clock,
		Logger:             logger,
		Mode:               cfg.Trust.Mode,
		AppVersion:         cfg.Device.AppVersion,
		IdentityKey:        cfg.Trust.IdentityKey,
		GracePeriod:        cfg.Trust.GracePeriod,
		RevalidateInterval: cfg.Trust.RevalidateInterval,
	})
	a.Trust.OnTransition(a.onTrust)

	a.Mutations = services.NewMutationService(services.Config{
		Trust:    a.Trust,
		Entities: a.Entities,
		Queue:    a.Queue,
		Tx:       tx,
		Detector: conflict.Detector{Buffer: cfg.Conflicts.Buffer},
		DeviceID: cfg.Device.ID,
		Clock:    opts.Clock,
		Logger:   logger,
	})

	state, err := a.Trust.Init(ctx)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("restore trust session: %w", err)
	}
	if !state.Operational() && a.Scheduler != nil {
		a.Scheduler.Pause()
	}
	a.logger.Info("sync core ready", "trust_state", string(state), "drains", a.Scheduler != nil)
	return a, nil
}

func newValidator(cfg config.TrustConfig, logger *slog.Logger) trust.Validator {
	if cfg.ValidateURL == "" {
		return trust.ValidatorFunc(func(context.Context, trust.Request) (trust.Response, error) {
			return trust.Response{}, errNoAuthority
		})
	}
	return trust.NewHTTPValidator(cfg.ValidateURL, cfg.Timeout, logger)
}

// Run runs the background loops until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.mu.Lock()
	a.runCtx = gctx
	a.mu.Unlock()

	if a.prober != nil {
		g.Go(func() error { return a.prober.Run(gctx) })
	}
	if a.Scheduler != nil {
		g.Go(func() error { return a.Scheduler.Run(gctx) })
	}
	g.Go(func() error { return a.Monitor.Run(gctx) })
	g.Go(func() error { return a.Retention.Run(gctx) })
	g.Go(func() error { return a.Trust.Run(gctx) })

	a.logger.Info("background loops started")
	err := g.Wait()
	a.logger.Info("background loops stopped")
	return err
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Status is a point-in-time view of the sync core.
type Status struct {
	Trust         trust.Snapshot    `json:"trust" yaml:"trust"`
	Queue         queue.Stats       `json:"queue" yaml:"queue"`
	OpenConflicts int               `json:"open_conflicts" yaml:"open_conflicts"`
	Storage       storage.Stats     `json:"storage" yaml:"storage"`
	Scheduler     *scheduler.Status `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	Online        bool              `json:"online" yaml:"online"`
}

// Status collects the state of every component.
func (a *App) Status(ctx context.Context) (Status, error) {
	qs, err := a.Queue.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	open, err := a.Conflicts.CountOpen(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Trust:         a.Trust.Snapshot(),
		Queue:         qs,
		OpenConflicts: open,
		Storage:       a.Monitor.Measure(ctx),
		Online:        a.Network.Online(),
	}
	if a.Scheduler != nil {
		ss := a.Scheduler.Status()
		st.Scheduler = &ss
	}
	return st, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

func (a *App) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runCtx != nil {
		return a.runCtx
	}
	return context.Background()
}

// onTrust applies the consequences of a trust transition. Blocked states
// pause delivery and never discard queued work or open conflicts.
func (a *App) onTrust(t trust.Transition) {
	ctx := a.context()

	switch {
	case t.To.Blocked():
		a.pause()
		if t.To == trust.StateDeactivated {
			stats, err := a.Queue.Stats(ctx)
			if err != nil {
				a.logger.Error("queue stats", logging.Err(err))
				return
			}
			a.logger.Warn("device deactivated, queued work kept",
				"pending", stats.Pending, "failed", stats.Failed)
		}

	case t.To.Operational() && !t.From.Operational():
		a.resume(ctx)
	}
}

func (a *App) pause() {
	if a.Scheduler != nil {
		a.Scheduler.Pause()
	}
}

// resume runs when the device becomes operational again: schema check,
// a fresh storage sample, then delivery resumes with an immediate drain.
func (a *App) resume(ctx context.Context) {
	pending, err := db.HasPendingMigrations(ctx, a.DB.DB)
	if err != nil {
		a.logger.Error("migration check", logging.Err(err))
	} else if pending {
		if _, err := db.Migrate(ctx, a.DB.DB); err != nil {
			a.logger.Error("migrate", logging.Err(err))
		}
	}

	stats := a.Monitor.Sample(ctx)
	a.logger.Info("device operational", "storage_level", string(stats.Level))

	if a.Scheduler != nil {
		a.Scheduler.Resume()
	}
}
