// Package queue provides the durable sync queue and its drain loop.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/network"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/uuid"
)

var (
	// ErrOffline is returned by Drain while the network is unreachable.
	ErrOffline = apperrors.New(apperrors.ErrSyncOffline, "offline")
	// ErrAlreadyDraining is returned by Drain while another drain runs.
	ErrAlreadyDraining = apperrors.New(apperrors.ErrSyncAlreadyDraining, "already draining")
	// ErrNoTransport is returned by Drain when no Transport is configured.
	ErrNoTransport = apperrors.New(apperrors.ErrSyncFailed, "no transport configured")
)

// PriorityFor returns the default queue priority of an entity type.
func PriorityFor(t models.EntityType) int {
	switch t {
	case models.EntityTransaction:
		return models.PriorityCritical
	case models.EntityTicket, models.EntityAppointment:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// Config wires a Manager.
type Config struct {
	Store     Store
	Entities  Entities
	Conflicts ConflictSink
	Tx        Transactor
	Transport Transport
	Network   network.Observer
	Clock     clockwork.Clock
	Logger    *slog.Logger
	// MaxAttempts is the retry cap of new operations (default 5).
	MaxAttempts int
}

// Manager owns the sync queue. At most one drain runs at a time and
// operations are delivered sequentially.
type Manager struct {
	store       Store
	entities    Entities
	conflicts   ConflictSink
	tx          Transactor
	transport   Transport
	network     network.Observer
	clock       clockwork.Clock
	logger      *slog.Logger
	maxAttempts int

	draining atomic.Bool

	mu       sync.RWMutex
	notifier Notifier
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = models.DefaultMaxAttempts
	}
	if cfg.Network == nil {
		cfg.Network = network.NewManual(true)
	}
	return &Manager{
		store:       cfg.Store,
		entities:    cfg.Entities,
		conflicts:   cfg.Conflicts,
		tx:          cfg.Tx,
		transport:   cfg.Transport,
		network:     cfg.Network,
		clock:       cfg.Clock,
		logger:      logging.Component(cfg.Logger, "queue"),
		maxAttempts: cfg.MaxAttempts,
	}
}

// SetNotifier installs the scheduler told about new work.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	m.notifier = n
	m.mu.Unlock()
}

func (m *Manager) notify() {
	if !m.network.Online() {
		return
	}
	m.mu.RLock()
	n := m.notifier
	m.mu.RUnlock()
	if n != nil {
		n.Notify()
	}
}

// EnqueueRequest describes a committed local mutation.
type EnqueueRequest struct {
	Kind       models.OperationKind
	EntityType models.EntityType
	EntityID   string
	StoreID    string
	// Payload is required for create and update, optional for delete.
	Payload models.Payload
	// Priority defaults to PriorityFor(EntityType) when zero.
	Priority int
	// BaseVersion is the remote version the mutation assumed; 0 for new
	// entities.
	BaseVersion int64
}

func (r *EnqueueRequest) validate() error {
	if !r.Kind.Valid() {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown operation kind %q", r.Kind))
	}
	if !r.EntityType.Valid() {
		return apperrors.New(apperrors.ErrUnknownEntityType, fmt.Sprintf("unknown entity type %q", r.EntityType))
	}
	if r.EntityID == "" {
		return apperrors.New(apperrors.ErrInvalid, "entity id is required")
	}
	if r.Priority < 0 {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("priority must be positive (got %d)", r.Priority))
	}
	if r.Payload == nil {
		if r.Kind == models.OperationDelete {
			return nil
		}
		return apperrors.New(apperrors.ErrInvalidPayload, fmt.Sprintf("%s of %s requires a payload", r.Kind, r.EntityType))
	}
	if r.Payload.EntityType() != r.EntityType {
		return apperrors.New(apperrors.ErrInvalidPayload,
			fmt.Sprintf("payload is %s, operation targets %s", r.Payload.EntityType(), r.EntityType))
	}
	if r.Payload.PrimaryKey() != r.EntityID {
		return apperrors.New(apperrors.ErrInvalidPayload,
			fmt.Sprintf("payload id %q does not match entity id %q", r.Payload.PrimaryKey(), r.EntityID))
	}
	return r.Payload.Validate()
}

// Enqueue appends an operation and, when online, schedules a drain.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (*models.SyncOperation, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC()
	priority := req.Priority
	if priority == 0 {
		priority = PriorityFor(req.EntityType)
	}
	storeID := req.StoreID
	if storeID == "" && req.Payload != nil {
		storeID = req.Payload.OwningStore()
	}

	op := &models.SyncOperation{
		ID:          uuid.NewOrdered(),
		Kind:        req.Kind,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		StoreID:     storeID,
		Payload:     req.Payload,
		BaseVersion: req.BaseVersion,
		Priority:    priority,
		MaxAttempts: m.maxAttempts,
		Status:      models.OperationPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Insert(ctx, op); err != nil {
		return nil, err
	}

	m.logger.Debug("operation enqueued",
		"op_id", op.ID, "kind", op.Kind, "entity", op.Key().String(), "priority", op.Priority)

	m.notify()
	return op, nil
}

// DrainResult summarizes one drain.
type DrainResult struct {
	Synced    int      `json:"synced" yaml:"synced"`
	Failed    int      `json:"failed" yaml:"failed"`
	Abandoned int      `json:"abandoned" yaml:"abandoned"`
	Conflicts int      `json:"conflicts" yaml:"conflicts"`
	Skipped   int      `json:"skipped" yaml:"skipped"`
	Errors    []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Draining reports whether a drain is in progress.
func (m *Manager) Draining() bool {
	return m.draining.Load()
}

// Drain delivers every pending operation in (priority, creation) order.
// Per-item failures are collected in the result and never abort the
// drain. Once an operation on an entity fails or conflicts, later
// operations on that entity wait for the next drain so writes to one
// entity are never reordered.
func (m *Manager) Drain(ctx context.Context) (DrainResult, error) {
	var result DrainResult

	if m.transport == nil {
		return result, ErrNoTransport
	}
	if !m.network.Online() {
		return result, ErrOffline
	}
	if !m.draining.CompareAndSwap(false, true) {
		return result, ErrAlreadyDraining
	}
	defer m.draining.Store(false)

	ops, err := m.store.Pending(ctx)
	if err != nil {
		return result, err
	}

	held := make(map[models.EntityKey]bool)
	fail := func(op *models.SyncOperation, err error) {
		held[op.Key()] = true
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", op.ID, op.Key(), err))
		if m.recordFailure(ctx, op, err) {
			result.Abandoned++
		}
	}
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		key := op.Key()
		if held[key] {
			result.Skipped++
			continue
		}

		res, sendErr := m.transport.Send(ctx, op)
		switch {
		case sendErr != nil:
			fail(op, sendErr)

		case res.Outcome == OutcomeConflict && res.Remote == nil:
			fail(op, apperrors.New(apperrors.ErrSyncConflict, "conflict reported without a remote version"))

		case res.Outcome == OutcomeConflict:
			held[key] = true
			result.Conflicts++
			if _, err := m.conflicts.Record(ctx, op, res.Remote); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s %s: record conflict: %v", op.ID, key, err))
				m.logger.Error("record conflict", "op_id", op.ID, "entity", key.String(), logging.Err(err))
				continue
			}
			m.logger.Info("conflict detected", "op_id", op.ID, "entity", key.String())

		case res.Outcome == OutcomeAccepted:
			version, err := m.complete(ctx, op, res.Version)
			if err != nil {
				held[key] = true
				result.Errors = append(result.Errors, fmt.Sprintf("%s %s: complete: %v", op.ID, key, err))
				m.logger.Error("complete operation", "op_id", op.ID, "entity", key.String(), logging.Err(err))
				continue
			}
			for _, later := range ops[i+1:] {
				if later.Key() == key && later.BaseVersion == op.BaseVersion {
					later.BaseVersion = version
				}
			}
			result.Synced++

		default:
			fail(op, apperrors.New(apperrors.ErrSyncFailed, fmt.Sprintf("unknown delivery outcome %q", res.Outcome)))
		}
	}

	if len(ops) > 0 {
		m.logger.Info("drain finished",
			"synced", result.Synced, "failed", result.Failed, "conflicts", result.Conflicts,
			"skipped", result.Skipped, "abandoned", result.Abandoned)
	}
	return result, nil
}

// recordFailure counts a failed attempt and reports whether it exhausted
// the operation.
func (m *Manager) recordFailure(ctx context.Context, op *models.SyncOperation, sendErr error) bool {
	updated, err := m.store.RecordFailure(ctx, op.ID, sendErr.Error(), m.clock.Now().UTC())
	if err != nil {
		m.logger.Error("record failure", "op_id", op.ID, logging.Err(err))
		return false
	}
	if updated.Status == models.OperationFailed {
		m.logger.Warn("operation abandoned",
			"op_id", op.ID, "entity", op.Key().String(), "attempts", updated.Attempts, logging.Err(sendErr))
		return true
	}
	m.logger.Debug("delivery failed",
		"op_id", op.ID, "attempts", updated.Attempts, "max_attempts", updated.MaxAttempts, logging.Err(sendErr))
	return false
}

// complete records remote acceptance and returns the accepted version.
// The entity is marked synced only when no later operation on it is
// still pending.
func (m *Manager) complete(ctx context.Context, op *models.SyncOperation, version int64) (int64, error) {
	now := m.clock.Now().UTC()
	if version == 0 {
		version = op.BaseVersion
	}
	key := op.Key()

	err := m.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := m.store.MarkCompleted(ctx, op.ID, now); err != nil {
			return err
		}
		if _, err := m.store.AdvanceBase(ctx, key, op.BaseVersion, version, now); err != nil {
			return err
		}
		rest, err := m.store.PendingForEntity(ctx, key)
		if err != nil {
			return err
		}
		if len(rest) > 0 {
			return nil
		}
		if op.Kind == models.OperationDelete {
			return m.entities.Remove(ctx, key)
		}
		err = m.entities.MarkSynced(ctx, key, version, now)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	})
	return version, err
}

// Stats counts queued operations by status.
type Stats struct {
	Pending   int  `json:"pending" yaml:"pending"`
	Failed    int  `json:"failed" yaml:"failed"`
	Completed int  `json:"completed" yaml:"completed"`
	Draining  bool `json:"draining" yaml:"draining"`
}

// Stats reports queue counts.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	counts, err := m.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:   counts[models.OperationPending],
		Failed:    counts[models.OperationFailed],
		Completed: counts[models.OperationCompleted],
		Draining:  m.Draining(),
	}, nil
}

// List returns queued operations, filtered by status when set.
func (m *Manager) List(ctx context.Context, status models.OperationStatus, limit int) ([]*models.SyncOperation, error) {
	return m.store.List(ctx, status, limit)
}

// RetryFailed returns abandoned operations to the queue with a fresh
// attempt budget.
func (m *Manager) RetryFailed(ctx context.Context) (int64, error) {
	n, err := m.store.ResetFailed(ctx, m.clock.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("failed operations reset", "count", n)
		m.notify()
	}
	return n, nil
}
