// Package services applies local business mutations: a trust check, the
// appointment conflict check, then the entity row and its sync operation in
// one transaction.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/sync/conflict"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/sync/queue"
)

// DetectionWindow is how far around a proposed appointment existing ones
// are loaded for the conflict check.
const DetectionWindow = 24 * time.Hour

// Gate reports whether the device is refused operation. trust.Machine
// implements it.
type Gate interface {
	IsBlocked() bool
}

// Entities is the local entity store. db.EntityRepository implements it.
type Entities interface {
	Get(ctx context.Context, key models.EntityKey) (*models.Record, error)
	Put(ctx context.Context, rec *models.Record) error
	ListLiveAppointments(ctx context.Context, storeID string, from, to time.Time) ([]models.Appointment, error)
}

// Queue accepts committed mutations. queue.Manager implements it.
type Queue interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*models.SyncOperation, error)
}

// Transactor runs fn in one transaction.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config wires a MutationService.
type Config struct {
	Trust    Gate
	Entities Entities
	Queue    Queue
	Tx       Transactor
	Detector conflict.Detector
	DeviceID string
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// MutationService writes business entities locally and queues them for
// delivery.
type MutationService struct {
	trust    Gate
	entities Entities
	queue    Queue
	tx       Transactor
	detector conflict.Detector
	deviceID string
	clock    clockwork.Clock
	logger   *slog.Logger

	onSaved func(SaveResult)
}

// NewMutationService creates a MutationService.
func NewMutationService(cfg Config) *MutationService {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &MutationService{
		trust:    cfg.Trust,
		entities: cfg.Entities,
		queue:    cfg.Queue,
		tx:       cfg.Tx,
		detector: cfg.Detector,
		deviceID: cfg.DeviceID,
		clock:    cfg.Clock,
		logger:   logging.Component(cfg.Logger, "services"),
	}
}

// SetOnSaved registers a callback run after every committed mutation.
func (s *MutationService) SetOnSaved(fn func(SaveResult)) {
	s.onSaved = fn
}

// SaveOptions tunes SaveAppointment.
type SaveOptions struct {
	// Override commits the appointment despite detected conflicts.
	Override bool
}

// SaveResult describes a committed mutation. Conflicts lists what the
// detector reported, including for overridden saves.
type SaveResult struct {
	Record    *models.Record        `json:"record,omitempty"`
	Operation *models.SyncOperation `json:"operation,omitempty"`
	Conflicts []conflict.Candidate  `json:"conflicts,omitempty"`
}

// SaveAppointment checks appt against live appointments of its store and
// commits it. Detected conflicts are returned with ErrBookingConflict and
// nothing is written unless opts.Override is set.
func (s *MutationService) SaveAppointment(ctx context.Context, appt models.Appointment, opts SaveOptions) (SaveResult, error) {
	if err := s.gate(); err != nil {
		return SaveResult{}, err
	}
	if err := appt.Validate(); err != nil {
		return SaveResult{}, err
	}

	var res SaveResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		others, err := s.entities.ListLiveAppointments(ctx, appt.StoreID,
			appt.Start.Add(-DetectionWindow), appt.End.Add(DetectionWindow))
		if err != nil {
			return err
		}
		res.Conflicts = s.detector.Detect(appt, others)
		if len(res.Conflicts) > 0 && !opts.Override {
			return apperrors.New(apperrors.ErrBookingConflict,
				fmt.Sprintf("appointment %s has %d conflict(s)", appt.ID, len(res.Conflicts)))
		}
		return s.write(ctx, appt, &res)
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrBookingConflict) {
			return SaveResult{Conflicts: res.Conflicts}, err
		}
		return SaveResult{}, err
	}

	if len(res.Conflicts) > 0 {
		s.logger.Warn("appointment saved over conflicts",
			"appointment_id", appt.ID, "conflicts", len(res.Conflicts))
	}
	s.saved(res)
	return res, nil
}

// SaveTicket commits a ticket.
func (s *MutationService) SaveTicket(ctx context.Context, t models.Ticket) (SaveResult, error) {
	return s.save(ctx, t)
}

// SaveTransaction commits a payment transaction.
func (s *MutationService) SaveTransaction(ctx context.Context, t models.Transaction) (SaveResult, error) {
	return s.save(ctx, t)
}

func (s *MutationService) save(ctx context.Context, p models.Payload) (SaveResult, error) {
	if err := s.gate(); err != nil {
		return SaveResult{}, err
	}
	if err := p.Validate(); err != nil {
		return SaveResult{}, err
	}

	var res SaveResult
	if err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.write(ctx, p, &res)
	}); err != nil {
		return SaveResult{}, err
	}
	s.saved(res)
	return res, nil
}

// DeleteEntity tombstones the row of key and queues the delete. The row is
// removed once the remote store accepts it.
func (s *MutationService) DeleteEntity(ctx context.Context, key models.EntityKey) (SaveResult, error) {
	if err := s.gate(); err != nil {
		return SaveResult{}, err
	}

	var res SaveResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		rec, err := s.entities.Get(ctx, key)
		if err != nil {
			return err
		}
		if rec.Deleted {
			return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("%s already deleted", key))
		}

		rec.Deleted = true
		rec.SyncStatus = models.SyncStatusPending
		rec.DeviceID = s.deviceID
		rec.UpdatedAt = s.clock.Now().UTC()
		if err := s.entities.Put(ctx, rec); err != nil {
			return err
		}

		op, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
			Kind:        models.OperationDelete,
			EntityType:  key.Type,
			EntityID:    key.ID,
			StoreID:     rec.StoreID,
			BaseVersion: rec.Version,
		})
		if err != nil {
			return err
		}
		res.Record, res.Operation = rec, op
		return nil
	})
	if err != nil {
		return SaveResult{}, err
	}
	s.saved(res)
	return res, nil
}

// write stores p as pending and enqueues its create or update. It must run
// inside a transaction.
func (s *MutationService) write(ctx context.Context, p models.Payload, res *SaveResult) error {
	key := models.KeyOf(p)
	kind := models.OperationCreate
	var version int64

	existing, err := s.entities.Get(ctx, key)
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
	case err != nil:
		return err
	case existing.Deleted:
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("%s was deleted", key))
	default:
		kind = models.OperationUpdate
		version = existing.Version
	}

	rec, err := models.NewRecord(p, models.SyncStatusPending, s.deviceID, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	rec.Version = version
	if err := s.entities.Put(ctx, rec); err != nil {
		return err
	}

	op, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		Kind:        kind,
		EntityType:  key.Type,
		EntityID:    key.ID,
		StoreID:     p.OwningStore(),
		Payload:     p,
		BaseVersion: version,
	})
	if err != nil {
		return err
	}
	res.Record, res.Operation = rec, op
	return nil
}

func (s *MutationService) gate() error {
	if s.trust != nil && s.trust.IsBlocked() {
		return apperrors.New(apperrors.ErrTrustBlocked, "device is not permitted to operate")
	}
	return nil
}

func (s *MutationService) saved(res SaveResult) {
	if res.Operation != nil {
		s.logger.Debug("mutation committed",
			"op_id", res.Operation.ID, "kind", res.Operation.Kind, "entity", res.Operation.Key().String())
	}
	if s.onSaved != nil {
		s.onSaved(res)
	}
}
