package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/uuid"
)

// DefaultSurfaceLimit is how many open conflicts are shown to a human at
// once.
const DefaultSurfaceLimit = 3

// ConflictStore persists conflict records. db.ConflictRepository
// implements it.
type ConflictStore interface {
	Insert(ctx context.Context, c *models.ConflictRecord) error
	Get(ctx context.Context, id string) (*models.ConflictRecord, error)
	OpenForOperation(ctx context.Context, opID string) (*models.ConflictRecord, error)
	List(ctx context.Context, status models.ConflictStatus, limit int) ([]*models.ConflictRecord, error)
	Close(ctx context.Context, id string, status models.ConflictStatus, resolution models.ResolutionKind, at time.Time) error
}

// OperationStore is the part of the sync queue resolution rewrites.
type OperationStore interface {
	Get(ctx context.Context, id string) (*models.SyncOperation, error)
	Rebase(ctx context.Context, id string, baseVersion int64, payload models.Payload, at time.Time) error
	AdvanceBase(ctx context.Context, key models.EntityKey, from, to int64, at time.Time) (int64, error)
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error
	CompletePendingForEntity(ctx context.Context, key models.EntityKey, at time.Time) (int64, error)
}

// EntityStore is the part of the local entity store resolution rewrites.
type EntityStore interface {
	Get(ctx context.Context, key models.EntityKey) (*models.Record, error)
	Put(ctx context.Context, rec *models.Record) error
	SetSyncStatus(ctx context.Context, key models.EntityKey, status models.SyncStatus, at time.Time) error
	Remove(ctx context.Context, key models.EntityKey) error
}

// Transactor runs fn in one transaction.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Resolution is a human decision about one conflict.
type Resolution struct {
	Kind models.ResolutionKind
	// Merged is the caller-built record for ResolutionMerged.
	Merged models.Payload
}

// ResolverConfig wires a Resolver.
type ResolverConfig struct {
	Conflicts    ConflictStore
	Operations   OperationStore
	Entities     EntityStore
	Tx           Transactor
	Clock        clockwork.Clock
	Logger       *slog.Logger
	SurfaceLimit int
}

// Resolver records divergences reported by the transport and applies
// decisions about them. Each record is handled on its own; resolving one
// never touches another.
type Resolver struct {
	conflicts    ConflictStore
	operations   OperationStore
	entities     EntityStore
	tx           Transactor
	clock        clockwork.Clock
	logger       *slog.Logger
	surfaceLimit int

	mu        sync.Mutex
	subs      map[<-chan *models.ConflictRecord]chan *models.ConflictRecord
	announced map[string]bool
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.SurfaceLimit <= 0 {
		cfg.SurfaceLimit = DefaultSurfaceLimit
	}
	return &Resolver{
		conflicts:    cfg.Conflicts,
		operations:   cfg.Operations,
		entities:     cfg.Entities,
		tx:           cfg.Tx,
		clock:        cfg.Clock,
		logger:       logging.Component(cfg.Logger, "conflicts"),
		surfaceLimit: cfg.SurfaceLimit,
		subs:         make(map[<-chan *models.ConflictRecord]chan *models.ConflictRecord),
		announced:    make(map[string]bool),
	}
}

// Record stores an open conflict for op. Recording the same operation twice
// returns the existing open record.
func (r *Resolver) Record(ctx context.Context, op *models.SyncOperation, remote *models.RemoteVersion) (*models.ConflictRecord, error) {
	if remote == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "conflict for "+op.ID+" carries no remote version")
	}

	existing, err := r.conflicts.OpenForOperation(ctx, op.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	local, err := models.EncodePayload(op.Payload)
	if err != nil {
		return nil, err
	}

	rec := &models.ConflictRecord{
		ID:               uuid.NewOrdered(),
		OperationID:      op.ID,
		EntityType:       op.EntityType,
		EntityID:         op.EntityID,
		StoreID:          op.StoreID,
		LocalPayload:     local,
		RemotePayload:    remote.Payload,
		LocalModifiedAt:  op.UpdatedAt,
		RemoteModifiedAt: remote.ModifiedAt,
		RemoteDeviceID:   remote.DeviceID,
		RemoteUserID:     remote.UserID,
		BaseVersion:      op.BaseVersion,
		RemoteVersion:    remote.Version,
		Status:           models.ConflictOpen,
		DetectedAt:       r.clock.Now().UTC(),
	}
	if ent, err := r.entities.Get(ctx, op.Key()); err == nil {
		rec.LocalDeviceID = ent.DeviceID
		rec.LocalModifiedAt = ent.UpdatedAt
	} else if !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	if err := r.conflicts.Insert(ctx, rec); err != nil {
		return nil, err
	}
	r.logger.Warn("conflict recorded",
		"conflict_id", rec.ID, "op_id", op.ID, "entity", op.Key().String(),
		"base_version", op.BaseVersion, "remote_version", remote.Version)

	r.announce(ctx)
	return rec, nil
}

// Get returns the conflict record with id.
func (r *Resolver) Get(ctx context.Context, id string) (*models.ConflictRecord, error) {
	return r.conflicts.Get(ctx, id)
}

// List returns records with status, oldest first.
func (r *Resolver) List(ctx context.Context, status models.ConflictStatus, limit int) ([]*models.ConflictRecord, error) {
	return r.conflicts.List(ctx, status, limit)
}

// Surfaced returns the open records shown to a human, oldest first. Open
// records beyond the surface limit wait their turn.
func (r *Resolver) Surfaced(ctx context.Context) ([]*models.ConflictRecord, error) {
	return r.conflicts.List(ctx, models.ConflictOpen, r.surfaceLimit)
}

// Resolve applies res to the open conflict id.
func (r *Resolver) Resolve(ctx context.Context, id string, res Resolution) error {
	now := r.clock.Now().UTC()

	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		rec, err := r.openRecord(ctx, id)
		if err != nil {
			return err
		}
		op, err := r.suspendedOperation(ctx, rec)
		if err != nil {
			return err
		}

		switch res.Kind {
		case models.ResolutionKeepLocal:
			err = r.keepLocal(ctx, rec, op, now)
		case models.ResolutionKeepRemote:
			err = r.keepRemote(ctx, rec, now)
		case models.ResolutionMerged:
			err = r.merge(ctx, rec, op, res.Merged, now)
		default:
			err = apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown resolution %q", res.Kind))
		}
		if err != nil {
			return err
		}
		return r.conflicts.Close(ctx, rec.ID, models.ConflictResolved, res.Kind, now)
	})
	if err != nil {
		return err
	}

	r.logger.Info("conflict resolved", "conflict_id", id, "resolution", string(res.Kind))
	r.announce(ctx)
	return nil
}

// keepLocal retries the local write over the remote version on the next
// drain.
func (r *Resolver) keepLocal(ctx context.Context, rec *models.ConflictRecord, op *models.SyncOperation, now time.Time) error {
	if err := r.entities.SetSyncStatus(ctx, rec.Key(), models.SyncStatusPending, now); err != nil &&
		!apperrors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return r.rebase(ctx, rec, op, nil, now)
}

// keepRemote adopts the remote copy and discards the queued local writes.
func (r *Resolver) keepRemote(ctx context.Context, rec *models.ConflictRecord, now time.Time) error {
	remote, err := models.DecodePayload(rec.EntityType, rec.RemotePayload)
	if err != nil {
		return err
	}

	if remote == nil {
		if err := r.entities.Remove(ctx, rec.Key()); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}
	} else {
		ent, err := models.NewRecord(remote, models.SyncStatusSynced, rec.RemoteDeviceID, now)
		if err != nil {
			return err
		}
		ent.Version = rec.RemoteVersion
		if err := r.entities.Put(ctx, ent); err != nil {
			return err
		}
	}

	_, err = r.operations.CompletePendingForEntity(ctx, rec.Key(), now)
	return err
}

// merge writes the caller's merged record locally and requeues it.
func (r *Resolver) merge(ctx context.Context, rec *models.ConflictRecord, op *models.SyncOperation, merged models.Payload, now time.Time) error {
	if merged == nil {
		return apperrors.New(apperrors.ErrInvalidPayload, "merged resolution needs a payload")
	}
	if merged.EntityType() != rec.EntityType || merged.PrimaryKey() != rec.EntityID {
		return apperrors.New(apperrors.ErrInvalidPayload,
			fmt.Sprintf("merged payload is %s/%s, conflict is %s", merged.EntityType(), merged.PrimaryKey(), rec.Key()))
	}
	if err := merged.Validate(); err != nil {
		return err
	}

	ent, err := models.NewRecord(merged, models.SyncStatusPending, rec.LocalDeviceID, now)
	if err != nil {
		return err
	}
	ent.Version = rec.RemoteVersion
	if err := r.entities.Put(ctx, ent); err != nil {
		return err
	}
	return r.rebase(ctx, rec, op, merged, now)
}

// rebase points the suspended operation, and later operations that
// assumed the same stale version, at the remote version.
func (r *Resolver) rebase(ctx context.Context, rec *models.ConflictRecord, op *models.SyncOperation, payload models.Payload, now time.Time) error {
	if op == nil {
		return nil
	}
	if err := r.operations.Rebase(ctx, op.ID, rec.RemoteVersion, payload, now); err != nil {
		return err
	}
	_, err := r.operations.AdvanceBase(ctx, rec.Key(), op.BaseVersion, rec.RemoteVersion, now)
	return err
}

// Dismiss closes the conflict without a decision. The suspended operation
// is abandoned for operator inspection and the entity stays pending, so the
// local write is never deleted by retention.
func (r *Resolver) Dismiss(ctx context.Context, id string) error {
	now := r.clock.Now().UTC()

	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		rec, err := r.openRecord(ctx, id)
		if err != nil {
			return err
		}
		op, err := r.suspendedOperation(ctx, rec)
		if err != nil {
			return err
		}
		if op != nil && op.Status == models.OperationPending {
			if err := r.operations.MarkFailed(ctx, op.ID, "conflict "+rec.ID+" dismissed", now); err != nil {
				return err
			}
		}
		return r.conflicts.Close(ctx, rec.ID, models.ConflictDismissed, "", now)
	})
	if err != nil {
		return err
	}

	r.logger.Info("conflict dismissed", "conflict_id", id)
	r.announce(ctx)
	return nil
}

func (r *Resolver) openRecord(ctx context.Context, id string) (*models.ConflictRecord, error) {
	rec, err := r.conflicts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Open() {
		return nil, apperrors.New(apperrors.ErrConflictClosed, "conflict "+id+" is "+string(rec.Status))
	}
	return rec, nil
}

// suspendedOperation returns the queued operation of rec, or nil when it
// no longer exists.
func (r *Resolver) suspendedOperation(ctx context.Context, rec *models.ConflictRecord) (*models.SyncOperation, error) {
	op, err := r.operations.Get(ctx, rec.OperationID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return op, err
}

// Subscribe returns a channel receiving each record as it becomes
// surfaced. Slow readers miss records rather than block resolution.
func (r *Resolver) Subscribe() <-chan *models.ConflictRecord {
	ch := make(chan *models.ConflictRecord, r.surfaceLimit)
	r.mu.Lock()
	r.subs[ch] = ch
	r.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (r *Resolver) Unsubscribe(ch <-chan *models.ConflictRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.subs[ch]; ok {
		delete(r.subs, ch)
		close(c)
	}
}

// announce publishes records that entered the surfaced window since the
// last call.
func (r *Resolver) announce(ctx context.Context) {
	surfaced, err := r.Surfaced(ctx)
	if err != nil {
		r.logger.Error("list surfaced conflicts", logging.Err(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := make(map[string]bool, len(surfaced))
	for _, rec := range surfaced {
		current[rec.ID] = true
		if r.announced[rec.ID] {
			continue
		}
		for _, c := range r.subs {
			select {
			case c <- rec:
			default:
				r.logger.Debug("conflict subscriber full", "conflict_id", rec.ID)
			}
		}
	}
	r.announced = current
}

// Suggest proposes a resolution by last write wins. Ties keep the local
// copy.
func Suggest(rec *models.ConflictRecord) models.ResolutionKind {
	if rec.RemoteModifiedAt.After(rec.LocalModifiedAt) {
		return models.ResolutionKeepRemote
	}
	return models.ResolutionKeepLocal
}

// MergeFields builds a merged JSON object from remote with the named
// top-level fields taken from local. A named field absent from local is
// removed.
func MergeFields(local, remote json.RawMessage, localFields []string) (json.RawMessage, error) {
	var l, out map[string]json.RawMessage
	if err := json.Unmarshal(local, &l); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidPayload, "decode local payload", err)
	}
	if err := json.Unmarshal(remote, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidPayload, "decode remote payload", err)
	}
	if out == nil {
		out = make(map[string]json.RawMessage)
	}

	for _, f := range localFields {
		if v, ok := l[f]; ok {
			out[f] = v
		} else {
			delete(out, f)
		}
	}

	merged, err := json.Marshal(out)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidPayload, "encode merged payload", err)
	}
	return merged, nil
}
