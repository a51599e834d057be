package queue

import (
	"context"
	"time"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
)

// Outcome is the result class of delivering one operation.
type Outcome string

const (
	// OutcomeAccepted means the remote store applied the operation.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeConflict means the remote version diverged from the one the
	// operation assumed; Remote carries it.
	OutcomeConflict Outcome = "conflict"
)

// SendResult is what the transport reports for a delivered operation. A
// transport error is the third outcome and is returned as the error.
type SendResult struct {
	Outcome Outcome
	// Version is the remote version after acceptance.
	Version int64
	Remote  *models.RemoteVersion
}

// Transport delivers one operation to the remote store.
type Transport interface {
	Send(ctx context.Context, op *models.SyncOperation) (SendResult, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, op *models.SyncOperation) (SendResult, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, op *models.SyncOperation) (SendResult, error) {
	return f(ctx, op)
}

// Store persists the queue. db.QueueRepository implements it.
type Store interface {
	Insert(ctx context.Context, op *models.SyncOperation) error
	Pending(ctx context.Context) ([]*models.SyncOperation, error)
	PendingForEntity(ctx context.Context, key models.EntityKey) ([]*models.SyncOperation, error)
	List(ctx context.Context, status models.OperationStatus, limit int) ([]*models.SyncOperation, error)
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id, reason string, at time.Time) (*models.SyncOperation, error)
	AdvanceBase(ctx context.Context, key models.EntityKey, from, to int64, at time.Time) (int64, error)
	ResetFailed(ctx context.Context, at time.Time) (int64, error)
	Stats(ctx context.Context) (map[models.OperationStatus]int, error)
}

// Entities is the part of the local entity store the queue writes: the
// sync status of rows it owns the pending flag for.
type Entities interface {
	MarkSynced(ctx context.Context, key models.EntityKey, version int64, at time.Time) error
	Remove(ctx context.Context, key models.EntityKey) error
}

// ConflictSink records a divergence reported by the transport.
type ConflictSink interface {
	Record(ctx context.Context, op *models.SyncOperation, remote *models.RemoteVersion) (*models.ConflictRecord, error)
}

// Transactor runs fn in one transaction.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier is told that new work was queued. The scheduler implements it.
type Notifier interface {
	Notify()
}
