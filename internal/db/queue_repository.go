package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
)

// QueueRepository persists sync operations in the sync_queue table.
type QueueRepository struct {
	db *sql.DB
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

var queueColumns = []string{
	"seq", "id", "kind", "entity_type", "entity_id", "store_id", "payload", "base_version",
	"priority", "attempts", "max_attempts", "last_error", "status", "created_at", "updated_at",
	"completed_at",
}

// Insert appends op to the queue and sets its sequence number.
func (r *QueueRepository) Insert(ctx context.Context, op *models.SyncOperation) error {
	payload, err := encodeNullable(op.Payload)
	if err != nil {
		return err
	}

	b := psql.Insert("sync_queue").
		Columns(queueColumns[1:]...).
		Values(op.ID, string(op.Kind), string(op.EntityType), op.EntityID, op.StoreID, payload,
			op.BaseVersion, op.Priority, op.Attempts, op.MaxAttempts, op.LastError, string(op.Status),
			toMillis(op.CreatedAt), toMillis(op.UpdatedAt), nullMillis(op.CompletedAt))

	res, err := exec(ctx, QuerierFromCtx(ctx, r.db), b)
	if err != nil {
		return mapError(err, "sync operation", op.ID)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return mapError(err, "sync operation", op.ID)
	}
	op.Seq = seq
	return nil
}

func encodeNullable(p models.Payload) (sql.NullString, error) {
	raw, err := models.EncodePayload(p)
	if err != nil || raw == nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// Get returns the operation with id.
func (r *QueueRepository) Get(ctx context.Context, id string) (*models.SyncOperation, error) {
	query, args, err := psql.Select(queueColumns...).
		From("sync_queue").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	op, err := scanOperation(QuerierFromCtx(ctx, r.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, "sync operation", id)
	}
	return op, nil
}

func scanOperation(s rowScanner) (*models.SyncOperation, error) {
	var (
		op                       models.SyncOperation
		kind, entityType, status string
		payload                  sql.NullString
		createdAt, updatedAt     int64
		completedAt              sql.NullInt64
	)
	if err := s.Scan(&op.Seq, &op.ID, &kind, &entityType, &op.EntityID, &op.StoreID, &payload,
		&op.BaseVersion, &op.Priority, &op.Attempts, &op.MaxAttempts, &op.LastError, &status,
		&createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}
	op.Kind = models.OperationKind(kind)
	op.EntityType = models.EntityType(entityType)
	op.Status = models.OperationStatus(status)
	op.CreatedAt = fromMillis(createdAt)
	op.UpdatedAt = fromMillis(updatedAt)
	op.CompletedAt = fromNullMillis(completedAt)
	if payload.Valid {
		p, err := models.DecodePayload(op.EntityType, []byte(payload.String))
		if err != nil {
			return nil, err
		}
		op.Payload = p
	}
	return &op, nil
}

func (r *QueueRepository) list(ctx context.Context, b squirrel.SelectBuilder) ([]*models.SyncOperation, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := QuerierFromCtx(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "sync queue", "list")
	}
	defer rows.Close()

	var out []*models.SyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, mapError(err, "sync queue", "list")
		}
		out = append(out, op)
	}
	return out, mapError(rows.Err(), "sync queue", "list")
}

// Pending returns the operations eligible for delivery in drain order:
// pending with attempts left, and no open conflict on their entity.
func (r *QueueRepository) Pending(ctx context.Context) ([]*models.SyncOperation, error) {
	b := psql.Select(queueColumns...).
		From("sync_queue q").
		Where(squirrel.Eq{"q.status": string(models.OperationPending)}).
		Where("q.attempts < q.max_attempts").
		Where(`NOT EXISTS (SELECT 1 FROM conflict_records c
			WHERE c.entity_type = q.entity_type AND c.entity_id = q.entity_id AND c.status = ?)`,
			string(models.ConflictOpen)).
		OrderBy("q.priority ASC", "q.created_at ASC", "q.seq ASC")
	return r.list(ctx, b)
}

// List returns operations in queue order, filtered by status when set.
func (r *QueueRepository) List(ctx context.Context, status models.OperationStatus, limit int) ([]*models.SyncOperation, error) {
	b := psql.Select(queueColumns...).
		From("sync_queue").
		OrderBy("priority ASC", "created_at ASC", "seq ASC")
	if status != "" {
		b = b.Where(squirrel.Eq{"status": string(status)})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return r.list(ctx, b)
}

// PendingForEntity returns the pending operations targeting key in queue order.
func (r *QueueRepository) PendingForEntity(ctx context.Context, key models.EntityKey) ([]*models.SyncOperation, error) {
	b := psql.Select(queueColumns...).
		From("sync_queue").
		Where(squirrel.Eq{
			"entity_type": string(key.Type),
			"entity_id":   key.ID,
			"status":      string(models.OperationPending),
		}).
		OrderBy("priority ASC", "created_at ASC", "seq ASC")
	return r.list(ctx, b)
}

// MarkCompleted records confirmed remote acceptance of id.
func (r *QueueRepository) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"status":       string(models.OperationCompleted),
		"completed_at": toMillis(at),
		"updated_at":   toMillis(at),
	})
}

// MarkFailed abandons id for operator inspection.
func (r *QueueRepository) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"status":     string(models.OperationFailed),
		"last_error": reason,
		"updated_at": toMillis(at),
	})
}

// RecordFailure increments the attempt count of id and stores the error.
// An operation reaching its attempt cap is flipped to failed. The updated
// operation is returned.
func (r *QueueRepository) RecordFailure(ctx context.Context, id, reason string, at time.Time) (*models.SyncOperation, error) {
	b := psql.Update("sync_queue").
		Set("attempts", squirrel.Expr("attempts + 1")).
		Set("last_error", reason).
		Set("status", squirrel.Expr("CASE WHEN attempts + 1 >= max_attempts THEN ? ELSE status END",
			string(models.OperationFailed))).
		Set("updated_at", toMillis(at)).
		Where(squirrel.Eq{"id": id, "status": string(models.OperationPending)})

	n, err := affected(ctx, QuerierFromCtx(ctx, r.db), b)
	if err != nil {
		return nil, mapError(err, "sync operation", id)
	}
	if n == 0 {
		return nil, mapError(sql.ErrNoRows, "sync operation", id)
	}
	return r.Get(ctx, id)
}

// Rebase replaces the assumed remote version of id, and its payload when
// payload is non-nil, so the next drain retries the overwrite.
func (r *QueueRepository) Rebase(ctx context.Context, id string, baseVersion int64, payload models.Payload, at time.Time) error {
	set := map[string]any{
		"base_version": baseVersion,
		"updated_at":   toMillis(at),
	}
	if payload != nil {
		raw, err := encodeNullable(payload)
		if err != nil {
			return err
		}
		set["payload"] = raw
	}
	return r.update(ctx, id, set)
}

// AdvanceBase moves pending operations of key that assumed version from
// onto version to. Used after an earlier operation on the same entity was
// accepted.
func (r *QueueRepository) AdvanceBase(ctx context.Context, key models.EntityKey, from, to int64, at time.Time) (int64, error) {
	b := psql.Update("sync_queue").
		Set("base_version", to).
		Set("updated_at", toMillis(at)).
		Where(squirrel.Eq{
			"entity_type":  string(key.Type),
			"entity_id":    key.ID,
			"status":       string(models.OperationPending),
			"base_version": from,
		})
	n, err := affected(ctx, QuerierFromCtx(ctx, r.db), b)
	return n, mapError(err, "sync queue", key.String())
}

// CompletePendingForEntity discards every pending operation of key by
// marking it completed.
func (r *QueueRepository) CompletePendingForEntity(ctx context.Context, key models.EntityKey, at time.Time) (int64, error) {
	b := psql.Update("sync_queue").
		Set("status", string(models.OperationCompleted)).
		Set("completed_at", toMillis(at)).
		Set("updated_at", toMillis(at)).
		Where(squirrel.Eq{
			"entity_type": string(key.Type),
			"entity_id":   key.ID,
			"status":      string(models.OperationPending),
		})
	n, err := affected(ctx, QuerierFromCtx(ctx, r.db), b)
	return n, mapError(err, "sync queue", key.String())
}

// ResetFailed returns every failed operation to pending with a fresh
// attempt budget.
func (r *QueueRepository) ResetFailed(ctx context.Context, at time.Time) (int64, error) {
	b := psql.Update("sync_queue").
		Set("status", string(models.OperationPending)).
		Set("attempts", 0).
		Set("last_error", "").
		Set("updated_at", toMillis(at)).
		Where(squirrel.Eq{"status": string(models.OperationFailed)})
	n, err := affected(ctx, QuerierFromCtx(ctx, r.db), b)
	return n, mapError(err, "sync queue", "reset")
}

// Stats counts operations by status.
func (r *QueueRepository) Stats(ctx context.Context) (map[models.OperationStatus]int, error) {
	query, args, err := psql.Select("status", "COUNT(*)").
		From("sync_queue").
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := QuerierFromCtx(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "sync queue", "stats")
	}
	defer rows.Close()

	out := map[models.OperationStatus]int{
		models.OperationPending:   0,
		models.OperationFailed:    0,
		models.OperationCompleted: 0,
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, mapError(err, "sync queue", "stats")
		}
		out[models.OperationStatus(status)] = n
	}
	return out, mapError(rows.Err(), "sync queue", "stats")
}

// DeleteCompletedBefore deletes up to limit completed operations finished
// before cutoff.
func (r *QueueRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	return r.deleteBatch(ctx, limit,
		squirrel.Eq{"status": string(models.OperationCompleted)},
		squirrel.Lt{"completed_at": toMillis(cutoff)})
}

// DeleteAbandoned deletes up to limit unfinished operations that exhausted
// their attempts. Operations failed by hand, such as those of a dismissed
// conflict, still have attempts left and are kept for inspection. Deleting
// an already deleted row is a no-op, so concurrent runs are safe.
func (r *QueueRepository) DeleteAbandoned(ctx context.Context, limit int) (int64, error) {
	return r.deleteBatch(ctx, limit,
		squirrel.NotEq{"status": string(models.OperationCompleted)},
		squirrel.Expr("attempts >= max_attempts"))
}

func (r *QueueRepository) deleteBatch(ctx context.Context, limit int, preds ...squirrel.Sqlizer) (int64, error) {
	sel := psql.Select("seq").From("sync_queue").OrderBy("seq ASC").Limit(uint64(limit))
	for _, p := range preds {
		sel = sel.Where(p)
	}
	sub, subArgs, err := sel.ToSql()
	if err != nil {
		return 0, err
	}
	n, err := affected(ctx, QuerierFromCtx(ctx, r.db),
		psql.Delete("sync_queue").Where(squirrel.Expr("seq IN ("+sub+")", subArgs...)))
	return n, mapError(err, "sync queue", "retention")
}

func (r *QueueRepository) update(ctx context.Context, id string, set map[string]any) error {
	n, err := affected(ctx, QuerierFromCtx(ctx, r.db),
		psql.Update("sync_queue").SetMap(set).Where(squirrel.Eq{"id": id}))
	if err != nil {
		return mapError(err, "sync operation", id)
	}
	if n == 0 {
		return mapError(sql.ErrNoRows, "sync operation", id)
	}
	return nil
}
