package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"

	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
)

// ConflictRepository persists remote-vs-local conflict records.
type ConflictRepository struct {
	db *sql.DB
}

// NewConflictRepository creates a new ConflictRepository.
func NewConflictRepository(db *sql.DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

var conflictColumns = []string{
	"id", "operation_id", "entity_type", "entity_id", "store_id", "local_payload", "remote_payload",
	"local_modified_at", "remote_modified_at", "local_device_id", "remote_device_id",
	"local_user_id", "remote_user_id", "base_version", "remote_version", "status", "resolution",
	"detected_at", "resolved_at",
}

// Insert stores a new conflict record.
func (r *ConflictRepository) Insert(ctx context.Context, c *models.ConflictRecord) error {
	b := psql.Insert("conflict_records").
		Columns(conflictColumns...).
		Values(c.ID, c.OperationID, string(c.EntityType), c.EntityID, c.StoreID,
			nullRaw(c.LocalPayload), nullRaw(c.RemotePayload),
			toMillis(c.LocalModifiedAt), toMillis(c.RemoteModifiedAt),
			c.LocalDeviceID, c.RemoteDeviceID, c.LocalUserID, c.RemoteUserID,
			c.BaseVersion, c.RemoteVersion, string(c.Status), string(c.Resolution),
			toMillis(c.DetectedAt), nullMillis(c.ResolvedAt))
	_, err := exec(ctx, QuerierFromCtx(ctx, r.db), b)
	return mapError(err, "conflict", c.ID)
}

func nullRaw(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// Get returns the conflict record with id.
func (r *ConflictRepository) Get(ctx context.Context, id string) (*models.ConflictRecord, error) {
	query, args, err := psql.Select(conflictColumns...).
		From("conflict_records").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	c, err := scanConflict(QuerierFromCtx(ctx, r.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrap(apperrors.ErrConflictNotFound, "conflict "+id+" not found", err)
	}
	if err != nil {
		return nil, mapError(err, "conflict", id)
	}
	return c, nil
}

func scanConflict(s rowScanner) (*models.ConflictRecord, error) {
	var (
		c                              models.ConflictRecord
		entityType, status, resolution string
		localPayload, remotePayload    sql.NullString
		localModified, remoteModified  int64
		detectedAt                     int64
		resolvedAt                     sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.OperationID, &entityType, &c.EntityID, &c.StoreID,
		&localPayload, &remotePayload, &localModified, &remoteModified,
		&c.LocalDeviceID, &c.RemoteDeviceID, &c.LocalUserID, &c.RemoteUserID,
		&c.BaseVersion, &c.RemoteVersion, &status, &resolution, &detectedAt, &resolvedAt); err != nil {
		return nil, err
	}
	c.EntityType = models.EntityType(entityType)
	c.Status = models.ConflictStatus(status)
	c.Resolution = models.ResolutionKind(resolution)
	if localPayload.Valid {
		c.LocalPayload = []byte(localPayload.String)
	}
	if remotePayload.Valid {
		c.RemotePayload = []byte(remotePayload.String)
	}
	c.LocalModifiedAt = fromMillis(localModified)
	c.RemoteModifiedAt = fromMillis(remoteModified)
	c.DetectedAt = fromMillis(detectedAt)
	c.ResolvedAt = fromNullMillis(resolvedAt)
	return &c, nil
}

// OpenForOperation returns the open record suspending opID, or nil.
func (r *ConflictRepository) OpenForOperation(ctx context.Context, opID string) (*models.ConflictRecord, error) {
	list, err := r.list(ctx, psql.Select(conflictColumns...).
		From("conflict_records").
		Where(squirrel.Eq{"operation_id": opID, "status": string(models.ConflictOpen)}).
		Limit(1))
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// List returns records oldest first, filtered by status when set. A
// positive limit caps the result.
func (r *ConflictRepository) List(ctx context.Context, status models.ConflictStatus, limit int) ([]*models.ConflictRecord, error) {
	b := psql.Select(conflictColumns...).
		From("conflict_records").
		OrderBy("detected_at ASC", "id ASC")
	if status != "" {
		b = b.Where(squirrel.Eq{"status": string(status)})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return r.list(ctx, b)
}

func (r *ConflictRepository) list(ctx context.Context, b squirrel.SelectBuilder) ([]*models.ConflictRecord, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := QuerierFromCtx(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "conflicts", "list")
	}
	defer rows.Close()

	var out []*models.ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, mapError(err, "conflicts", "list")
		}
		out = append(out, c)
	}
	return out, mapError(rows.Err(), "conflicts", "list")
}

// CountOpen returns the number of open records.
func (r *ConflictRepository) CountOpen(ctx context.Context) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("conflict_records").
		Where(squirrel.Eq{"status": string(models.ConflictOpen)}).
		ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	err = QuerierFromCtx(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(&n)
	return n, mapError(err, "conflicts", "count")
}

// Close moves an open record to status. Closing a record that is not open
// fails with ErrConflictClosed and changes nothing.
func (r *ConflictRepository) Close(ctx context.Context, id string, status models.ConflictStatus, resolution models.ResolutionKind, at time.Time) error {
	b := psql.Update("conflict_records").
		Set("status", string(status)).
		Set("resolution", string(resolution)).
		Set("resolved_at", toMillis(at)).
		Where(squirrel.Eq{"id": id, "status": string(models.ConflictOpen)})
	n, err := affected(ctx, QuerierFromCtx(ctx, r.db), b)
	if err != nil {
		return mapError(err, "conflict", id)
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return apperrors.New(apperrors.ErrConflictClosed, "conflict "+id+" is not open")
	}
	return nil
}
