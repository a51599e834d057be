package db

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/Masterminds/squirrel"

	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
)

// EntityRepository stores business entity rows across the per-type tables.
// Each table carries the columns the queue and retention rely on: primary
// key, owning store, sync status and timestamps.
type EntityRepository struct {
	db *sql.DB
}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository(db *sql.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

var entityColumns = []string{
	"id", "store_id", "sync_status", "version", "device_id", "deleted",
	"payload", "created_at", "updated_at",
}

// appointmentColumns are denormalized from the payload for window queries.
var appointmentColumns = []string{"staff_id", "client_id", "start_at", "end_at", "status"}

func tableFor(t models.EntityType) (string, error) {
	name := t.Table()
	if name == "" {
		return "", apperrors.New(apperrors.ErrUnknownEntityType, fmt.Sprintf("unknown entity type %q", t))
	}
	return name, nil
}

// Put inserts or replaces the row for rec. The creation time of an
// existing row is kept.
func (r *EntityRepository) Put(ctx context.Context, rec *models.Record) error {
	tbl, err := tableFor(rec.EntityType)
	if err != nil {
		return err
	}

	cols := entityColumns
	vals := []any{
		rec.ID, rec.StoreID, string(rec.SyncStatus), rec.Version, rec.DeviceID, rec.Deleted,
		string(rec.Payload), toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt),
	}
	set := "store_id = excluded.store_id, sync_status = excluded.sync_status, " +
		"version = excluded.version, device_id = excluded.device_id, deleted = excluded.deleted, " +
		"payload = excluded.payload, updated_at = excluded.updated_at"

	if rec.EntityType == models.EntityAppointment {
		p, err := rec.Decode()
		if err != nil {
			return err
		}
		var a models.Appointment
		if appt, ok := p.(models.Appointment); ok {
			a = appt
		}
		cols = append(slices.Clone(cols), appointmentColumns...)
		vals = append(vals, a.StaffID, a.ClientID, toMillis(a.Start), toMillis(a.End), string(a.Status))
		set += ", staff_id = excluded.staff_id, client_id = excluded.client_id, " +
			"start_at = excluded.start_at, end_at = excluded.end_at, status = excluded.status"
	}

	b := psql.Insert(tbl).
		Columns(cols...).
		Values(vals...).
		Suffix("ON CONFLICT (id) DO UPDATE SET " + set)

	_, err = exec(ctx, QuerierFromCtx(ctx, r.db), b)
	return mapError(err, string(rec.EntityType), rec.ID)
}

// Get returns the row for key.
func (r *EntityRepository) Get(ctx context.Context, key models.EntityKey) (*models.Record, error) {
	tbl, err := tableFor(key.Type)
	if err != nil {
		return nil, err
	}

	query, args, err := psql.Select(entityColumns...).
		From(tbl).
		Where(squirrel.Eq{"id": key.ID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	row := QuerierFromCtx(ctx, r.db).QueryRowContext(ctx, query, args...)
	rec, err := scanRecord(row, key.Type)
	if err != nil {
		return nil, mapError(err, string(key.Type), key.ID)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner, t models.EntityType) (*models.Record, error) {
	var (
		rec                  models.Record
		status, payload      string
		createdAt, updatedAt int64
	)
	if err := s.Scan(&rec.ID, &rec.StoreID, &status, &rec.Version, &rec.DeviceID, &rec.Deleted,
		&payload, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.EntityType = t
	rec.SyncStatus = models.SyncStatus(status)
	if payload != "" {
		rec.Payload = []byte(payload)
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

// SetSyncStatus changes the sync status of key.
func (r *EntityRepository) SetSyncStatus(ctx context.Context, key models.EntityKey, status models.SyncStatus, at time.Time) error {
	return r.update(ctx, key, map[string]any{
		"sync_status": string(status),
		"updated_at":  toMillis(at),
	})
}

// MarkSynced records remote acceptance of key at version.
func (r *EntityRepository) MarkSynced(ctx context.Context, key models.EntityKey, version int64, at time.Time) error {
	return r.update(ctx, key, map[string]any{
		"sync_status": string(models.SyncStatusSynced),
		"version":     version,
		"updated_at":  toMillis(at),
	})
}

func (r *EntityRepository) update(ctx context.Context, key models.EntityKey, set map[string]any) error {
	tbl, err := tableFor(key.Type)
	if err != nil {
		return err
	}
	n, err := affected(ctx, QuerierFromCtx(ctx, r.db), psql.Update(tbl).SetMap(set).Where(squirrel.Eq{"id": key.ID}))
	if err != nil {
		return mapError(err, string(key.Type), key.ID)
	}
	if n == 0 {
		return mapError(sql.ErrNoRows, string(key.Type), key.ID)
	}
	return nil
}

// Remove deletes the row for key. Removing a missing row is not an error.
func (r *EntityRepository) Remove(ctx context.Context, key models.EntityKey) error {
	tbl, err := tableFor(key.Type)
	if err != nil {
		return err
	}
	_, err = exec(ctx, QuerierFromCtx(ctx, r.db), psql.Delete(tbl).Where(squirrel.Eq{"id": key.ID}))
	return mapError(err, string(key.Type), key.ID)
}

// ListLiveAppointments returns the appointments of storeID that still
// occupy a slot and intersect [from, to).
func (r *EntityRepository) ListLiveAppointments(ctx context.Context, storeID string, from, to time.Time) ([]models.Appointment, error) {
	query, args, err := psql.Select("payload").
		From(models.EntityAppointment.Table()).
		Where(squirrel.Eq{"store_id": storeID, "deleted": false}).
		Where(squirrel.NotEq{"status": []string{
			string(models.AppointmentCancelled), string(models.AppointmentNoShow),
		}}).
		Where(squirrel.Lt{"start_at": toMillis(to)}).
		Where(squirrel.Gt{"end_at": toMillis(from)}).
		OrderBy("start_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := QuerierFromCtx(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "appointments", storeID)
	}
	defer rows.Close()

	var out []models.Appointment
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, mapError(err, "appointments", storeID)
		}
		p, err := models.DecodePayload(models.EntityAppointment, []byte(raw))
		if err != nil {
			return nil, err
		}
		if a, ok := p.(models.Appointment); ok {
			out = append(out, a)
		}
	}
	return out, mapError(rows.Err(), "appointments", storeID)
}

// DeleteSyncedBefore deletes up to limit synced rows of type t created
// before cutoff. Rows in any other sync status are never selected.
func (r *EntityRepository) DeleteSyncedBefore(ctx context.Context, t models.EntityType, cutoff time.Time, limit int) (int64, error) {
	tbl, err := tableFor(t)
	if err != nil {
		return 0, err
	}

	sub, subArgs, err := psql.Select("id").
		From(tbl).
		Where(squirrel.Eq{"sync_status": string(models.SyncStatusSynced)}).
		Where(squirrel.Lt{"created_at": toMillis(cutoff)}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return 0, err
	}

	b := psql.Delete(tbl).
		Where(squirrel.Eq{"sync_status": string(models.SyncStatusSynced)}).
		Where(squirrel.Expr("id IN ("+sub+")", subArgs...))

	n, err := affected(ctx, QuerierFromCtx(ctx, r.db), b)
	if err != nil {
		return 0, mapError(err, tbl, "retention")
	}
	return n, nil
}

// EntityCount is the number of rows of one type in one sync status.
type EntityCount struct {
	EntityType models.EntityType `json:"entity_type" yaml:"entity_type"`
	SyncStatus models.SyncStatus `json:"sync_status" yaml:"sync_status"`
	Count      int               `json:"count" yaml:"count"`
}

// Counts reports row counts grouped by type and sync status.
func (r *EntityRepository) Counts(ctx context.Context) ([]EntityCount, error) {
	var out []EntityCount
	for _, t := range models.EntityTypes() {
		query, args, err := psql.Select("sync_status", "COUNT(*)").
			From(t.Table()).
			GroupBy("sync_status").
			OrderBy("sync_status").
			ToSql()
		if err != nil {
			return nil, err
		}
		rows, err := QuerierFromCtx(ctx, r.db).QueryContext(ctx, query, args...)
		if err != nil {
			return nil, mapError(err, t.Table(), "counts")
		}
		for rows.Next() {
			c := EntityCount{EntityType: t}
			var status string
			if err := rows.Scan(&status, &c.Count); err != nil {
				rows.Close()
				return nil, mapError(err, t.Table(), "counts")
			}
			c.SyncStatus = models.SyncStatus(status)
			out = append(out, c)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, mapError(err, t.Table(), "counts")
		}
	}
	return out, nil
}
