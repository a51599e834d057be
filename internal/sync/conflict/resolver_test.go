package conflict

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/db"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/db/dbtest"
	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
)

// =====================================================
// Test Helpers
// =====================================================

type fixture struct {
	resolver  *Resolver
	entities  *db.EntityRepository
	queue     *db.QueueRepository
	conflicts *db.ConflictRepository
	clock     *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := dbtest.Open(t)
	f := &fixture{
		entities:  db.NewEntityRepository(d.DB),
		queue:     db.NewQueueRepository(d.DB),
		conflicts: db.NewConflictRepository(d.DB),
		clock:     clockwork.NewFakeClockAt(nine),
	}
	f.resolver = NewResolver(ResolverConfig{
		Conflicts:  f.conflicts,
		Operations: f.queue,
		Entities:   f.entities,
		Tx:         db.NewTxManager(d.DB),
		Clock:      f.clock,
		Logger:     logging.Nop(),
	})
	return f
}

func ticket(id string, number int) models.Ticket {
	return models.Ticket{ID: id, StoreID: "store-1", Number: number, Status: models.TicketOpen, OpenedAt: nine}
}

// queued writes tk locally as pending at version base and queues an update.
func (f *fixture) queued(t *testing.T, opID string, tk models.Ticket, base int64) *models.SyncOperation {
	t.Helper()
	ctx := context.Background()

	rec, err := models.NewRecord(tk, models.SyncStatusPending, "dev-local", f.clock.Now())
	require.NoError(t, err)
	rec.Version = base
	require.NoError(t, f.entities.Put(ctx, rec))

	op := &models.SyncOperation{
		ID:          opID,
		Kind:        models.OperationUpdate,
		EntityType:  models.EntityTicket,
		EntityID:    tk.ID,
		StoreID:     tk.StoreID,
		Payload:     tk,
		BaseVersion: base,
		Priority:    models.PriorityMedium,
		MaxAttempts: models.DefaultMaxAttempts,
		Status:      models.OperationPending,
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	require.NoError(t, f.queue.Insert(ctx, op))
	return op
}

func remoteTicket(t *testing.T, tk models.Ticket, version int64, at time.Time) *models.RemoteVersion {
	t.Helper()
	raw, err := json.Marshal(tk)
	require.NoError(t, err)
	return &models.RemoteVersion{Version: version, Payload: raw, ModifiedAt: at, DeviceID: "dev-remote"}
}

// conflicted queues tk and records a conflict against remote version 7.
func (f *fixture) conflicted(t *testing.T, opID string, tk models.Ticket) (*models.SyncOperation, *models.ConflictRecord) {
	t.Helper()
	op := f.queued(t, opID, tk, 3)
	remote := tk
	remote.Notes = "remote edit"
	rec, err := f.resolver.Record(context.Background(), op, remoteTicket(t, remote, 7, nine.Add(-time.Minute)))
	require.NoError(t, err)
	return op, rec
}

// =====================================================
// Record Tests
// =====================================================

func TestRecord_PersistsBothSides(t *testing.T) {
	f := newFixture(t)
	op, rec := f.conflicted(t, "op-1", ticket("tk-1", 1))

	assert.True(t, rec.Open())
	assert.Equal(t, op.ID, rec.OperationID)
	assert.Equal(t, int64(3), rec.BaseVersion)
	assert.Equal(t, int64(7), rec.RemoteVersion)
	assert.Equal(t, "dev-local", rec.LocalDeviceID)
	assert.Equal(t, "dev-remote", rec.RemoteDeviceID)

	stored, err := f.conflicts.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(rec.LocalPayload), string(stored.LocalPayload))
	assert.Contains(t, string(stored.RemotePayload), "remote edit")
}

func TestRecord_DeduplicatesOpenConflict(t *testing.T) {
	f := newFixture(t)
	op, first := f.conflicted(t, "op-1", ticket("tk-1", 1))

	again, err := f.resolver.Record(context.Background(), op, remoteTicket(t, ticket("tk-1", 1), 8, nine))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	n, err := f.conflicts.CountOpen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecord_RequiresRemote(t *testing.T) {
	f := newFixture(t)
	op := f.queued(t, "op-1", ticket("tk-1", 1), 0)

	_, err := f.resolver.Record(context.Background(), op, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

// =====================================================
// Resolve Tests
// =====================================================

func TestResolve_KeepLocal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	op, rec := f.conflicted(t, "op-1", ticket("tk-1", 1))

	require.NoError(t, f.resolver.Resolve(ctx, rec.ID, Resolution{Kind: models.ResolutionKeepLocal}))

	got, err := f.queue.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationPending, got.Status)
	assert.Equal(t, int64(7), got.BaseVersion)
	assert.Equal(t, 1, got.Payload.(models.Ticket).Number)

	ent, err := f.entities.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, ent.SyncStatus)

	closed, err := f.conflicts.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictResolved, closed.Status)
	assert.Equal(t, models.ResolutionKeepLocal, closed.Resolution)
	require.NotNil(t, closed.ResolvedAt)

	// The operation is eligible again once its conflict is closed.
	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, op.ID, pending[0].ID)
}

func TestResolve_KeepRemote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	op, rec := f.conflicted(t, "op-1", ticket("tk-1", 1))
	later := f.queued(t, "op-2", ticket("tk-1", 2), 3)

	require.NoError(t, f.resolver.Resolve(ctx, rec.ID, Resolution{Kind: models.ResolutionKeepRemote}))

	ent, err := f.entities.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, ent.SyncStatus)
	assert.Equal(t, int64(7), ent.Version)
	assert.Contains(t, string(ent.Payload), "remote edit")

	for _, id := range []string{op.ID, later.ID} {
		got, err := f.queue.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.OperationCompleted, got.Status, id)
	}
}

func TestResolve_Merged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	op, rec := f.conflicted(t, "op-1", ticket("tk-1", 1))

	merged := ticket("tk-1", 1)
	merged.Notes = "remote edit"
	merged.Items = []models.TicketItem{{ServiceID: "svc-1", Name: "Cut", PriceCents: 3500}}

	require.NoError(t, f.resolver.Resolve(ctx, rec.ID, Resolution{Kind: models.ResolutionMerged, Merged: merged}))

	got, err := f.queue.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.BaseVersion)
	assert.Equal(t, "remote edit", got.Payload.(models.Ticket).Notes)

	ent, err := f.entities.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, ent.SyncStatus)
	assert.Contains(t, string(ent.Payload), "svc-1")
}

func TestResolve_MergedRejectsInvalidPayload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, rec := f.conflicted(t, "op-1", ticket("tk-1", 1))

	err := f.resolver.Resolve(ctx, rec.ID, Resolution{Kind: models.ResolutionMerged, Merged: ticket("tk-1", 0)})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidPayload))

	err = f.resolver.Resolve(ctx, rec.ID, Resolution{Kind: models.ResolutionMerged, Merged: ticket("tk-other", 1)})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidPayload))

	err = f.resolver.Resolve(ctx, rec.ID, Resolution{Kind: models.ResolutionMerged})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidPayload))

	// Nothing was committed.
	still, err := f.conflicts.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, still.Open())
}

func TestResolve_ClosedAndMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, rec := f.conflicted(t, "op-1", ticket("tk-1", 1))

	require.NoError(t, f.resolver.Resolve(ctx, rec.ID, Resolution{Kind: models.ResolutionKeepLocal}))

	err := f.resolver.Resolve(ctx, rec.ID, Resolution{Kind: models.ResolutionKeepRemote})
	assert.True(t, apperrors.Is(err, apperrors.ErrConflictClosed))

	err = f.resolver.Resolve(ctx, "nope", Resolution{Kind: models.ResolutionKeepLocal})
	assert.True(t, apperrors.Is(err, apperrors.ErrConflictNotFound))
}

// TestResolve_Independent verifies resolving one conflict leaves others open.
func TestResolve_Independent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, first := f.conflicted(t, "op-1", ticket("tk-1", 1))
	secondOp, second := f.conflicted(t, "op-2", ticket("tk-2", 2))

	require.NoError(t, f.resolver.Resolve(ctx, first.ID, Resolution{Kind: models.ResolutionKeepRemote}))

	other, err := f.conflicts.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, other.Open())

	op, err := f.queue.Get(ctx, secondOp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationPending, op.Status)
	assert.Equal(t, int64(3), op.BaseVersion)

	// Still suspended by its own open conflict.
	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDismiss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	op, rec := f.conflicted(t, "op-1", ticket("tk-1", 1))

	require.NoError(t, f.resolver.Dismiss(ctx, rec.ID))

	got, err := f.queue.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationFailed, got.Status)

	ent, err := f.entities.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, ent.SyncStatus)

	closed, err := f.conflicts.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictDismissed, closed.Status)

	assert.True(t, apperrors.Is(f.resolver.Dismiss(ctx, rec.ID), apperrors.ErrConflictClosed))
}

// =====================================================
// Surfacing Tests
// =====================================================

func TestSurfaced_CapsAndAnnounces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.resolver.Subscribe()
	defer f.resolver.Unsubscribe(sub)

	var recs []*models.ConflictRecord
	for i, id := range []string{"a", "b", "c", "d"} {
		_, rec := f.conflicted(t, "op-"+id, ticket("tk-"+id, i+1))
		recs = append(recs, rec)
		f.clock.Advance(time.Second)
	}

	surfaced, err := f.resolver.Surfaced(ctx)
	require.NoError(t, err)
	require.Len(t, surfaced, 3)
	assert.Equal(t, recs[0].ID, surfaced[0].ID)

	for i := 0; i < 3; i++ {
		got := <-sub
		assert.Equal(t, recs[i].ID, got.ID)
	}
	select {
	case got := <-sub:
		t.Fatalf("unsurfaced conflict %s announced", got.ID)
	default:
	}

	// Closing one surfaces the fourth.
	require.NoError(t, f.resolver.Dismiss(ctx, recs[1].ID))
	select {
	case got := <-sub:
		assert.Equal(t, recs[3].ID, got.ID)
	default:
		t.Fatal("fourth conflict was not announced")
	}
}

// =====================================================
// Helper Tests
// =====================================================

func TestSuggest_LastWriteWins(t *testing.T) {
	rec := &models.ConflictRecord{LocalModifiedAt: nine, RemoteModifiedAt: nine.Add(time.Second)}
	assert.Equal(t, models.ResolutionKeepRemote, Suggest(rec))

	rec.RemoteModifiedAt = nine
	assert.Equal(t, models.ResolutionKeepLocal, Suggest(rec), "ties keep local")

	rec.RemoteModifiedAt = nine.Add(-time.Hour)
	assert.Equal(t, models.ResolutionKeepLocal, Suggest(rec))
}

func TestMergeFields(t *testing.T) {
	local := json.RawMessage(`{"id":"tk-1","notes":"local","number":4}`)
	remote := json.RawMessage(`{"id":"tk-1","notes":"remote","number":5,"client_id":"c-1"}`)

	merged, err := MergeFields(local, remote, []string{"notes", "missing"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"tk-1","notes":"local","number":5,"client_id":"c-1"}`, string(merged))

	_, err = MergeFields(json.RawMessage(`[`), remote, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidPayload))
}
