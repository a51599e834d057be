package services

import (
	"context"
	"errors"
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
	"github.com/toanmango432/stage-mangobiz-sub004/internal/sync/conflict"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/sync/queue"
)

var nine = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type gate struct{ blocked bool }

func (g *gate) IsBlocked() bool { return g.blocked }

type fixture struct {
	svc      *MutationService
	gate     *gate
	entities *db.EntityRepository
	queue    *db.QueueRepository
	tx       *db.TxManager
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := dbtest.Open(t)
	f := &fixture{
		gate:     &gate{},
		entities: db.NewEntityRepository(d.DB),
		queue:    db.NewQueueRepository(d.DB),
		tx:       db.NewTxManager(d.DB),
		clock:    clockwork.NewFakeClockAt(nine),
	}
	f.svc = f.build(queue.NewManager(queue.Config{
		Store:    f.queue,
		Entities: f.entities,
		Tx:       f.tx,
		Clock:    f.clock,
		Logger:   logging.Nop(),
	}))
	return f
}

func (f *fixture) build(q Queue) *MutationService {
	return NewMutationService(Config{
		Trust:    f.gate,
		Entities: f.entities,
		Queue:    q,
		Tx:       f.tx,
		DeviceID: "dev-1",
		Clock:    f.clock,
		Logger:   logging.Nop(),
	})
}

func (f *fixture) pending(t *testing.T) []*models.SyncOperation {
	t.Helper()
	ops, err := f.queue.Pending(context.Background())
	require.NoError(t, err)
	return ops
}

func (f *fixture) missing(t *testing.T, key models.EntityKey) {
	t.Helper()
	_, err := f.entities.Get(context.Background(), key)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound), "%s should not exist: %v", key, err)
}

func appointment(id, staff string, start time.Time, d time.Duration) models.Appointment {
	return models.Appointment{
		ID: id, StoreID: "store-1", StaffID: staff, ClientID: "client-" + id,
		Start: start, End: start.Add(d), Status: models.AppointmentScheduled,
	}
}

func TestSaveAppointment_Create(t *testing.T) {
	f := newFixture(t)
	appt := appointment("ap-1", "staff-a", nine.Add(time.Hour), 45*time.Minute)

	res, err := f.svc.SaveAppointment(context.Background(), appt, SaveOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	require.NotNil(t, res.Operation)
	assert.Equal(t, models.OperationCreate, res.Operation.Kind)
	assert.Equal(t, int64(0), res.Operation.BaseVersion)

	rec, err := f.entities.Get(context.Background(), models.KeyOf(appt))
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, rec.SyncStatus)
	assert.Equal(t, "dev-1", rec.DeviceID)
	assert.Len(t, f.pending(t), 1)
}

// TestSaveAppointment_ConflictWritesNothing verifies the check runs before
// any write and reports what it found.
func TestSaveAppointment_ConflictWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.SaveAppointment(ctx, appointment("ap-1", "staff-a", nine, time.Hour), SaveOptions{})
	require.NoError(t, err)

	clash := appointment("ap-2", "staff-a", nine.Add(30*time.Minute), time.Hour)
	res, err := f.svc.SaveAppointment(ctx, clash, SaveOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrBookingConflict))
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, conflict.KindDoubleBooking, res.Conflicts[0].Kind)
	assert.Equal(t, "ap-1", res.Conflicts[0].AppointmentID)
	assert.Nil(t, res.Operation)

	f.missing(t, models.KeyOf(clash))
	assert.Len(t, f.pending(t), 1)
}

func TestSaveAppointment_Override(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.SaveAppointment(ctx, appointment("ap-1", "staff-a", nine, time.Hour), SaveOptions{})
	require.NoError(t, err)

	tight := appointment("ap-2", "staff-a", nine.Add(time.Hour+5*time.Minute), time.Hour)
	res, err := f.svc.SaveAppointment(ctx, tight, SaveOptions{Override: true})
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, conflict.KindBufferViolation, res.Conflicts[0].Kind)
	assert.Equal(t, 5*time.Minute, res.Conflicts[0].Gap)
	assert.NotNil(t, res.Operation)
	assert.Len(t, f.pending(t), 2)
}

// TestSaveAppointment_RescheduleIgnoresItself verifies an update never
// collides with its own stored row.
func TestSaveAppointment_RescheduleIgnoresItself(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := appointment("ap-1", "staff-a", nine, time.Hour)
	_, err := f.svc.SaveAppointment(ctx, appt, SaveOptions{})
	require.NoError(t, err)

	appt.End = appt.End.Add(15 * time.Minute)
	res, err := f.svc.SaveAppointment(ctx, appt, SaveOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, models.OperationUpdate, res.Operation.Kind)
}

func TestSave_UpdateCarriesRemoteVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tk := models.Ticket{ID: "tk-1", StoreID: "store-1", Number: 7, Status: models.TicketOpen, OpenedAt: nine}
	rec, err := models.NewRecord(tk, models.SyncStatusSynced, "dev-2", nine)
	require.NoError(t, err)
	rec.Version = 4
	require.NoError(t, f.entities.Put(ctx, rec))

	tk.Status = models.TicketInService
	res, err := f.svc.SaveTicket(ctx, tk)
	require.NoError(t, err)
	assert.Equal(t, models.OperationUpdate, res.Operation.Kind)
	assert.Equal(t, int64(4), res.Operation.BaseVersion)

	got, err := f.entities.Get(ctx, models.KeyOf(tk))
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.Equal(t, int64(4), got.Version)
}

func TestSaveTransaction_PaymentPriority(t *testing.T) {
	f := newFixture(t)
	txn := models.Transaction{
		ID: "tx-1", StoreID: "store-1", TicketID: "tk-1", AmountCents: 4500,
		Method: models.PaymentCard, Status: models.TransactionCaptured, ProcessedAt: nine,
	}
	res, err := f.svc.SaveTransaction(context.Background(), txn)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Operation.Priority)
}

func TestSave_InvalidPayloadWritesNothing(t *testing.T) {
	f := newFixture(t)
	txn := models.Transaction{ID: "tx-1", StoreID: "store-1", Method: "barter"}
	_, err := f.svc.SaveTransaction(context.Background(), txn)
	require.Error(t, err)
	f.missing(t, models.KeyOf(txn))
	assert.Empty(t, f.pending(t))
}

func TestSave_BlockedByTrust(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gate.blocked = true

	_, err := f.svc.SaveAppointment(ctx, appointment("ap-1", "staff-a", nine, time.Hour), SaveOptions{})
	assert.True(t, apperrors.Is(err, apperrors.ErrTrustBlocked))
	_, err = f.svc.SaveTicket(ctx, models.Ticket{ID: "tk-1", StoreID: "store-1", Number: 1, Status: models.TicketOpen})
	assert.True(t, apperrors.Is(err, apperrors.ErrTrustBlocked))
	_, err = f.svc.DeleteEntity(ctx, models.EntityKey{Type: models.EntityTicket, ID: "tk-1"})
	assert.True(t, apperrors.Is(err, apperrors.ErrTrustBlocked))
	assert.Empty(t, f.pending(t))
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, queue.EnqueueRequest) (*models.SyncOperation, error) {
	return nil, errors.New("database is locked")
}

// TestSave_EnqueueFailureRollsBack verifies the row and its operation
// commit together or not at all.
func TestSave_EnqueueFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	svc := f.build(failingQueue{})
	tk := models.Ticket{ID: "tk-1", StoreID: "store-1", Number: 1, Status: models.TicketOpen, OpenedAt: nine}

	_, err := svc.SaveTicket(context.Background(), tk)
	require.Error(t, err)
	f.missing(t, models.KeyOf(tk))
}

func TestDeleteEntity_Tombstones(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := appointment("ap-1", "staff-a", nine, time.Hour)
	_, err := f.svc.SaveAppointment(ctx, appt, SaveOptions{})
	require.NoError(t, err)

	res, err := f.svc.DeleteEntity(ctx, models.KeyOf(appt))
	require.NoError(t, err)
	assert.Equal(t, models.OperationDelete, res.Operation.Kind)
	assert.Nil(t, res.Operation.Payload)

	rec, err := f.entities.Get(ctx, models.KeyOf(appt))
	require.NoError(t, err)
	assert.True(t, rec.Deleted)
	assert.Equal(t, models.SyncStatusPending, rec.SyncStatus)

	// The freed slot is bookable again.
	_, err = f.svc.SaveAppointment(ctx, appointment("ap-2", "staff-a", nine, time.Hour), SaveOptions{})
	require.NoError(t, err)

	_, err = f.svc.DeleteEntity(ctx, models.KeyOf(appt))
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	_, err = f.svc.SaveAppointment(ctx, appt, SaveOptions{Override: true})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = f.svc.DeleteEntity(ctx, models.EntityKey{Type: models.EntityTicket, ID: "nope"})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestOnSaved(t *testing.T) {
	f := newFixture(t)
	var got []SaveResult
	f.svc.SetOnSaved(func(r SaveResult) { got = append(got, r) })

	_, err := f.svc.SaveTicket(context.Background(),
		models.Ticket{ID: "tk-1", StoreID: "store-1", Number: 1, Status: models.TicketOpen, OpenedAt: nine})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tk-1", got[0].Record.ID)
}
