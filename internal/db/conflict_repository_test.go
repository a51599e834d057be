package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
)

func TestConflictRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewConflictRepository(openTestDB(t).DB)

	for i, id := range []string{"c-old", "c-mid", "c-new"} {
		require.NoError(t, repo.Insert(ctx, &models.ConflictRecord{
			ID:               id,
			OperationID:      "op-" + id,
			EntityType:       models.EntityAppointment,
			EntityID:         "a-" + id,
			LocalPayload:     []byte(`{"id":"a"}`),
			RemotePayload:    []byte(`{"id":"b"}`),
			LocalModifiedAt:  base,
			RemoteModifiedAt: base.Add(time.Minute),
			RemoteDeviceID:   "dev-2",
			RemoteVersion:    3,
			Status:           models.ConflictOpen,
			DetectedAt:       base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := repo.Get(ctx, "c-mid")
	require.NoError(t, err)
	assert.Equal(t, "dev-2", got.RemoteDeviceID)
	assert.JSONEq(t, `{"id":"b"}`, string(got.RemotePayload))
	assert.Nil(t, got.ResolvedAt)

	open, err := repo.List(ctx, models.ConflictOpen, 2)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "c-old", open[0].ID)

	byOp, err := repo.OpenForOperation(ctx, "op-c-new")
	require.NoError(t, err)
	require.NotNil(t, byOp)
	assert.Equal(t, "c-new", byOp.ID)

	require.NoError(t, repo.Close(ctx, "c-old", models.ConflictResolved, models.ResolutionKeepRemote, base))
	err = repo.Close(ctx, "c-old", models.ConflictDismissed, "", base)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflictClosed))
	err = repo.Close(ctx, "missing", models.ConflictDismissed, "", base)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflictNotFound))

	n, err := repo.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	closed, err := repo.Get(ctx, "c-old")
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionKeepRemote, closed.Resolution)
	require.NotNil(t, closed.ResolvedAt)

	none, err := repo.OpenForOperation(ctx, "op-c-old")
	require.NoError(t, err)
	assert.Nil(t, none)
}
