package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
)

func TestTxManager_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	tx := NewTxManager(d.DB)
	queue := NewQueueRepository(d.DB)

	err := tx.RunInTx(ctx, func(ctx context.Context) error {
		assert.True(t, InTx(ctx))
		return queue.Insert(ctx, newOp("kept", 1, base))
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := queue.Insert(ctx, newOp("dropped", 1, base)); err != nil {
			return err
		}
		// Nested calls join the outer transaction.
		return tx.RunInTx(ctx, func(ctx context.Context) error { return boom })
	})
	assert.ErrorIs(t, err, boom)

	_, err = queue.Get(ctx, "kept")
	require.NoError(t, err)
	_, err = queue.Get(ctx, "dropped")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestTxManager_Panic(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	tx := NewTxManager(d.DB)
	queue := NewQueueRepository(d.DB)

	assert.Panics(t, func() {
		_ = tx.RunInTx(ctx, func(ctx context.Context) error {
			_ = queue.Insert(ctx, newOp("panicked", 1, base))
			panic("bad")
		})
	})

	_, err := queue.Get(ctx, "panicked")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}
