package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
)

// mapError converts driver errors to application errors.
// context.DeadlineExceeded and context.Canceled are NOT mapped; they pass through.
func mapError(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", entity, id, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.Wrap(apperrors.ErrNotFound, fmt.Sprintf("%s %s not found", entity, id), err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, fmt.Sprintf("%s %s", entity, id), err)
}
