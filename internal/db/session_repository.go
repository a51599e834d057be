package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
)

// SessionRepository persists the single trust session row.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Load returns the stored session, or nil when none exists.
func (r *SessionRepository) Load(ctx context.Context) (*models.TrustSession, error) {
	query, args, err := psql.Select("status", "identity_key", "identity", "tier", "last_validation",
		"grace_period_ms", "required_version", "updated_at").
		From("trust_session").
		Where("id = 1").
		ToSql()
	if err != nil {
		return nil, err
	}

	var (
		s                     models.TrustSession
		lastValidation, grace int64
		updatedAt             int64
	)
	err = QuerierFromCtx(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(
		&s.Status, &s.IdentityKey, &s.Identity, &s.Tier, &lastValidation, &grace,
		&s.RequiredVersion, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err, "trust session", "1")
	}
	s.LastValidation = fromMillis(lastValidation)
	s.GracePeriod = time.Duration(grace) * time.Millisecond
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}

// Save creates or replaces the session.
func (r *SessionRepository) Save(ctx context.Context, s *models.TrustSession) error {
	b := psql.Insert("trust_session").
		Columns("id", "status", "identity_key", "identity", "tier", "last_validation",
			"grace_period_ms", "required_version", "updated_at").
		Values(1, s.Status, s.IdentityKey, s.Identity, s.Tier, toMillis(s.LastValidation),
			s.GracePeriod.Milliseconds(), s.RequiredVersion, toMillis(s.UpdatedAt)).
		Suffix(`ON CONFLICT (id) DO UPDATE SET status = excluded.status,
			identity_key = excluded.identity_key, identity = excluded.identity, tier = excluded.tier,
			last_validation = excluded.last_validation, grace_period_ms = excluded.grace_period_ms,
			required_version = excluded.required_version, updated_at = excluded.updated_at`)
	_, err := exec(ctx, QuerierFromCtx(ctx, r.db), b)
	return mapError(err, "trust session", "1")
}

// Clear removes the session entirely.
func (r *SessionRepository) Clear(ctx context.Context) error {
	_, err := exec(ctx, QuerierFromCtx(ctx, r.db), psql.Delete("trust_session"))
	return mapError(err, "trust session", "1")
}
