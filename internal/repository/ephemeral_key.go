package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/peermeet/call-server-go/internal/database"
	"github.com/peermeet/call-server-go/internal/model"
)

type EphemeralKeyRepository interface {
	// FindActiveBySessionID returns the most recently issued unexpired,
	// unrevoked key for the session, or nil when none is eligible.
	FindActiveBySessionID(ctx context.Context, sessionID string) (*model.EphemeralKey, error)
	ListActiveBySessionID(ctx context.Context, sessionID string) ([]model.EphemeralKey, error)
	Create(ctx context.Context, params model.CreateEphemeralKeyParams) (*model.EphemeralKey, error)
	RevokeBySessionID(ctx context.Context, sessionID string) error
	DeleteExpired(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) EphemeralKeyRepository
}

type ephemeralKeyRepo struct {
	db database.DBTX
}

func NewEphemeralKeyRepository(db *sqlx.DB) EphemeralKeyRepository {
	return &ephemeralKeyRepo{db: db}
}

func (r *ephemeralKeyRepo) WithTx(tx *sqlx.Tx) EphemeralKeyRepository {
	return &ephemeralKeyRepo{db: tx}
}

func (r *ephemeralKeyRepo) FindActiveBySessionID(ctx context.Context, sessionID string) (*model.EphemeralKey, error) {
	var key model.EphemeralKey
	err := r.db.GetContext(ctx, &key, `
		SELECT * FROM ephemeral_keys
		WHERE session_id = $1
		AND expires_at > NOW()
		AND revoked_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, sessionID)
	return HandleNotFound(&key, err)
}

func (r *ephemeralKeyRepo) ListActiveBySessionID(ctx context.Context, sessionID string) ([]model.EphemeralKey, error) {
	keys := []model.EphemeralKey{}
	err := r.db.SelectContext(ctx, &keys, `
		SELECT * FROM ephemeral_keys
		WHERE session_id = $1
		AND expires_at > NOW()
		AND revoked_at IS NULL
		ORDER BY created_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *ephemeralKeyRepo) Create(ctx context.Context, params model.CreateEphemeralKeyParams) (*model.EphemeralKey, error) {
	var key model.EphemeralKey
	err := r.db.GetContext(ctx, &key, `
		INSERT INTO ephemeral_keys (id, session_id, public_key, alg, scope, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, uuid.NewString(), params.SessionID, params.PublicKey, params.Alg, params.Scope, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *ephemeralKeyRepo) RevokeBySessionID(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ephemeral_keys SET
			revoked_at = $2
		WHERE session_id = $1 AND revoked_at IS NULL
	`, sessionID, time.Now())
	return err
}

func (r *ephemeralKeyRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM ephemeral_keys
		WHERE expires_at < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
