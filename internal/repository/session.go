package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/peermeet/call-server-go/internal/database"
	"github.com/peermeet/call-server-go/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	TouchLastUsed(ctx context.Context, id string) error
	SetEncryptedPrivateKey(ctx context.Context, id string, blob string) error
	MarkExpired(ctx context.Context, id string) error
	MarkRevoked(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, retainUntil time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db database.DBTX
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (id, user_id, wallet_id, status, expires_at)
		VALUES ($1, $2, $3, 'active', $4)
		RETURNING *
	`, uuid.NewString(), params.UserID, params.WalletID, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			last_used_at = $2,
			updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}

// SetEncryptedPrivateKey overwrites the session's stored blob. A session holds
// at most one live encrypted private key; the previous blob is discarded.
func (r *sessionRepo) SetEncryptedPrivateKey(ctx context.Context, id string, blob string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			encrypted_private_key = $2,
			last_used_at = $3,
			updated_at = $3
		WHERE id = $1
	`, id, blob, time.Now())
	return err
}

func (r *sessionRepo) MarkExpired(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = 'expired',
			updated_at = $2
		WHERE id = $1 AND status = 'active'
	`, id, time.Now())
	return err
}

func (r *sessionRepo) MarkRevoked(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = 'revoked',
			encrypted_private_key = NULL,
			updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *sessionRepo) DeleteExpired(ctx context.Context, retainUntil time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE (status = 'active' AND expires_at < $1)
		OR (status IN ('expired', 'revoked') AND updated_at < $1)
	`, retainUntil)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
