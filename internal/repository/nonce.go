package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/peermeet/call-server-go/internal/database"
	"github.com/peermeet/call-server-go/internal/model"
)

type AuthNonceRepository interface {
	// FindLatestUnconsumed returns the newest unconsumed, unexpired nonce
	// issued for the wallet address, or nil when none exists.
	FindLatestUnconsumed(ctx context.Context, walletAddress string) (*model.AuthNonce, error)
	Create(ctx context.Context, params model.CreateAuthNonceParams) (*model.AuthNonce, error)
	// Consume marks the nonce used. It returns false if the nonce was
	// already consumed, so concurrent verification attempts cannot both win.
	Consume(ctx context.Context, id string) (bool, error)
	DeleteExpired(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AuthNonceRepository
}

type authNonceRepo struct {
	db database.DBTX
}

func NewAuthNonceRepository(db *sqlx.DB) AuthNonceRepository {
	return &authNonceRepo{db: db}
}

func (r *authNonceRepo) WithTx(tx *sqlx.Tx) AuthNonceRepository {
	return &authNonceRepo{db: tx}
}

func (r *authNonceRepo) FindLatestUnconsumed(ctx context.Context, walletAddress string) (*model.AuthNonce, error) {
	var nonce model.AuthNonce
	err := r.db.GetContext(ctx, &nonce, `
		SELECT * FROM auth_nonces
		WHERE wallet_address = $1
		AND consumed_at IS NULL
		AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`, walletAddress)
	return HandleNotFound(&nonce, err)
}

func (r *authNonceRepo) Create(ctx context.Context, params model.CreateAuthNonceParams) (*model.AuthNonce, error) {
	var nonce model.AuthNonce
	err := r.db.GetContext(ctx, &nonce, `
		INSERT INTO auth_nonces (id, wallet_address, nonce, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, uuid.NewString(), params.WalletAddress, params.Nonce, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &nonce, nil
}

func (r *authNonceRepo) Consume(ctx context.Context, id string) (bool, error) {
	var consumedID string
	err := r.db.QueryRowContext(ctx, `
		UPDATE auth_nonces SET
			consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL
		RETURNING id
	`, id, time.Now()).Scan(&consumedID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *authNonceRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_nonces
		WHERE expires_at < NOW() OR consumed_at IS NOT NULL
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
