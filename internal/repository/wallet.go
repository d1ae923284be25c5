package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/peermeet/call-server-go/internal/database"
	"github.com/peermeet/call-server-go/internal/model"
)

type WalletRepository interface {
	FindByID(ctx context.Context, id string) (*model.Wallet, error)
	FindByAddress(ctx context.Context, address string) (*model.Wallet, error)
	Create(ctx context.Context, params model.CreateWalletParams) (*model.Wallet, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) WalletRepository
}

type walletRepo struct {
	db database.DBTX
}

func NewWalletRepository(db *sqlx.DB) WalletRepository {
	return &walletRepo{db: db}
}

func (r *walletRepo) WithTx(tx *sqlx.Tx) WalletRepository {
	return &walletRepo{db: tx}
}

func (r *walletRepo) FindByID(ctx context.Context, id string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.GetContext(ctx, &wallet, `
		SELECT * FROM wallets WHERE id = $1
	`, id)
	return HandleNotFound(&wallet, err)
}

func (r *walletRepo) FindByAddress(ctx context.Context, address string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.GetContext(ctx, &wallet, `
		SELECT * FROM wallets WHERE address = $1
	`, address)
	return HandleNotFound(&wallet, err)
}

func (r *walletRepo) Create(ctx context.Context, params model.CreateWalletParams) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.GetContext(ctx, &wallet, `
		INSERT INTO wallets (id, user_id, address, type)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, uuid.NewString(), params.UserID, params.Address, params.Type)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}
