package model

import (
	"time"
)

type User struct {
	ID                   string    `db:"id" json:"id"`
	PrimaryWalletAddress string    `db:"primary_wallet_address" json:"walletAddress"`
	CreatedAt            time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time `db:"updated_at" json:"updatedAt"`
}

type Wallet struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"userId"`
	Address   string     `db:"address" json:"address"`
	Type      WalletType `db:"type" json:"type"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

type CreateWalletParams struct {
	UserID  string
	Address string
	Type    WalletType
}
