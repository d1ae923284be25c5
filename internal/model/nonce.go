package model

import (
	"time"
)

// AuthNonce is a single-use challenge issued for wallet authentication.
// ConsumedAt is set atomically with session creation to prevent replay.
type AuthNonce struct {
	ID            string     `db:"id" json:"id"`
	WalletAddress string     `db:"wallet_address" json:"walletAddress"`
	Nonce         string     `db:"nonce" json:"nonce"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expiresAt"`
	ConsumedAt    *time.Time `db:"consumed_at" json:"consumedAt,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}

type CreateAuthNonceParams struct {
	WalletAddress string
	Nonce         string
	ExpiresAt     time.Time
}
