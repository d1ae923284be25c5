package model

import (
	"time"
)

// Session holds at most one live encrypted private key at a time: issuing a
// new ephemeral key overwrites EncryptedPrivateKey.
type Session struct {
	ID                  string        `db:"id" json:"id"`
	UserID              string        `db:"user_id" json:"userId"`
	WalletID            string        `db:"wallet_id" json:"walletId"`
	Status              SessionStatus `db:"status" json:"status"`
	EncryptedPrivateKey *string       `db:"encrypted_private_key" json:"-"`
	ExpiresAt           time.Time     `db:"expires_at" json:"expiresAt"`
	LastUsedAt          *time.Time    `db:"last_used_at" json:"lastUsedAt,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updatedAt"`
}

// Active reports whether the session can still be refreshed or sign.
func (s *Session) Active(now time.Time) bool {
	return s.Status == SessionStatusActive && now.Before(s.ExpiresAt)
}

type CreateSessionParams struct {
	UserID    string
	WalletID  string
	ExpiresAt time.Time
}

// RefreshToken stores only the SHA-256 hash of the issued value; the raw
// value is never persisted.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	SessionID string     `db:"session_id" json:"sessionId"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expiresAt"`
	RevokedAt *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

type CreateRefreshTokenParams struct {
	SessionID string
	TokenHash string
	ExpiresAt time.Time
}
