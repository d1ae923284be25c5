package model

import (
	"strings"
	"time"
)

// EphemeralKey is the public record of a delegated signing key. Multiple rows
// may exist per session (history); only unexpired, unrevoked ones are
// eligible for signing, and the most recently issued eligible key wins.
type EphemeralKey struct {
	ID        string       `db:"id" json:"id"`
	SessionID string       `db:"session_id" json:"sessionId"`
	PublicKey string       `db:"public_key" json:"publicKey"`
	Alg       KeyAlgorithm `db:"alg" json:"alg"`
	Scope     string       `db:"scope" json:"scope"`
	ExpiresAt time.Time    `db:"expires_at" json:"expiresAt"`
	RevokedAt *time.Time   `db:"revoked_at" json:"revokedAt,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
}

// Scopes splits the comma-joined scope column into a slice.
func (k *EphemeralKey) Scopes() []string {
	if k.Scope == "" {
		return nil
	}
	return strings.Split(k.Scope, ",")
}

// HasScopes reports whether every requested scope is granted to the key.
// The check is exact-subset: a key with scope {a,b} satisfies {a} or {a,b}
// but never {a,c}.
func (k *EphemeralKey) HasScopes(requested []string) bool {
	granted := make(map[string]struct{})
	for _, s := range k.Scopes() {
		granted[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}

type CreateEphemeralKeyParams struct {
	SessionID string
	PublicKey string
	Alg       KeyAlgorithm
	Scope     string
	ExpiresAt time.Time
}
