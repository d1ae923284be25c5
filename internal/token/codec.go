package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/peermeet/call-server-go/internal/errors"
)

// Claims is the access credential payload. Scope is comma-joined to match
// the at-rest encoding on ephemeral keys.
type Claims struct {
	jwt.RegisteredClaims
	Wallet         string `json:"wal"`
	SessionID      string `json:"sid"`
	EphemeralKeyID string `json:"ekey,omitempty"`
	Scope          string `json:"scope,omitempty"`
}

// Scopes splits the comma-joined scope claim into a slice.
func (c *Claims) Scopes() []string {
	if c.Scope == "" {
		return nil
	}
	return strings.Split(c.Scope, ",")
}

// Codec signs and verifies access credentials with a shared HS256 secret.
// Verification is stateless: any holder of the secret can validate a
// credential without touching storage.
type Codec struct {
	secret    []byte
	accessTTL time.Duration
}

func NewCodec(secret string, accessTTL time.Duration) *Codec {
	return &Codec{
		secret:    []byte(secret),
		accessTTL: accessTTL,
	}
}

type IssueParams struct {
	UserID         string
	WalletAddress  string
	SessionID      string
	EphemeralKeyID string
	Scopes         []string
}

// Issue mints a signed, time-boxed access credential. Fails with a
// configuration error when the signing secret is unset; this is never
// silently defaulted.
func (c *Codec) Issue(params IssueParams) (string, error) {
	if len(c.secret) == 0 {
		return "", apperrors.Configuration("JWT secret is not configured")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   params.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
		Wallet:         params.WalletAddress,
		SessionID:      params.SessionID,
		EphemeralKeyID: params.EphemeralKeyID,
		Scope:          strings.Join(params.Scopes, ","),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, "sign credential", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of an access credential. All
// failure modes (malformed, bad signature, expired) collapse into the same
// error so callers cannot probe which part failed.
func (c *Codec) Verify(value string) (*Claims, error) {
	if len(c.secret) == 0 {
		return nil, apperrors.Configuration("JWT secret is not configured")
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(value, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apperrors.InvalidCredential()
	}

	return &claims, nil
}
