package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	apperrors "github.com/peermeet/call-server-go/internal/errors"
	"github.com/peermeet/call-server-go/internal/model"
	"github.com/peermeet/call-server-go/internal/repository"
	"github.com/peermeet/call-server-go/internal/vault"
)

// defaultScopes is granted when an issuance request names none.
var defaultScopes = []string{"room:create", "room:approve"}

// SignerService issues session-bound ephemeral signing keys and produces
// signatures on their behalf. Private halves live only inside the vault
// boundary; a decrypted key exists for the duration of one AutoSign call and
// is never cached.
type SignerService struct {
	db          TxRunner
	sessions    *SessionService
	sessionRepo repository.SessionRepository
	keyRepo     repository.EphemeralKeyRepository
	vault       *vault.Vault
	keyTTL      time.Duration
}

func NewSignerService(
	db TxRunner,
	sessions *SessionService,
	sessionRepo repository.SessionRepository,
	keyRepo repository.EphemeralKeyRepository,
	keyVault *vault.Vault,
	keyTTL time.Duration,
) *SignerService {
	return &SignerService{
		db:          db,
		sessions:    sessions,
		sessionRepo: sessionRepo,
		keyRepo:     keyRepo,
		vault:       keyVault,
		keyTTL:      keyTTL,
	}
}

type IssueKeyResult struct {
	EphemeralKeyID string    `json:"ephemeralKeyId"`
	PublicKey      string    `json:"publicKey"`
	ExpiresAt      time.Time `json:"expiresAt"`
	Scope          []string  `json:"scope"`
}

// IssueEphemeralKey generates an ed25519 keypair scoped to the session. The
// key row and the session's encrypted blob move together in one transaction;
// the previous blob is overwritten, so the session holds at most one live
// private key. Concurrent issuance for one session is last-writer-wins.
func (s *SignerService) IssueEphemeralKey(ctx context.Context, sessionID string, scopes []string) (*IssueKeyResult, error) {
	if _, err := s.sessions.GetActive(ctx, sessionID); err != nil {
		return nil, err
	}

	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	blob, err := s.vault.Encrypt(priv.Seed())
	if err != nil {
		return nil, err
	}

	var key *model.EphemeralKey
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		key, err = s.keyRepo.WithTx(tx).Create(ctx, model.CreateEphemeralKeyParams{
			SessionID: sessionID,
			PublicKey: base64.StdEncoding.EncodeToString(pub),
			Alg:       model.KeyAlgorithmEd25519,
			Scope:     strings.Join(scopes, ","),
			ExpiresAt: time.Now().Add(s.keyTTL),
		})
		if err != nil {
			return fmt.Errorf("create ephemeral key: %w", err)
		}
		if err := s.sessionRepo.WithTx(tx).SetEncryptedPrivateKey(ctx, sessionID, blob); err != nil {
			return fmt.Errorf("store encrypted key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("ephemeralKeyId", key.ID).
		Strs("scope", scopes).
		Time("expiresAt", key.ExpiresAt).
		Msg("ephemeral key issued")

	return &IssueKeyResult{
		EphemeralKeyID: key.ID,
		PublicKey:      key.PublicKey,
		ExpiresAt:      key.ExpiresAt,
		Scope:          key.Scopes(),
	}, nil
}

type AutoSignResult struct {
	Signature      string `json:"signature"`
	PublicKey      string `json:"publicKey"`
	EphemeralKeyID string `json:"ephemeralKeyId"`
}

// AutoSign signs an opaque payload with the session's ephemeral key, provided
// every requested scope is granted to the key. The scope check is
// exact-subset; there is no partial signing.
func (s *SignerService) AutoSign(ctx context.Context, sessionID string, payload []byte, requestedScopes []string) (*AutoSignResult, error) {
	session, err := s.sessions.GetActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.EncryptedPrivateKey == nil {
		return nil, apperrors.NoActiveKey()
	}

	key, err := s.keyRepo.FindActiveBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find ephemeral key: %w", err)
	}
	if key == nil {
		return nil, apperrors.NoActiveKey()
	}

	if !key.HasScopes(requestedScopes) {
		log.Warn().
			Str("sessionId", sessionID).
			Strs("requested", requestedScopes).
			Str("granted", key.Scope).
			Msg("auto-sign refused: insufficient scope")
		return nil, apperrors.InsufficientScope()
	}

	seed, err := s.vault.Decrypt(*session.EncryptedPrivateKey)
	if err != nil {
		// Integrity failures are logged with detail here and surfaced
		// opaque to the caller.
		log.Error().Err(err).Str("sessionId", sessionID).Msg("ephemeral key decryption failed")
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, apperrors.DecryptionFailed(fmt.Errorf("decrypted key has unexpected length %d", len(seed)))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	signature := ed25519.Sign(priv, payload)

	if err := s.sessionRepo.TouchLastUsed(ctx, sessionID); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to touch session")
	}

	return &AutoSignResult{
		Signature:      base64.StdEncoding.EncodeToString(signature),
		PublicKey:      key.PublicKey,
		EphemeralKeyID: key.ID,
	}, nil
}
