package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	apperrors "github.com/peermeet/call-server-go/internal/errors"
	"github.com/peermeet/call-server-go/internal/model"
	"github.com/peermeet/call-server-go/internal/repository"
	"github.com/peermeet/call-server-go/internal/token"
	"github.com/peermeet/call-server-go/internal/util"
	"github.com/peermeet/call-server-go/internal/wallet"
)

type AuthConfig struct {
	NonceTTL        time.Duration
	SessionTTL      time.Duration
	RefreshTokenTTL time.Duration
}

// AuthService owns the wallet login flow: nonce challenge, signature
// verification, session creation, and credential refresh.
type AuthService struct {
	db          TxRunner
	nonceRepo   repository.AuthNonceRepository
	userRepo    repository.UserRepository
	walletRepo  repository.WalletRepository
	sessionRepo repository.SessionRepository
	refreshRepo repository.RefreshTokenRepository
	verifier    *wallet.Registry
	codec       *token.Codec
	cfg         AuthConfig
}

func NewAuthService(
	db TxRunner,
	nonceRepo repository.AuthNonceRepository,
	userRepo repository.UserRepository,
	walletRepo repository.WalletRepository,
	sessionRepo repository.SessionRepository,
	refreshRepo repository.RefreshTokenRepository,
	verifier *wallet.Registry,
	codec *token.Codec,
	cfg AuthConfig,
) *AuthService {
	return &AuthService{
		db:          db,
		nonceRepo:   nonceRepo,
		userRepo:    userRepo,
		walletRepo:  walletRepo,
		sessionRepo: sessionRepo,
		refreshRepo: refreshRepo,
		verifier:    verifier,
		codec:       codec,
		cfg:         cfg,
	}
}

// IssueNonce mints a single-use challenge for the wallet to sign.
func (s *AuthService) IssueNonce(ctx context.Context, walletAddress string) (*model.AuthNonce, error) {
	value, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	nonce, err := s.nonceRepo.Create(ctx, model.CreateAuthNonceParams{
		WalletAddress: walletAddress,
		Nonce:         value,
		ExpiresAt:     time.Now().Add(s.cfg.NonceTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create nonce: %w", err)
	}

	log.Info().
		Str("wallet", util.MaskAddress(walletAddress)).
		Time("expiresAt", nonce.ExpiresAt).
		Msg("auth nonce issued")

	return nonce, nil
}

type VerifyResult struct {
	AccessToken  string
	RefreshToken string
	Session      *model.Session
	User         *model.User
	Wallet       *model.Wallet
}

// VerifyWallet checks the signature over the outstanding nonce, consumes the
// nonce atomically with session creation, and returns fresh credentials. The
// consume is a conditional update so a replayed signature cannot win twice.
func (s *AuthService) VerifyWallet(ctx context.Context, walletAddress, signature string, walletType model.WalletType) (*VerifyResult, error) {
	nonce, err := s.nonceRepo.FindLatestUnconsumed(ctx, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("find nonce: %w", err)
	}
	if nonce == nil {
		return nil, apperrors.ValidationError("Invalid or expired nonce")
	}

	if err := s.verifier.Verify(walletType, walletAddress, nonce.Nonce, signature); err != nil {
		log.Warn().
			Err(err).
			Str("wallet", util.MaskAddress(walletAddress)).
			Msg("wallet signature verification failed")
		return nil, apperrors.InvalidCredential()
	}

	var result VerifyResult
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		consumed, err := s.nonceRepo.WithTx(tx).Consume(ctx, nonce.ID)
		if err != nil {
			return fmt.Errorf("consume nonce: %w", err)
		}
		if !consumed {
			return apperrors.ValidationError("Invalid or expired nonce")
		}

		user, wlt, err := s.findOrCreateIdentity(ctx, tx, walletAddress, walletType)
		if err != nil {
			return err
		}

		session, err := s.sessionRepo.WithTx(tx).Create(ctx, model.CreateSessionParams{
			UserID:    user.ID,
			WalletID:  wlt.ID,
			ExpiresAt: time.Now().Add(s.cfg.SessionTTL),
		})
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}

		refreshValue, err := s.issueRefreshToken(ctx, tx, session.ID)
		if err != nil {
			return err
		}

		accessValue, err := s.codec.Issue(token.IssueParams{
			UserID:        user.ID,
			WalletAddress: wlt.Address,
			SessionID:     session.ID,
		})
		if err != nil {
			return err
		}

		result = VerifyResult{
			AccessToken:  accessValue,
			RefreshToken: refreshValue,
			Session:      session,
			User:         user,
			Wallet:       wlt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", result.Session.ID).
		Str("userId", result.User.ID).
		Str("wallet", util.MaskAddress(walletAddress)).
		Msg("session created")

	return &result, nil
}

func (s *AuthService) findOrCreateIdentity(ctx context.Context, tx *sqlx.Tx, walletAddress string, walletType model.WalletType) (*model.User, *model.Wallet, error) {
	userRepo := s.userRepo.WithTx(tx)
	walletRepo := s.walletRepo.WithTx(tx)

	user, err := userRepo.FindByWalletAddress(ctx, walletAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		user, err = userRepo.Create(ctx, walletAddress)
		if repository.IsUniqueViolation(err) {
			// Lost the insert race to a concurrent login; the row is
			// there now.
			user, err = userRepo.FindByWalletAddress(ctx, walletAddress)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("create user: %w", err)
		}
	}

	wlt, err := walletRepo.FindByAddress(ctx, walletAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("find wallet: %w", err)
	}
	if wlt == nil {
		wlt, err = walletRepo.Create(ctx, model.CreateWalletParams{
			UserID:  user.ID,
			Address: walletAddress,
			Type:    walletType,
		})
		if repository.IsUniqueViolation(err) {
			wlt, err = walletRepo.FindByAddress(ctx, walletAddress)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("create wallet: %w", err)
		}
	}

	return user, wlt, nil
}

// issueRefreshToken mints an opaque refresh value and persists only its hash.
func (s *AuthService) issueRefreshToken(ctx context.Context, tx *sqlx.Tx, sessionID string) (string, error) {
	value, err := util.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}

	_, err = s.refreshRepo.WithTx(tx).Create(ctx, model.CreateRefreshTokenParams{
		SessionID: sessionID,
		TokenHash: util.HashToken(value),
		ExpiresAt: time.Now().Add(s.cfg.RefreshTokenTTL),
	})
	if err != nil {
		return "", fmt.Errorf("create refresh token: %w", err)
	}
	return value, nil
}

// Refresh exchanges a valid refresh token for a new access credential. The
// new credential carries the same subject/wallet/session but no stale scope.
func (s *AuthService) Refresh(ctx context.Context, refreshValue string) (string, error) {
	record, err := s.refreshRepo.FindByTokenHash(ctx, util.HashToken(refreshValue))
	if err != nil {
		return "", fmt.Errorf("find refresh token: %w", err)
	}
	if record == nil {
		return "", apperrors.InvalidCredential()
	}

	session, err := s.sessionRepo.FindByID(ctx, record.SessionID)
	if err != nil {
		return "", fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return "", apperrors.InvalidCredential()
	}
	// Session state comes first: Revoke also revokes the session's refresh
	// tokens, and a dead session should report itself rather than the
	// cascade-revoked token.
	if !session.Active(time.Now()) {
		return "", apperrors.SessionExpired()
	}
	if record.RevokedAt != nil || time.Now().After(record.ExpiresAt) {
		return "", apperrors.InvalidCredential()
	}

	wlt, err := s.walletRepo.FindByID(ctx, session.WalletID)
	if err != nil {
		return "", fmt.Errorf("find wallet: %w", err)
	}
	if wlt == nil {
		return "", apperrors.InvalidCredential()
	}

	if err := s.sessionRepo.TouchLastUsed(ctx, session.ID); err != nil {
		return "", fmt.Errorf("touch session: %w", err)
	}

	return s.codec.Issue(token.IssueParams{
		UserID:        session.UserID,
		WalletAddress: wlt.Address,
		SessionID:     session.ID,
	})
}
