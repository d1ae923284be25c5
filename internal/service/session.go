package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/peermeet/call-server-go/internal/errors"
	"github.com/peermeet/call-server-go/internal/model"
	"github.com/peermeet/call-server-go/internal/repository"
)

// SessionService covers session lifecycle beyond login: introspection,
// revocation, and expiry bookkeeping.
type SessionService struct {
	sessionRepo repository.SessionRepository
	userRepo    repository.UserRepository
	walletRepo  repository.WalletRepository
	refreshRepo repository.RefreshTokenRepository
	keyRepo     repository.EphemeralKeyRepository
}

func NewSessionService(
	sessionRepo repository.SessionRepository,
	userRepo repository.UserRepository,
	walletRepo repository.WalletRepository,
	refreshRepo repository.RefreshTokenRepository,
	keyRepo repository.EphemeralKeyRepository,
) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		walletRepo:  walletRepo,
		refreshRepo: refreshRepo,
		keyRepo:     keyRepo,
	}
}

// GetActive loads a session and enforces its state machine: expired and
// revoked sessions are terminal and reject further use. A session past its
// expiry is marked expired on the way out.
func (s *SessionService) GetActive(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, apperrors.InvalidCredential()
	}

	if session.Status == model.SessionStatusActive && time.Now().After(session.ExpiresAt) {
		if err := s.sessionRepo.MarkExpired(ctx, session.ID); err != nil {
			log.Error().Err(err).Str("sessionId", session.ID).Msg("failed to mark session expired")
		}
		return nil, apperrors.SessionExpired()
	}
	if session.Status != model.SessionStatusActive {
		return nil, apperrors.SessionExpired()
	}

	return session, nil
}

type SessionInfo struct {
	Session       *model.Session       `json:"session"`
	User          *model.User          `json:"user"`
	Wallet        *model.Wallet        `json:"wallet"`
	EphemeralKeys []model.EphemeralKey `json:"ephemeralKeys"`
}

// Me returns the session, its owner, and the currently eligible ephemeral keys.
func (s *SessionService) Me(ctx context.Context, sessionID string) (*SessionInfo, error) {
	session, err := s.GetActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	wlt, err := s.walletRepo.FindByID(ctx, session.WalletID)
	if err != nil {
		return nil, fmt.Errorf("find wallet: %w", err)
	}
	keys, err := s.keyRepo.ListActiveBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list ephemeral keys: %w", err)
	}

	return &SessionInfo{
		Session:       session,
		User:          user,
		Wallet:        wlt,
		EphemeralKeys: keys,
	}, nil
}

// Revoke moves the session to its terminal revoked state and invalidates its
// refresh tokens and ephemeral keys. Safe to call on an already revoked
// session.
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return apperrors.NotFound("Session")
	}

	if err := s.sessionRepo.MarkRevoked(ctx, sessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if err := s.refreshRepo.RevokeBySessionID(ctx, sessionID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	if err := s.keyRepo.RevokeBySessionID(ctx, sessionID); err != nil {
		return fmt.Errorf("revoke ephemeral keys: %w", err)
	}

	log.Info().Str("sessionId", sessionID).Msg("session revoked")
	return nil
}
