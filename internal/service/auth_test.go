package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/peermeet/call-server-go/internal/errors"
	"github.com/peermeet/call-server-go/internal/model"
	"github.com/peermeet/call-server-go/internal/token"
	"github.com/peermeet/call-server-go/internal/util"
	"github.com/peermeet/call-server-go/internal/wallet"
)

type authFixture struct {
	db          *mockTxRunner
	nonceRepo   *mockNonceRepo
	userRepo    *mockUserRepo
	walletRepo  *mockWalletRepo
	sessionRepo *mockSessionRepo
	refreshRepo *mockRefreshTokenRepo
	svc         *AuthService
}

func newAuthFixture() *authFixture {
	f := &authFixture{
		db:          new(mockTxRunner),
		nonceRepo:   new(mockNonceRepo),
		userRepo:    new(mockUserRepo),
		walletRepo:  new(mockWalletRepo),
		sessionRepo: new(mockSessionRepo),
		refreshRepo: new(mockRefreshTokenRepo),
	}
	f.svc = NewAuthService(
		f.db,
		f.nonceRepo,
		f.userRepo,
		f.walletRepo,
		f.sessionRepo,
		f.refreshRepo,
		wallet.NewRegistry(),
		token.NewCodec("test-secret-for-auth-service", 15*time.Minute),
		AuthConfig{
			NonceTTL:        10 * time.Minute,
			SessionTTL:      24 * time.Hour,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
	)
	return f
}

// testWallet is an ed25519 keypair presented the way a sui wallet would be.
type testWallet struct {
	address string
	priv    ed25519.PrivateKey
}

func newTestWallet(t *testing.T) testWallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return testWallet{
		address: "0x" + hex.EncodeToString(pub),
		priv:    priv,
	}
}

func (w testWallet) sign(message string) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(w.priv, []byte(message)))
}

func TestAuthService_IssueNonce(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture()

	f.nonceRepo.On("Create", ctx, mock.MatchedBy(func(p model.CreateAuthNonceParams) bool {
		return p.WalletAddress == "0xabc" && len(p.Nonce) == 64 && p.ExpiresAt.After(time.Now())
	})).Return(&model.AuthNonce{
		ID:            "nonce-1",
		WalletAddress: "0xabc",
		Nonce:         "deadbeef",
		ExpiresAt:     time.Now().Add(10 * time.Minute),
	}, nil)

	nonce, err := f.svc.IssueNonce(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "nonce-1", nonce.ID)
	f.nonceRepo.AssertExpectations(t)
}

func TestAuthService_VerifyWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("issues session and credentials on valid signature", func(t *testing.T) {
		f := newAuthFixture()
		w := newTestWallet(t)
		nonceValue := "challenge-value"

		f.nonceRepo.On("FindLatestUnconsumed", ctx, w.address).Return(&model.AuthNonce{
			ID:            "nonce-1",
			WalletAddress: w.address,
			Nonce:         nonceValue,
			ExpiresAt:     time.Now().Add(5 * time.Minute),
		}, nil)
		f.db.On("WithTx", ctx).Return(nil)
		f.nonceRepo.On("Consume", ctx, "nonce-1").Return(true, nil)
		f.userRepo.On("FindByWalletAddress", ctx, w.address).Return(nil, nil)
		f.userRepo.On("Create", ctx, w.address).Return(&model.User{ID: "user-1", PrimaryWalletAddress: w.address}, nil)
		f.walletRepo.On("FindByAddress", ctx, w.address).Return(nil, nil)
		f.walletRepo.On("Create", ctx, mock.MatchedBy(func(p model.CreateWalletParams) bool {
			return p.UserID == "user-1" && p.Address == w.address && p.Type == model.WalletTypeSui
		})).Return(&model.Wallet{ID: "wallet-1", UserID: "user-1", Address: w.address, Type: model.WalletTypeSui}, nil)
		f.sessionRepo.On("Create", ctx, mock.MatchedBy(func(p model.CreateSessionParams) bool {
			return p.UserID == "user-1" && p.WalletID == "wallet-1"
		})).Return(&model.Session{
			ID:        "session-1",
			UserID:    "user-1",
			WalletID:  "wallet-1",
			Status:    model.SessionStatusActive,
			ExpiresAt: time.Now().Add(24 * time.Hour),
		}, nil)
		f.refreshRepo.On("Create", ctx, mock.MatchedBy(func(p model.CreateRefreshTokenParams) bool {
			// Only a hash of the refresh value may be persisted.
			return p.SessionID == "session-1" && len(p.TokenHash) == 64
		})).Return(&model.RefreshToken{ID: "refresh-1", SessionID: "session-1"}, nil)

		result, err := f.svc.VerifyWallet(ctx, w.address, w.sign(nonceValue), model.WalletTypeSui)
		require.NoError(t, err)

		assert.NotEmpty(t, result.AccessToken)
		assert.NotEmpty(t, result.RefreshToken)
		assert.Equal(t, "session-1", result.Session.ID)
		assert.Equal(t, "user-1", result.User.ID)

		// The stored hash must correspond to the returned raw value.
		createCall := f.refreshRepo.Calls[0].Arguments.Get(1).(model.CreateRefreshTokenParams)
		assert.Equal(t, util.HashToken(result.RefreshToken), createCall.TokenHash)

		f.nonceRepo.AssertExpectations(t)
		f.sessionRepo.AssertExpectations(t)
	})

	t.Run("rejects bad signature without consuming nonce", func(t *testing.T) {
		f := newAuthFixture()
		w := newTestWallet(t)
		other := newTestWallet(t)

		f.nonceRepo.On("FindLatestUnconsumed", ctx, w.address).Return(&model.AuthNonce{
			ID:            "nonce-1",
			WalletAddress: w.address,
			Nonce:         "challenge-value",
			ExpiresAt:     time.Now().Add(5 * time.Minute),
		}, nil)

		_, err := f.svc.VerifyWallet(ctx, w.address, other.sign("challenge-value"), model.WalletTypeSui)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidCredential))
		f.nonceRepo.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything)
	})

	t.Run("rejects when no outstanding nonce", func(t *testing.T) {
		f := newAuthFixture()
		w := newTestWallet(t)

		f.nonceRepo.On("FindLatestUnconsumed", ctx, w.address).Return(nil, nil)

		_, err := f.svc.VerifyWallet(ctx, w.address, w.sign("anything"), model.WalletTypeSui)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("rejects replay when nonce already consumed", func(t *testing.T) {
		f := newAuthFixture()
		w := newTestWallet(t)
		nonceValue := "challenge-value"

		f.nonceRepo.On("FindLatestUnconsumed", ctx, w.address).Return(&model.AuthNonce{
			ID:            "nonce-1",
			WalletAddress: w.address,
			Nonce:         nonceValue,
			ExpiresAt:     time.Now().Add(5 * time.Minute),
		}, nil)
		f.db.On("WithTx", ctx).Return(nil)
		f.nonceRepo.On("Consume", ctx, "nonce-1").Return(false, nil)

		_, err := f.svc.VerifyWallet(ctx, w.address, w.sign(nonceValue), model.WalletTypeSui)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
		f.sessionRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("reuses existing user and wallet", func(t *testing.T) {
		f := newAuthFixture()
		w := newTestWallet(t)
		nonceValue := "challenge-value"

		f.nonceRepo.On("FindLatestUnconsumed", ctx, w.address).Return(&model.AuthNonce{
			ID:        "nonce-1",
			Nonce:     nonceValue,
			ExpiresAt: time.Now().Add(5 * time.Minute),
		}, nil)
		f.db.On("WithTx", ctx).Return(nil)
		f.nonceRepo.On("Consume", ctx, "nonce-1").Return(true, nil)
		f.userRepo.On("FindByWalletAddress", ctx, w.address).Return(&model.User{ID: "user-1"}, nil)
		f.walletRepo.On("FindByAddress", ctx, w.address).Return(&model.Wallet{ID: "wallet-1", UserID: "user-1", Address: w.address}, nil)
		f.sessionRepo.On("Create", ctx, mock.Anything).Return(&model.Session{
			ID:        "session-1",
			UserID:    "user-1",
			WalletID:  "wallet-1",
			Status:    model.SessionStatusActive,
			ExpiresAt: time.Now().Add(24 * time.Hour),
		}, nil)
		f.refreshRepo.On("Create", ctx, mock.Anything).Return(&model.RefreshToken{ID: "refresh-1"}, nil)

		_, err := f.svc.VerifyWallet(ctx, w.address, w.sign(nonceValue), model.WalletTypeSui)
		require.NoError(t, err)
		f.userRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		f.walletRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("recovers when a concurrent login wins the user insert", func(t *testing.T) {
		f := newAuthFixture()
		w := newTestWallet(t)
		nonceValue := "challenge-value"

		f.nonceRepo.On("FindLatestUnconsumed", ctx, w.address).Return(&model.AuthNonce{
			ID:        "nonce-1",
			Nonce:     nonceValue,
			ExpiresAt: time.Now().Add(5 * time.Minute),
		}, nil)
		f.db.On("WithTx", ctx).Return(nil)
		f.nonceRepo.On("Consume", ctx, "nonce-1").Return(true, nil)
		f.userRepo.On("FindByWalletAddress", ctx, w.address).Return(nil, nil).Once()
		f.userRepo.On("Create", ctx, w.address).Return(nil, &pq.Error{Code: "23505"})
		f.userRepo.On("FindByWalletAddress", ctx, w.address).Return(&model.User{ID: "user-1"}, nil).Once()
		f.walletRepo.On("FindByAddress", ctx, w.address).Return(&model.Wallet{ID: "wallet-1", UserID: "user-1", Address: w.address}, nil)
		f.sessionRepo.On("Create", ctx, mock.Anything).Return(&model.Session{
			ID:        "session-1",
			UserID:    "user-1",
			WalletID:  "wallet-1",
			Status:    model.SessionStatusActive,
			ExpiresAt: time.Now().Add(24 * time.Hour),
		}, nil)
		f.refreshRepo.On("Create", ctx, mock.Anything).Return(&model.RefreshToken{ID: "refresh-1"}, nil)

		result, err := f.svc.VerifyWallet(ctx, w.address, w.sign(nonceValue), model.WalletTypeSui)
		require.NoError(t, err)
		assert.Equal(t, "user-1", result.User.ID)
	})
}

func TestAuthService_Refresh(t *testing.T) {
	ctx := context.Background()
	raw := "0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f"

	activeSession := func() *model.Session {
		return &model.Session{
			ID:        "session-1",
			UserID:    "user-1",
			WalletID:  "wallet-1",
			Status:    model.SessionStatusActive,
			ExpiresAt: time.Now().Add(time.Hour),
		}
	}

	t.Run("issues new access credential", func(t *testing.T) {
		f := newAuthFixture()

		f.refreshRepo.On("FindByTokenHash", ctx, util.HashToken(raw)).Return(&model.RefreshToken{
			ID:        "refresh-1",
			SessionID: "session-1",
			ExpiresAt: time.Now().Add(time.Hour),
		}, nil)
		f.sessionRepo.On("FindByID", ctx, "session-1").Return(activeSession(), nil)
		f.walletRepo.On("FindByID", ctx, "wallet-1").Return(&model.Wallet{ID: "wallet-1", Address: "0xabc"}, nil)
		f.sessionRepo.On("TouchLastUsed", ctx, "session-1").Return(nil)

		access, err := f.svc.Refresh(ctx, raw)
		require.NoError(t, err)
		assert.NotEmpty(t, access)
	})

	t.Run("rejects unknown token", func(t *testing.T) {
		f := newAuthFixture()
		f.refreshRepo.On("FindByTokenHash", ctx, mock.Anything).Return(nil, nil)

		_, err := f.svc.Refresh(ctx, raw)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidCredential))
	})

	t.Run("rejects revoked token on a live session", func(t *testing.T) {
		f := newAuthFixture()
		revokedAt := time.Now().Add(-time.Minute)
		f.refreshRepo.On("FindByTokenHash", ctx, mock.Anything).Return(&model.RefreshToken{
			ID:        "refresh-1",
			SessionID: "session-1",
			ExpiresAt: time.Now().Add(time.Hour),
			RevokedAt: &revokedAt,
		}, nil)
		f.sessionRepo.On("FindByID", ctx, "session-1").Return(activeSession(), nil)

		_, err := f.svc.Refresh(ctx, raw)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidCredential))
	})

	t.Run("rejects expired token on a live session", func(t *testing.T) {
		f := newAuthFixture()
		f.refreshRepo.On("FindByTokenHash", ctx, mock.Anything).Return(&model.RefreshToken{
			ID:        "refresh-1",
			SessionID: "session-1",
			ExpiresAt: time.Now().Add(-time.Minute),
		}, nil)
		f.sessionRepo.On("FindByID", ctx, "session-1").Return(activeSession(), nil)

		_, err := f.svc.Refresh(ctx, raw)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidCredential))
	})

	t.Run("rejects when session no longer active", func(t *testing.T) {
		f := newAuthFixture()
		f.refreshRepo.On("FindByTokenHash", ctx, mock.Anything).Return(&model.RefreshToken{
			ID:        "refresh-1",
			SessionID: "session-1",
			ExpiresAt: time.Now().Add(time.Hour),
		}, nil)
		session := activeSession()
		session.Status = model.SessionStatusRevoked
		f.sessionRepo.On("FindByID", ctx, "session-1").Return(session, nil)

		_, err := f.svc.Refresh(ctx, raw)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionExpired))
	})

	t.Run("revoked session wins over its cascade-revoked token", func(t *testing.T) {
		f := newAuthFixture()
		revokedAt := time.Now().Add(-time.Minute)
		f.refreshRepo.On("FindByTokenHash", ctx, mock.Anything).Return(&model.RefreshToken{
			ID:        "refresh-1",
			SessionID: "session-1",
			ExpiresAt: time.Now().Add(time.Hour),
			RevokedAt: &revokedAt,
		}, nil)
		session := activeSession()
		session.Status = model.SessionStatusRevoked
		f.sessionRepo.On("FindByID", ctx, "session-1").Return(session, nil)

		_, err := f.svc.Refresh(ctx, raw)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionExpired))
	})
}
