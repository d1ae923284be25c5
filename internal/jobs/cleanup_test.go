package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	"github.com/peermeet/call-server-go/internal/model"
	"github.com/peermeet/call-server-go/internal/repository"
	"github.com/peermeet/call-server-go/internal/signaling"
)

type stubNonceRepo struct {
	deleteExpiredCount int64
	calls              int
}

func (s *stubNonceRepo) FindLatestUnconsumed(ctx context.Context, walletAddress string) (*model.AuthNonce, error) {
	return nil, nil
}

func (s *stubNonceRepo) Create(ctx context.Context, params model.CreateAuthNonceParams) (*model.AuthNonce, error) {
	return nil, nil
}

func (s *stubNonceRepo) Consume(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (s *stubNonceRepo) DeleteExpired(ctx context.Context) (int64, error) {
	s.calls++
	return s.deleteExpiredCount, nil
}

func (s *stubNonceRepo) WithTx(tx *sqlx.Tx) repository.AuthNonceRepository {
	return s
}

type stubSessionRepo struct {
	deleteExpiredCount int64
	calls              int
	retainUntil        time.Time
}

func (s *stubSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}

func (s *stubSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	return nil, nil
}

func (s *stubSessionRepo) TouchLastUsed(ctx context.Context, id string) error {
	return nil
}

func (s *stubSessionRepo) SetEncryptedPrivateKey(ctx context.Context, id string, blob string) error {
	return nil
}

func (s *stubSessionRepo) MarkExpired(ctx context.Context, id string) error {
	return nil
}

func (s *stubSessionRepo) MarkRevoked(ctx context.Context, id string) error {
	return nil
}

func (s *stubSessionRepo) DeleteExpired(ctx context.Context, retainUntil time.Time) (int64, error) {
	s.calls++
	s.retainUntil = retainUntil
	return s.deleteExpiredCount, nil
}

func (s *stubSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository {
	return s
}

type stubRefreshRepo struct {
	deleteExpiredCount int64
	calls              int
}

func (s *stubRefreshRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	return nil, nil
}

func (s *stubRefreshRepo) Create(ctx context.Context, params model.CreateRefreshTokenParams) (*model.RefreshToken, error) {
	return nil, nil
}

func (s *stubRefreshRepo) RevokeBySessionID(ctx context.Context, sessionID string) error {
	return nil
}

func (s *stubRefreshRepo) DeleteExpired(ctx context.Context) (int64, error) {
	s.calls++
	return s.deleteExpiredCount, nil
}

func (s *stubRefreshRepo) WithTx(tx *sqlx.Tx) repository.RefreshTokenRepository {
	return s
}

type stubKeyRepo struct {
	deleteExpiredCount int64
	calls              int
}

func (s *stubKeyRepo) FindActiveBySessionID(ctx context.Context, sessionID string) (*model.EphemeralKey, error) {
	return nil, nil
}

func (s *stubKeyRepo) ListActiveBySessionID(ctx context.Context, sessionID string) ([]model.EphemeralKey, error) {
	return nil, nil
}

func (s *stubKeyRepo) Create(ctx context.Context, params model.CreateEphemeralKeyParams) (*model.EphemeralKey, error) {
	return nil, nil
}

func (s *stubKeyRepo) RevokeBySessionID(ctx context.Context, sessionID string) error {
	return nil
}

func (s *stubKeyRepo) DeleteExpired(ctx context.Context) (int64, error) {
	s.calls++
	return s.deleteExpiredCount, nil
}

func (s *stubKeyRepo) WithTx(tx *sqlx.Tx) repository.EphemeralKeyRepository {
	return s
}

func TestCleanupJob_RunsAllSweeps(t *testing.T) {
	nonceRepo := &stubNonceRepo{deleteExpiredCount: 2}
	sessionRepo := &stubSessionRepo{deleteExpiredCount: 1}
	refreshRepo := &stubRefreshRepo{deleteExpiredCount: 3}
	keyRepo := &stubKeyRepo{deleteExpiredCount: 4}

	job := NewCleanupJob(nonceRepo, sessionRepo, refreshRepo, keyRepo, nil, time.Minute, time.Hour)
	job.cleanup()

	assert.Equal(t, 1, nonceRepo.calls)
	assert.Equal(t, 1, sessionRepo.calls)
	assert.Equal(t, 1, refreshRepo.calls)
	assert.Equal(t, 1, keyRepo.calls)
	assert.True(t, sessionRepo.retainUntil.Before(time.Now()), "expired sessions must be retained for a while")
}

func TestCleanupJob_EvictsIdleRooms(t *testing.T) {
	store := signaling.NewMemoryStore()
	ctx := context.Background()
	assert.NoError(t, store.PostOffer(ctx, "room-1", "v=0"))

	job := NewCleanupJob(&stubNonceRepo{}, &stubSessionRepo{}, &stubRefreshRepo{}, &stubKeyRepo{}, store, -time.Second, time.Hour)
	job.cleanup()

	state, err := store.State(ctx, "room-1")
	assert.NoError(t, err)
	assert.Equal(t, signaling.RoomStateEmpty, state)
}

func TestCleanupJob_StartStop(t *testing.T) {
	nonceRepo := &stubNonceRepo{}
	job := NewCleanupJob(nonceRepo, &stubSessionRepo{}, &stubRefreshRepo{}, &stubKeyRepo{}, nil, time.Minute, 10*time.Millisecond)

	job.Start()
	time.Sleep(35 * time.Millisecond)
	job.Stop()

	assert.GreaterOrEqual(t, nonceRepo.calls, 2)
}
