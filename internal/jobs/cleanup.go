package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peermeet/call-server-go/internal/repository"
)

// sessionRetention keeps expired session rows around for a while so
// operators can inspect recent history before the rows disappear.
const sessionRetention = 24 * time.Hour

// IdleEvictor drops signaling rooms that have not been touched within the
// TTL. The in-memory store needs this sweep; the redis store expires keys on
// its own and passes nil here.
type IdleEvictor interface {
	EvictIdle(ttl time.Duration) int
}

type CleanupJob struct {
	nonceRepo   repository.AuthNonceRepository
	sessionRepo repository.SessionRepository
	refreshRepo repository.RefreshTokenRepository
	keyRepo     repository.EphemeralKeyRepository
	evictor     IdleEvictor
	roomTTL     time.Duration
	interval    time.Duration
	done        chan struct{}
}

func NewCleanupJob(
	nonceRepo repository.AuthNonceRepository,
	sessionRepo repository.SessionRepository,
	refreshRepo repository.RefreshTokenRepository,
	keyRepo repository.EphemeralKeyRepository,
	evictor IdleEvictor,
	roomTTL time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		nonceRepo:   nonceRepo,
		sessionRepo: sessionRepo,
		refreshRepo: refreshRepo,
		keyRepo:     keyRepo,
		evictor:     evictor,
		roomTTL:     roomTTL,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "auth nonces", j.nonceRepo.DeleteExpired)
	j.runCleanup(ctx, "refresh tokens", j.refreshRepo.DeleteExpired)
	j.runCleanup(ctx, "ephemeral keys", j.keyRepo.DeleteExpired)
	j.runCleanup(ctx, "sessions", func(ctx context.Context) (int64, error) {
		return j.sessionRepo.DeleteExpired(ctx, time.Now().Add(-sessionRetention))
	})

	if j.evictor != nil {
		if count := j.evictor.EvictIdle(j.roomTTL); count > 0 {
			log.Info().Int("count", count).Msg("evicted idle signaling rooms")
		}
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
