package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peermeet/call-server-go/internal/config"
	"github.com/peermeet/call-server-go/internal/database"
	"github.com/peermeet/call-server-go/internal/handler"
	"github.com/peermeet/call-server-go/internal/jobs"
	"github.com/peermeet/call-server-go/internal/middleware"
	"github.com/peermeet/call-server-go/internal/redis"
	"github.com/peermeet/call-server-go/internal/repository"
	"github.com/peermeet/call-server-go/internal/service"
	"github.com/peermeet/call-server-go/internal/signaling"
	"github.com/peermeet/call-server-go/internal/sse"
	"github.com/peermeet/call-server-go/internal/token"
	"github.com/peermeet/call-server-go/internal/vault"
	"github.com/peermeet/call-server-go/internal/wallet"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	userRepo := repository.NewUserRepository(db.DB)
	walletRepo := repository.NewWalletRepository(db.DB)
	nonceRepo := repository.NewAuthNonceRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)
	refreshRepo := repository.NewRefreshTokenRepository(db.DB)
	keyRepo := repository.NewEphemeralKeyRepository(db.DB)

	keyVault, err := vault.NewVault(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}
	codec := token.NewCodec(cfg.JWTSecret, cfg.AccessTokenTTL())
	verifier := wallet.NewRegistry()

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	var store signaling.Store
	var evictor jobs.IdleEvictor
	if cfg.SignalingStore == "redis" {
		store = signaling.NewRedisStore(redisClient.Client, cfg.SignalingRoomTTL())
	} else {
		memStore := signaling.NewMemoryStore()
		store = memStore
		evictor = memStore
	}

	authService := service.NewAuthService(
		db, nonceRepo, userRepo, walletRepo, sessionRepo, refreshRepo,
		verifier, codec,
		service.AuthConfig{
			NonceTTL:        cfg.NonceTTL(),
			SessionTTL:      cfg.SessionTTL(),
			RefreshTokenTTL: cfg.RefreshTokenTTL(),
		},
	)
	sessionService := service.NewSessionService(sessionRepo, userRepo, walletRepo, refreshRepo, keyRepo)
	signerService := service.NewSignerService(db, sessionService, sessionRepo, keyRepo, keyVault, cfg.EphemeralKeyTTL())
	rateLimiter := service.NewRateLimiter(redisClient.Client)

	authMiddleware := middleware.NewAuthMiddleware(codec)
	authRateLimit := middleware.NewIPRateLimitMiddleware(
		rateLimiter, config.AuthRateLimitPerMin, config.AuthRateLimitWindow, "auth",
	)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	authHandler := handler.NewAuthHandler(authService)
	sessionHandler := handler.NewSessionHandler(sessionService, signerService)
	signalingHandler := handler.NewSignalingHandler(store, broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(authRateLimit.Handler)
			r.Mount("/", authHandler.Routes())
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Use(authMiddleware.Handler)
			r.Mount("/", sessionHandler.Routes())
		})

		r.Route("/signaling", func(r chi.Router) {
			r.Mount("/", signalingHandler.Routes())
		})
	})

	cleanupJob := jobs.NewCleanupJob(
		nonceRepo, sessionRepo, refreshRepo, keyRepo,
		evictor, cfg.SignalingRoomTTL(), config.CleanupJobInterval,
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
