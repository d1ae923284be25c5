package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                    int    `env:"PORT" envDefault:"8080"`
	DatabaseURL             string `env:"DATABASE_URL,required"`
	RedisURL                string `env:"REDIS_URL,required"`
	JWTSecret               string `env:"JWT_SECRET"`
	EncryptionKey           string `env:"ENCRYPTION_KEY"`
	AccessTokenTTLMinutes   int    `env:"ACCESS_TOKEN_TTL_MINUTES" envDefault:"15"`
	RefreshTokenTTLDays     int    `env:"REFRESH_TOKEN_TTL_DAYS" envDefault:"7"`
	SessionTTLHours         int    `env:"SESSION_TTL_HOURS" envDefault:"24"`
	EphemeralKeyTTLMinutes  int    `env:"EPHEMERAL_KEY_TTL_MINUTES" envDefault:"30"`
	NonceTTLMinutes         int    `env:"NONCE_TTL_MINUTES" envDefault:"10"`
	SignalingRoomTTLSeconds int    `env:"SIGNALING_ROOM_TTL_SECONDS" envDefault:"900"`
	SignalingStore          string `env:"SIGNALING_STORE" envDefault:"memory"`
	LogLevel                string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLDays) * 24 * time.Hour
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) EphemeralKeyTTL() time.Duration {
	return time.Duration(c.EphemeralKeyTTLMinutes) * time.Minute
}

func (c *Config) NonceTTL() time.Duration {
	return time.Duration(c.NonceTTLMinutes) * time.Minute
}

func (c *Config) SignalingRoomTTL() time.Duration {
	return time.Duration(c.SignalingRoomTTLSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.SignalingStore != "memory" && c.SignalingStore != "redis" {
		return fmt.Errorf("SIGNALING_STORE must be \"memory\" or \"redis\", got %q", c.SignalingStore)
	}

	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil {
			return fmt.Errorf("ENCRYPTION_KEY must be hex-encoded: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(key))
		}
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if c.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required in production: ephemeral private keys cannot be stored unencrypted")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
