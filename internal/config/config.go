// Package config reads the server configuration from the environment.
// cmd/api loads .env via godotenv before calling Load.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string
	RedisAddr   string
	HTTPPort    string

	TokenSecret   string
	TokenLifetime time.Duration

	WalletNonceTTL time.Duration

	RateLimitWindow   time.Duration
	RateLimitMax      int
	LoginRateLimitMax int

	AuditBatchSize    int
	AuditBatchTimeout time.Duration

	SlowRequest        time.Duration
	LargeResponseBytes int64

	DefaultTenantSlug string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          envString("REDIS_ADDR", "localhost:6379"),
		HTTPPort:           envString("HTTP_PORT", "8080"),
		TokenSecret:        os.Getenv("TOKEN_SECRET"),
		TokenLifetime:      envDuration("TOKEN_LIFETIME", 24*time.Hour),
		WalletNonceTTL:     envDuration("WALLET_NONCE_TTL", 5*time.Minute),
		RateLimitWindow:    envDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		RateLimitMax:       envInt("RATE_LIMIT_MAX", 100),
		LoginRateLimitMax:  envInt("LOGIN_RATE_LIMIT_MAX", 100),
		AuditBatchSize:     envInt("AUDIT_BATCH_SIZE", 100),
		AuditBatchTimeout:  envDuration("AUDIT_BATCH_TIMEOUT", 5*time.Second),
		SlowRequest:        envDuration("SLOW_REQUEST", time.Second),
		LargeResponseBytes: int64(envInt("LARGE_RESPONSE_BYTES", 1<<20)),
		DefaultTenantSlug:  envString("DEFAULT_TENANT_SLUG", "default"),
	}
	if cfg.TokenSecret == "" {
		return nil, errors.New("TOKEN_SECRET is required")
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
