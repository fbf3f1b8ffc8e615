package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"authgate/internal/account"
	"authgate/internal/audit"
	"authgate/internal/auth"
	"authgate/internal/config"
	"authgate/internal/httpserver"
	"authgate/internal/kv"
	"authgate/internal/logger"
	"authgate/internal/models"
	"authgate/internal/nonce"
	"authgate/internal/ratelimit"
	"authgate/internal/session"
	"authgate/internal/store"
)

func main() {
	_ = godotenv.Load()

	lg := logger.New()
	defer lg.Sync()

	cfg, err := config.Load()
	if err != nil {
		lg.Fatalw("configuration invalid", "error", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		lg.Fatalw("database connection failed", "error", err)
	}
	if err := db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.AuditRecord{},
		&models.ActivityRecord{},
	); err != nil {
		lg.Fatalw("migration failed", "error", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		lg.Fatalw("redis connection failed", "addr", cfg.RedisAddr, "error", err)
	}
	kvStore := kv.NewRedis(rdb)

	users := store.NewGormUsers(db)
	tenants := store.NewGormTenants(db)
	activities := store.NewGormActivities(db)
	auditRows := store.NewGormAudit(db)

	defaultTenant, err := tenants.EnsureDefault(context.Background(), cfg.DefaultTenantSlug)
	if err != nil {
		lg.Fatalw("default tenant seeding failed", "slug", cfg.DefaultTenantSlug, "error", err)
	}

	pipeline := audit.NewPipeline(activities, auditRows, kvStore, lg, cfg.AuditBatchSize, cfg.AuditBatchTimeout)
	tokens := auth.NewTokenService(cfg.TokenSecret, cfg.TokenLifetime, kvStore)
	sessions := session.NewManager(kvStore, session.DefaultTTL)
	nonces := nonce.NewRegistry(cfg.WalletNonceTTL)
	accounts := account.NewService(users, activities, tokens, sessions, nonces, pipeline, lg)
	limiter := ratelimit.New(kvStore, cfg.RateLimitWindow, cfg.RateLimitMax,
		map[string]int{"login": cfg.LoginRateLimitMax})

	router := httpserver.NewRouter(httpserver.Deps{
		Accounts:      accounts,
		Tokens:        tokens,
		Sessions:      sessions,
		Tenants:       tenants,
		Limiter:       limiter,
		Pipeline:      pipeline,
		Log:           lg,
		DefaultTenant: defaultTenant.ID,
		SlowRequest:   cfg.SlowRequest,
		LargeResponse: cfg.LargeResponseBytes,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		lg.Infow("server listening", "port", cfg.HTTPPort, "default_tenant", defaultTenant.Slug)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Infow("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Errorw("shutdown incomplete", "error", err)
	}
	// Drain pending audit batches after the listener stops.
	pipeline.Close()
	_ = rdb.Close()
}
