package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harborops/slotkeeper/libs/auth"
	"github.com/harborops/slotkeeper/libs/config"
	"github.com/harborops/slotkeeper/libs/db"
	"github.com/harborops/slotkeeper/libs/httpx"
	"github.com/harborops/slotkeeper/libs/runtime"
	"github.com/harborops/slotkeeper/services/booking-service/internal/booking"
	"github.com/harborops/slotkeeper/services/booking-service/internal/catalog"
	"github.com/harborops/slotkeeper/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
)

// fleetCatalog supplies vessel configuration and display names.
type fleetCatalog interface {
	booking.VesselSource
	catalog.Directory
}

func openStore(ctx context.Context, logger *slog.Logger) (storage.Store, runtime.ReadyCheck, func(), error) {
	driver := strings.ToLower(config.String("STORAGE_DRIVER", "postgres"))
	if driver == "memory" {
		logger.Warn("using in-memory storage; state is lost on restart")
		return storage.NewMemory(), runtime.ReadyCheck{Name: "storage", Check: func(context.Context) error { return nil }}, func() {}, nil
	}
	if driver != "postgres" {
		return nil, runtime.ReadyCheck{}, nil, fmt.Errorf("unknown STORAGE_DRIVER %q", driver)
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return nil, runtime.ReadyCheck{}, nil, err
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 10, 1))})
	if err != nil {
		return nil, runtime.ReadyCheck{}, nil, err
	}
	if config.Bool("DB_AUTO_MIGRATE", true) {
		if err := storage.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, runtime.ReadyCheck{}, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return storage.NewPostgres(pool), runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)}, pool.Close, nil
}

func openCatalog(logger *slog.Logger) (fleetCatalog, func(), error) {
	if addr := config.String("VESSEL_CATALOG_GRPC_ADDR", ""); addr != "" {
		client, err := catalog.NewGRPC(addr)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("vessel catalog over grpc", "addr", addr)
		return client, func() { _ = client.Close() }, nil
	}
	path, err := config.RequiredString("VESSEL_CATALOG_FILE")
	if err != nil {
		return nil, nil, fmt.Errorf("set VESSEL_CATALOG_GRPC_ADDR or VESSEL_CATALOG_FILE: %w", err)
	}
	static, err := catalog.LoadStatic(path)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("vessel catalog from file", "path", path)
	return static, func() {}, nil
}

func openRedis() *redis.Client {
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0, 0),
	})
}

func rateLimit(rdb *redis.Client, logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120, 1)
	var limiter httpx.Limiter = httpx.NewMemoryLimiter(limit, time.Minute)
	backend := "memory"
	if rdb != nil {
		limiter = httpx.NewRedisLimiter(rdb, limit, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl:booking"))
		backend = "redis"
	}
	logger.Info("rate limiting enabled", "backend", backend, "per_minute", limit)
	return httpx.RateLimit(limiter, logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
}

func newVerifier() (*auth.Verifier, error) {
	secret := config.String("JWT_SECRET", "")
	var jwks *auth.JWKSClient
	if url := config.String("JWKS_URL", ""); url != "" {
		jwks = auth.NewJWKSClient(url, config.Duration("JWKS_CACHE_SECONDS", 5*time.Minute))
	}
	if secret == "" && jwks == nil {
		return nil, fmt.Errorf("JWT_SECRET or JWKS_URL is required")
	}
	return auth.NewVerifier(secret, jwks), nil
}
