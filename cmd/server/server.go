package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"codeberg.org/interviewkit/server/internal/config"
	"codeberg.org/interviewkit/server/internal/ledger"
	"codeberg.org/interviewkit/server/internal/logger"
)

const startupTimeout = 15 * time.Second

// creates and configures a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	rdb, err := connectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	store, err := openLedger(ctx, cfg)
	if err != nil {
		if rdb != nil {
			rdb.Close() //nolint:errcheck,gosec // best-effort cleanup on init failure
		}
		return nil, err
	}

	// the cache owns the redis client from here on
	if rdb != nil {
		store = ledger.NewCachedStore(store, rdb, cfg.AccountTTL)
	}

	limit, err := newRateLimiter(cfg.RateLimit, rdb)
	if err != nil {
		store.Close() //nolint:errcheck,gosec // best-effort cleanup on init failure
		return nil, err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		config:   cfg,
		ledger:   store,
		services: InitializeServices(cfg, store),
		router:   gin.Default(),
	}

	RegisterRoutes(server.router, server, limit)

	logger.Info("server initialized",
		"ledger_backend", cfg.LedgerBackend,
		"account_cache", rdb != nil,
		"network", cfg.Payment.Network,
		"unit_price_usd", cfg.Payment.UnitPriceUSD,
		"daily_free_credits", cfg.DailyFreeCredits,
	)

	return server, nil
}

// returns nil when url is empty: the ledger runs uncached and the limiter in memory
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck,gosec // best-effort cleanup on init failure
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func openLedger(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
	if cfg.LedgerBackend == config.BackendMemory {
		logger.Warn("using in-memory ledger, balances are lost on restart")
		return ledger.NewMemoryStore(), nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := ledger.NewPostgresStore(db)

	if err := store.Initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return store, nil
}
