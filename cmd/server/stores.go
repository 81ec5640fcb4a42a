package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"copytrade-engine/internal/config"
	"copytrade-engine/internal/ratelimit"
	"copytrade-engine/internal/storage"
	chstore "copytrade-engine/internal/storage/clickhouse"
	"copytrade-engine/internal/storage/memory"
	"copytrade-engine/internal/storage/migrations"
	pgstore "copytrade-engine/internal/storage/postgres"
	redisstore "copytrade-engine/internal/storage/redis"
)

// allStores holds every storage implementation the engine uses.
type allStores struct {
	configs     storage.CopyConfigStore
	follows     storage.FollowStore
	positions   storage.CopyPositionStore
	fills       storage.FillStore
	checkpoints storage.CheckpointStore
	events      storage.TradeEventStore
	stats       storage.TraderStatsStore
	limiter     ratelimit.Limiter
}

// createStores opens the configured backends. The returned cleanup closes
// every connection that was opened.
func createStores(ctx context.Context, cfg config.Config, log *zap.Logger) (*allStores, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*allStores, func(), error) {
		cleanup()
		return nil, nil, err
	}

	stores := &allStores{
		configs:     memory.NewCopyConfigStore(),
		follows:     memory.NewFollowStore(),
		positions:   memory.NewCopyPositionStore(),
		fills:       memory.NewFillStore(),
		checkpoints: memory.NewCheckpointStore(),
		events:      memory.NewTradeEventStore(),
		stats:       memory.NewTraderStatsStore(),
		limiter:     ratelimit.NewMemoryLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window),
	}

	// PostgreSQL: configurations, follows, positions, fills, checkpoints
	if cfg.Storage.Backend == config.BackendPostgres {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, pool.Close)

		if cfg.Storage.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool, log); err != nil {
				return fail(fmt.Errorf("postgres migrations: %w", err))
			}
		}

		stores.configs = pgstore.NewCopyConfigStore(pool)
		stores.follows = pgstore.NewFollowStore(pool)
		stores.positions = pgstore.NewCopyPositionStore(pool)
		stores.fills = pgstore.NewFillStore(pool)
		stores.checkpoints = pgstore.NewCheckpointStore(pool)
		log.Info("using postgres stores")
	}

	// ClickHouse: leader trade history and trader stats
	if cfg.Storage.ClickhouseDSN != "" {
		var (
			conn *chstore.Conn
			err  error
		)
		if cfg.Storage.Migrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN, log)
		} else {
			conn, err = chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
		}
		if err != nil {
			return fail(fmt.Errorf("clickhouse: %w", err))
		}
		closers = append(closers, func() { _ = conn.Close() })

		stores.events = chstore.NewTradeEventStore(conn)
		stores.stats = chstore.NewTraderStatsStore(conn)
		log.Info("using clickhouse analytics stores")
	}

	// Redis: rate limit counters and checkpoints shared across replicas
	if cfg.Storage.Counters == config.BackendRedis {
		client, err := redisstore.NewClient(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = client.Close() })

		stores.limiter = ratelimit.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window)
		stores.checkpoints = redisstore.NewCheckpointStore(client)
		log.Info("using redis counters", zap.String("addr", cfg.Storage.RedisAddr))
	}

	return stores, cleanup, nil
}
