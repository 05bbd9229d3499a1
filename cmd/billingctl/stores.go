package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/code-payments/flipchat-billing/flags"
	"github.com/code-payments/flipchat-billing/iap"
	iap_memory "github.com/code-payments/flipchat-billing/iap/memory"
	iap_postgres "github.com/code-payments/flipchat-billing/iap/postgres"
	iap_redis "github.com/code-payments/flipchat-billing/iap/redis"
)

// openTokenStore returns the consumed-token store selected by cfg and a
// function releasing its connection.
func openTokenStore(ctx context.Context, cfg *flags.Billing) (iap.TokenStore, func(), error) {
	switch cfg.TokenStore {
	case flags.TokenStoreMemory:
		return iap_memory.NewInMemory(), func() {}, nil
	case flags.TokenStorePostgres:
		db, err := sql.Open("pgx", cfg.TokenStoreDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		if err := iap_postgres.CreateSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to create schema: %w", err)
		}
		return iap_postgres.NewInPostgres(db), func() { db.Close() }, nil
	case flags.TokenStoreRedis:
		opts, err := redis.ParseURL(cfg.TokenStoreDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return iap_redis.NewInRedis(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown token store %q", cfg.TokenStore)
	}
}
