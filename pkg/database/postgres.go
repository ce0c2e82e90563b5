package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shamoka80/r2ready-sub010/pkg/config"
)

const applicationName = "r2ready-engine"

// DB is the application role's connection pool. Repositories never use it
// directly; every query runs on a connection acquired through a TenantScope.
type DB struct {
	*pgxpool.Pool
}

// PoolConfig holds pool settings. Zero values take the defaults below.
type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// PoolConfigFrom builds pool settings for the application role.
func PoolConfigFrom(cfg *config.DatabaseConfig) *PoolConfig {
	return &PoolConfig{
		URL:      cfg.ConnectionString(),
		MaxConns: cfg.MaxConnections,
		MinConns: cfg.MaxIdleConns,
	}
}

// Open creates the pool and verifies it with a ping.
func Open(ctx context.Context, cfg *PoolConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = orDefault(cfg.MaxConns, 25)
	poolConfig.MinConns = min(cfg.MinConns, poolConfig.MaxConns)
	poolConfig.MaxConnLifetime = orDefault(cfg.MaxConnLifetime, time.Hour)
	poolConfig.MaxConnIdleTime = orDefault(cfg.MaxConnIdleTime, 30*time.Minute)
	if _, ok := poolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
