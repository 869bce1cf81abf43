// Package landscape implements the Landscape store: the relational
// audit schema (runs, rows, tokens, token_parents, node_states,
// routing_events, token_outcomes, batches, experiment_assignments, calls)
// and the content-addressable payload store.
package landscape

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tachyon-beep/elspeth/internal/config"
	"github.com/tachyon-beep/elspeth/internal/elslog"
)

// DB wraps pgxpool with the connection settings and health check every
// caller needs; it carries no ELSPETH-specific query logic itself — that
// lives in Store.
type DB struct {
	*pgxpool.Pool
	log *elslog.Logger
}

// NewDB opens a pooled Postgres connection per cfg.
func NewDB(ctx context.Context, cfg *config.Config, log *elslog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("landscape store connected", "host", cfg.Database.Host, "db", cfg.Database.Database)

	return &DB{Pool: pool, log: log}, nil
}

// Close closes the pool.
func (db *DB) Close() {
	db.log.Info("closing landscape store connection pool")
	db.Pool.Close()
}

// Health pings the pool with a short timeout.
func (db *DB) Health(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return db.Pool.Ping(hctx)
}
