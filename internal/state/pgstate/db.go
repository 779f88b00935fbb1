// Package pgstate is the Postgres-backed StateRepository, grounded on
// the teacher's common/db/db.go (pgxpool sizing/health check) and
// common/repository/run.go (raw SQL CRUD, no ORM).
package pgstate

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dipeo/dipeo-core/internal/config"
	"github.com/dipeo/dipeo-core/internal/logging"
)

// DB wraps a pgxpool.Pool the same way the teacher's common/db.DB does.
type DB struct {
	*pgxpool.Pool
	log *logging.Logger
}

// New opens a pool sized per cfg.Database and pings it with a bounded
// timeout, matching the teacher's startup health check.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxLifetime
	poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &DB{Pool: pool, log: log}, nil
}

// Health pings the pool with a short timeout, for readiness probes.
func (d *DB) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return d.Pool.Ping(healthCtx)
}
