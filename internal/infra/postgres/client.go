// Package postgres implements the ledger store on PostgreSQL.
// Ledger writes run in one database transaction and serialize on
// SELECT ... FOR UPDATE row locks.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/boddenberg/card-ledger-go/internal/infra/resilience"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to dsn, configures the pool and pings the server with
// retry and backoff until it answers or retries run out.
func Open(ctx context.Context, dsn string, pool PoolConfig, retry resilience.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	attempt := 0
	err = resilience.RetryWithBackoff(ctx, retry, func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("postgres: ping failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	logger.Info("postgres: connection established",
		zap.Int("max_open_conns", pool.MaxOpenConns),
		zap.Int("max_idle_conns", pool.MaxIdleConns),
		zap.Duration("conn_max_lifetime", pool.ConnMaxLifetime),
	)
	return db, nil
}
