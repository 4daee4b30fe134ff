// Package app wires the ledger's infrastructure from configuration. Both
// the API server and the statement job build their dependencies here.
package app

import (
	"context"
	"fmt"

	"github.com/boddenberg/card-ledger-go/internal/config"
	"github.com/boddenberg/card-ledger-go/internal/domain"
	"github.com/boddenberg/card-ledger-go/internal/infra/amqp"
	"github.com/boddenberg/card-ledger-go/internal/infra/cache"
	"github.com/boddenberg/card-ledger-go/internal/infra/memory"
	"github.com/boddenberg/card-ledger-go/internal/infra/observability"
	"github.com/boddenberg/card-ledger-go/internal/infra/postgres"
	"github.com/boddenberg/card-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/card-ledger-go/internal/port"
	"github.com/boddenberg/card-ledger-go/internal/service"

	"go.uber.org/zap"
)

// Deps holds the wired ledger service and the resources behind it.
type Deps struct {
	Service *service.LedgerService
	Metrics *observability.Metrics

	closers []func()
	logger  *zap.Logger
}

// Build connects every backend named by cfg. Optional backends (Redis,
// AMQP) degrade to in-process fallbacks when unreachable; the store does
// not.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Deps, error) {
	d := &Deps{Metrics: observability.NewMetrics(), logger: logger}

	store, err := d.openStore(ctx, cfg)
	if err != nil {
		d.Close()
		return nil, err
	}
	statements := d.statementCache(ctx, cfg)
	events := d.publisher(cfg)

	d.Service = service.NewLedgerService(store, statements, events, d.Metrics, logger)
	return d, nil
}

// Close releases resources in reverse order of acquisition.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func (d *Deps) onClose(fn func()) {
	d.closers = append(d.closers, fn)
}

// ============================================================
// Store
// ============================================================

func (d *Deps) openStore(ctx context.Context, cfg *config.Config) (port.LedgerStore, error) {
	if cfg.StoreBackend == config.BackendMemory {
		d.logger.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil
	}

	if cfg.MigrateOnStart {
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		d.logger.Info("database migrations applied")
	}

	retry := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}, retry, d.logger)
	if err != nil {
		return nil, err
	}
	d.onClose(func() {
		if err := db.Close(); err != nil {
			d.logger.Warn("closing database", zap.Error(err))
		}
	})

	cb := resilience.NewCircuitBreaker("postgres", domain.IsBusinessError)
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)
	return postgres.NewStore(db, cb, bulkhead, d.logger), nil
}

// ============================================================
// Cache & events
// ============================================================

func (d *Deps) statementCache(ctx context.Context, cfg *config.Config) port.Cache[[]domain.Statement] {
	if cfg.CacheBackend == config.BackendRedis {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err == nil {
			d.onClose(func() { _ = rdb.Close() })
			d.logger.Info("statement cache backed by redis", zap.String("addr", cfg.RedisAddr))
			return cache.NewRedis[[]domain.Statement](rdb, "ledger:statements:", cfg.CacheTTL, cfg.RedisTimeout, d.logger)
		}
		d.logger.Warn("redis unavailable, falling back to in-memory statement cache",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(err),
		)
	}
	c := cache.New[[]domain.Statement](cfg.CacheTTL)
	d.onClose(c.Close)
	return c
}

func (d *Deps) publisher(cfg *config.Config) port.EventPublisher {
	if cfg.AMQPURL == "" {
		d.logger.Info("AMQP disabled, ledger events are logged only")
		return amqp.NewLogPublisher(d.logger)
	}
	pub, err := amqp.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, d.logger)
	if err != nil {
		d.logger.Warn("AMQP unavailable, ledger events are logged only", zap.Error(err))
		return amqp.NewLogPublisher(d.logger)
	}
	d.onClose(func() {
		if err := pub.Close(); err != nil {
			d.logger.Warn("closing AMQP publisher", zap.Error(err))
		}
	})
	d.logger.Info("publishing ledger events", zap.String("exchange", cfg.AMQPExchange))
	return pub
}
