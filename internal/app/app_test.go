package app

import (
	"context"
	"testing"
	"time"

	"github.com/boddenberg/card-ledger-go/internal/config"
	"github.com/boddenberg/card-ledger-go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func money(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func memoryConfig() *config.Config {
	return &config.Config{
		StoreBackend:   config.BackendMemory,
		CacheBackend:   config.BackendMemory,
		CacheTTL:       time.Minute,
		MaxConcurrency: 4,
	}
}

func TestBuild_MemoryBackends(t *testing.T) {
	deps, err := Build(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer deps.Close()

	ctx := context.Background()
	require.NoError(t, deps.Service.Ping(ctx))

	card, err := deps.Service.CreateCard(ctx, "alice", &domain.CreateCardRequest{
		Name: "Gold", TotalLimit: money(500), ClosingDay: 10, DueDay: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", card.OwnerID)
}

func TestBuild_RedisFallsBackToMemory(t *testing.T) {
	cfg := memoryConfig()
	cfg.CacheBackend = config.BackendRedis
	cfg.RedisAddr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	deps, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer deps.Close()

	_, err = deps.Service.ListCards(context.Background(), "alice")
	assert.NoError(t, err)
}

func TestBuild_PostgresUnreachable(t *testing.T) {
	cfg := memoryConfig()
	cfg.StoreBackend = config.BackendPostgres
	cfg.DatabaseURL = "postgres://ledger@127.0.0.1:1/ledger?sslmode=disable&connect_timeout=1"
	cfg.MigrateOnStart = false
	cfg.MaxRetries = 0
	cfg.InitialBackoff = time.Millisecond

	_, err := Build(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestDeps_CloseRunsInReverse(t *testing.T) {
	var order []int
	d := &Deps{logger: zap.NewNop()}
	d.onClose(func() { order = append(order, 1) })
	d.onClose(func() { order = append(order, 2) })

	d.Close()
	d.Close()

	assert.Equal(t, []int{2, 1}, order)
}
