// Command statement-job refreshes statement statuses on a schedule. With
// -once it runs a single pass and exits, for use from cron.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/boddenberg/card-ledger-go/internal/app"
	"github.com/boddenberg/card-ledger-go/internal/config"
	"github.com/boddenberg/card-ledger-go/internal/infra/observability"
	"github.com/boddenberg/card-ledger-go/internal/worker"

	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "run a single refresh pass and exit")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "read .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel).With(zap.String("component", "statement-job"))
	defer logger.Sync()

	if cfg.StoreBackend != config.BackendPostgres {
		logger.Fatal("statement-job needs a shared store, set STORE_BACKEND=postgres")
	}

	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "card-ledger-statement-job")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build dependencies", zap.Error(err))
	}
	defer deps.Close()

	job := worker.NewStatementJob(deps.Service, cfg.StatementJobInterval, logger)
	if *once {
		if _, err := job.RunOnce(ctx); err != nil {
			deps.Close()
			os.Exit(1)
		}
		return
	}

	job.Run(ctx)
	logger.Info("statement-job shutdown complete")
}
