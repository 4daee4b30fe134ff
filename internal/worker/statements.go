// Package worker runs the ledger's periodic background jobs.
package worker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("worker")

// StatusRefresher moves statements to the status they should have at now.
type StatusRefresher interface {
	RefreshStatuses(ctx context.Context, now time.Time) (int, error)
}

// StatementJob periodically refreshes statement statuses (OPEN to CLOSED
// once a cycle ends, CLOSED to OVERDUE past the due date).
type StatementJob struct {
	refresher StatusRefresher
	interval  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewStatementJob creates a job ticking every interval.
func NewStatementJob(refresher StatusRefresher, interval time.Duration, logger *zap.Logger) *StatementJob {
	return &StatementJob{
		refresher: refresher,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// RunOnce performs a single refresh pass.
func (j *StatementJob) RunOnce(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "StatementJob.RunOnce")
	defer span.End()

	start := time.Now()
	changed, err := j.refresher.RefreshStatuses(ctx, j.now())
	if err != nil {
		span.RecordError(err)
		j.logger.Error("statement refresh failed", zap.Error(err))
		return changed, err
	}
	span.SetAttributes(attribute.Int("statements.changed", changed))
	j.logger.Info("statement refresh complete",
		zap.Int("statements_changed", changed),
		zap.Duration("duration", time.Since(start)),
	)
	return changed, nil
}

// Run refreshes once on start and then on every tick until ctx is done.
// Failed passes are logged and retried on the next tick.
func (j *StatementJob) Run(ctx context.Context) {
	j.logger.Info("statement job started", zap.Duration("interval", j.interval))
	_, _ = j.RunOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("statement job stopped")
			return
		case <-ticker.C:
			_, _ = j.RunOnce(ctx)
		}
	}
}
