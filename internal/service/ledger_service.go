// Package service provides the business logic layer (use cases).
// LedgerService owns every write to cards, statements, accounts and
// transactions; each write runs in one store transaction so statement
// totals and available limits never drift from the live transaction set.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/card-ledger-go/internal/domain"
	"github.com/boddenberg/card-ledger-go/internal/infra/observability"
	"github.com/boddenberg/card-ledger-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var ledgerTracer = otel.Tracer("service/ledger")

// LedgerService orchestrates all ledger operations over a LedgerStore.
type LedgerService struct {
	store   port.LedgerStore
	cache   port.Cache[[]domain.Statement]
	events  port.EventPublisher
	metrics *observability.Metrics
	logger  *zap.Logger

	now   func() time.Time
	newID func() string
}

// Option customizes a LedgerService.
type Option func(*LedgerService)

// WithClock overrides the wall clock (tests, the statement job).
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

// WithIDGenerator overrides row id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *LedgerService) { s.newID = newID }
}

// NewLedgerService creates a new ledger service. cache and events may be nil.
func NewLedgerService(
	store port.LedgerStore,
	cache port.Cache[[]domain.Statement],
	events port.EventPublisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *LedgerService {
	s := &LedgerService{
		store:   store,
		cache:   cache,
		events:  events,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the store for /readyz.
func (s *LedgerService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ============================================================
// Shared helpers
// ============================================================

// persist writes every row of next whose monetary fields differ from base.
func persist(ctx context.Context, tx port.LedgerTx, base, next domain.LedgerState) (cards []domain.Card, statements []domain.Statement, accounts []domain.Account, err error) {
	cards, statements, accounts = next.Changes(base)
	for i := range cards {
		if err := tx.UpdateCardLimits(ctx, &cards[i]); err != nil {
			return nil, nil, nil, err
		}
	}
	for i := range statements {
		if err := tx.UpdateStatementTotal(ctx, &statements[i]); err != nil {
			return nil, nil, nil, err
		}
	}
	for i := range accounts {
		if err := tx.UpdateAccountBalance(ctx, &accounts[i]); err != nil {
			return nil, nil, nil, err
		}
	}
	return cards, statements, accounts, nil
}

// finish records the outcome of a ledger write.
func (s *LedgerService) finish(operation string, start time.Time, err error) {
	s.metrics.RecordRequestDuration(operation, time.Since(start))
	switch {
	case err == nil:
		s.metrics.IncrLedgerOp(operation, "success")
	case domain.IsBusinessError(err):
		s.metrics.IncrLedgerOp(operation, "rejected")
		s.metrics.IncrRejection(rejectionReason(err))
	default:
		s.metrics.IncrLedgerOp(operation, "error")
		s.metrics.IncrExternalError("postgres")
	}
}

func rejectionReason(err error) string {
	var (
		credit     *domain.ErrInsufficientCredit
		funds      *domain.ErrInsufficientFunds
		notFound   *domain.ErrNotFound
		validation *domain.ErrValidation
	)
	switch {
	case errors.As(err, &credit):
		return "insufficient_credit"
	case errors.As(err, &funds):
		return "insufficient_funds"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &validation):
		return "validation"
	default:
		return "conflict"
	}
}

// logFailure logs infrastructure failures at Error and rejections at Info.
func (s *LedgerService) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if domain.IsBusinessError(err) {
		s.logger.Info(msg, fields...)
		return
	}
	s.logger.Error(msg, fields...)
}

// publish emits an event after commit. Failures are logged and counted only.
func (s *LedgerService) publish(ctx context.Context, event domain.LedgerEvent) {
	if s.events == nil {
		return
	}
	event.OccurredAt = s.now()
	if err := s.events.Publish(ctx, event); err != nil {
		s.metrics.IncrEventFailure(string(event.Type))
		s.logger.Warn("failed to publish ledger event",
			zap.String("type", string(event.Type)),
			zap.String("owner_id", event.OwnerID),
			zap.Error(err),
		)
	}
}

func statementsCacheKey(ownerID, cardID string) string {
	return "statements:" + ownerID + ":" + cardID
}

func (s *LedgerService) invalidateStatements(ownerID string, cardIDs ...string) {
	if s.cache == nil {
		return
	}
	for _, id := range cardIDs {
		if id != "" {
			s.cache.Delete(statementsCacheKey(ownerID, id))
		}
	}
}

func strPtr(v string) *string { return &v }

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
