package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/card-ledger-go/internal/domain"
	"github.com/boddenberg/card-ledger-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Statements
// ============================================================

// ListStatements returns the card's statements in period order, served from
// the cache when possible. Ledger writes invalidate the card's entry.
func (s *LedgerService) ListStatements(ctx context.Context, ownerID, cardID string) ([]domain.Statement, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListStatements")
	defer span.End()

	key := statementsCacheKey(ownerID, cardID)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			s.metrics.IncrCacheHit("statements")
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
		s.metrics.IncrCacheMiss("statements")
	}

	statements, err := s.store.ListStatements(ctx, ownerID, cardID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, statements)
	}
	return statements, nil
}

// GetStatement returns the statement of a card for year/month together with
// its transactions.
func (s *LedgerService) GetStatement(ctx context.Context, ownerID, cardID string, year, month int) (*domain.StatementDetail, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetStatement")
	defer span.End()

	if month < 1 || month > 12 {
		return nil, &domain.ErrValidation{Field: "month", Message: "must be between 1 and 12"}
	}
	if year < 1 {
		return nil, &domain.ErrValidation{Field: "year", Message: "must be positive"}
	}

	st, err := s.store.GetStatementByPeriod(ctx, ownerID, cardID, domain.Period{Month: month, Year: year})
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, ownerID, domain.TransactionFilter{StatementID: st.ID})
	if err != nil {
		return nil, err
	}
	return &domain.StatementDetail{Statement: st, Transactions: txs}, nil
}

// PayStatement registers a payment against a closed statement. Payments do
// not restore available limit; only removing or cancelling transactions
// does.
func (s *LedgerService) PayStatement(ctx context.Context, ownerID, statementID string, req *domain.StatementPaymentRequest) (*domain.Statement, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.PayStatement")
	defer span.End()
	span.SetAttributes(attribute.String("statement.id", statementID))
	start := time.Now()

	amount := domain.Round2(req.Amount)
	if !amount.IsPositive() {
		err := &domain.ErrValidation{Field: "amount", Message: "must be greater than zero"}
		s.finish("payment", start, err)
		return nil, err
	}

	current, err := s.store.GetStatement(ctx, ownerID, statementID)
	if err != nil {
		s.finish("payment", start, err)
		return nil, err
	}
	card, err := s.store.GetCard(ctx, ownerID, current.CardID)
	if err != nil {
		s.finish("payment", start, err)
		return nil, err
	}

	var paid *domain.Statement
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		st, err := tx.LockStatement(ctx, ownerID, statementID)
		if err != nil {
			return err
		}
		now := s.now()
		if st.NextStatus(now, card.ClosingDay) == domain.StatementOpen {
			return &domain.ErrConflict{Message: "statement " + st.Period().String() + " is still open"}
		}
		if amount.GreaterThan(st.Outstanding()) {
			return &domain.ErrConflict{Message: fmt.Sprintf(
				"payment %s exceeds the outstanding amount %s",
				amount.StringFixed(2), st.Outstanding().StringFixed(2))}
		}
		st.PaidAmount = domain.Round2(st.PaidAmount.Add(amount))
		st.Status = st.NextStatus(now, card.ClosingDay)
		st.UpdatedAt = now
		if err := tx.UpdateStatementPayment(ctx, st); err != nil {
			return err
		}
		paid = st
		return nil
	})
	s.finish("payment", start, err)
	if err != nil {
		span.RecordError(err)
		s.logFailure("statement payment failed", err,
			zap.String("owner_id", ownerID),
			zap.String("statement_id", statementID),
			zap.String("amount", amount.StringFixed(2)),
		)
		return nil, err
	}

	s.invalidateStatements(ownerID, paid.CardID)
	s.logger.Info("statement payment registered",
		zap.String("owner_id", ownerID),
		zap.String("statement_id", statementID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("status", string(paid.Status)),
	)
	s.publish(ctx, domain.LedgerEvent{
		Type:        domain.EventStatementPaid,
		OwnerID:     ownerID,
		CardID:      paid.CardID,
		StatementID: paid.ID,
		Amount:      &amount,
		Status:      string(paid.Status),
	})
	return paid, nil
}

// RefreshStatuses moves every unpaid statement to the status it should have
// at now (OPEN, CLOSED, PAID or OVERDUE) and returns how many changed.
// A failure on one statement does not stop the others.
func (s *LedgerService) RefreshStatuses(ctx context.Context, now time.Time) (int, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.RefreshStatuses")
	defer span.End()

	statements, err := s.store.ListUnsettledStatements(ctx)
	if err != nil {
		return 0, err
	}

	cards := make(map[string]*domain.Card)
	changed := 0
	var errs []error
	for i := range statements {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		st := &statements[i]
		card, ok := cards[st.CardID]
		if !ok {
			card, err = s.store.GetCard(ctx, "", st.CardID)
			if err != nil {
				errs = append(errs, fmt.Errorf("statement %s: %w", st.ID, err))
				continue
			}
			cards[st.CardID] = card
		}

		var (
			from domain.StatementStatus
			to   domain.StatementStatus
		)
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LedgerTx) error {
			locked, err := tx.LockStatement(ctx, "", st.ID)
			if err != nil {
				return err
			}
			from = locked.Status
			to = locked.NextStatus(now, card.ClosingDay)
			if from == to {
				return nil
			}
			locked.Status = to
			locked.UpdatedAt = now
			return tx.UpdateStatementStatus(ctx, locked)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("statement %s: %w", st.ID, err))
			continue
		}
		if from == to {
			continue
		}

		changed++
		s.metrics.IncrStatementTransition(string(to))
		s.invalidateStatements(card.OwnerID, card.ID)
		s.logger.Info("statement status changed",
			zap.String("statement_id", st.ID),
			zap.String("card_id", card.ID),
			zap.String("period", st.Period().String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		s.publish(ctx, domain.LedgerEvent{
			Type:        domain.EventStatementStatusChanged,
			OwnerID:     card.OwnerID,
			CardID:      card.ID,
			StatementID: st.ID,
			Status:      string(to),
		})
	}

	span.SetAttributes(attribute.Int("statements.changed", changed))
	return changed, errors.Join(errs...)
}
