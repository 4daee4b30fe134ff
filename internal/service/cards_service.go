package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/card-ledger-go/internal/domain"
	"github.com/boddenberg/card-ledger-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ============================================================
// Credit Cards
// ============================================================

func (s *LedgerService) CreateCard(ctx context.Context, ownerID string, req *domain.CreateCardRequest) (*domain.Card, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.CreateCard")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}
	limit := domain.Round2(req.TotalLimit)
	if !limit.IsPositive() {
		return nil, &domain.ErrValidation{Field: "totalLimit", Message: "must be greater than zero"}
	}
	if req.ClosingDay < 1 || req.ClosingDay > 31 {
		return nil, &domain.ErrValidation{Field: "closingDay", Message: "must be between 1 and 31"}
	}
	if req.DueDay < 1 || req.DueDay > 31 {
		return nil, &domain.ErrValidation{Field: "dueDay", Message: "must be between 1 and 31"}
	}

	now := s.now()
	card := &domain.Card{
		ID:             s.newID(),
		OwnerID:        ownerID,
		Name:           name,
		TotalLimit:     limit,
		AvailableLimit: limit,
		ClosingDay:     req.ClosingDay,
		DueDay:         req.DueDay,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		return tx.InsertCard(ctx, card)
	})
	if err != nil {
		s.logger.Error("failed to create card", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("card created",
		zap.String("owner_id", ownerID),
		zap.String("card_id", card.ID),
		zap.String("total_limit", limit.StringFixed(2)),
		zap.Int("closing_day", card.ClosingDay),
		zap.Int("due_day", card.DueDay),
	)
	return card, nil
}

func (s *LedgerService) ListCards(ctx context.Context, ownerID string) ([]domain.Card, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListCards")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))

	return s.store.ListCards(ctx, ownerID)
}

func (s *LedgerService) GetCard(ctx context.Context, ownerID, cardID string) (*domain.Card, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetCard")
	defer span.End()

	return s.store.GetCard(ctx, ownerID, cardID)
}

// UpdateCardLimit changes the total limit and shifts the available limit by
// the same delta, so used credit is preserved. Lowering the limit below
// what is already used is a conflict.
func (s *LedgerService) UpdateCardLimit(ctx context.Context, ownerID, cardID string, req *domain.UpdateCardLimitRequest) (*domain.Card, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.UpdateCardLimit")
	defer span.End()
	start := time.Now()

	newTotal := domain.Round2(req.TotalLimit)
	if !newTotal.IsPositive() {
		err := &domain.ErrValidation{Field: "totalLimit", Message: "must be greater than zero"}
		s.finish("limit", start, err)
		return nil, err
	}

	var card *domain.Card
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		locked, err := tx.LockCard(ctx, ownerID, cardID)
		if err != nil {
			return err
		}
		available := locked.AvailableLimit.Add(newTotal.Sub(locked.TotalLimit))
		if available.IsNegative() {
			return &domain.ErrConflict{Message: fmt.Sprintf(
				"new limit %s is below the used limit %s",
				newTotal.StringFixed(2), locked.UsedLimit().StringFixed(2))}
		}
		locked.TotalLimit = newTotal
		locked.AvailableLimit = domain.Round2(available)
		locked.UpdatedAt = s.now()
		if err := tx.UpdateCardLimits(ctx, locked); err != nil {
			return err
		}
		card = locked
		return nil
	})
	s.finish("limit", start, err)
	if err != nil {
		s.logFailure("update card limit failed", err, zap.String("owner_id", ownerID), zap.String("card_id", cardID))
		return nil, err
	}

	s.logger.Info("card limit updated",
		zap.String("owner_id", ownerID),
		zap.String("card_id", cardID),
		zap.String("total_limit", card.TotalLimit.StringFixed(2)),
		zap.String("available_limit", card.AvailableLimit.StringFixed(2)),
	)
	return card, nil
}

// GetCardSummary loads the card and its statements concurrently.
func (s *LedgerService) GetCardSummary(ctx context.Context, ownerID, cardID string) (*domain.CardSummary, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetCardSummary")
	defer span.End()

	var (
		card       *domain.Card
		statements []domain.Statement
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		card, err = s.store.GetCard(gctx, ownerID, cardID)
		return err
	})
	g.Go(func() error {
		var err error
		statements, err = s.ListStatements(gctx, ownerID, cardID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	current := domain.ResolvePeriod(s.now(), card.ClosingDay)
	summary := &domain.CardSummary{
		Card:        card,
		UsedLimit:   card.UsedLimit(),
		Statements:  statements,
		Outstanding: decimal.Zero,
	}
	for i := range statements {
		st := &statements[i]
		if st.Period() == current {
			summary.Current = st
		}
		if st.Status != domain.StatementPaid {
			summary.Outstanding = summary.Outstanding.Add(st.Outstanding())
		}
	}
	return summary, nil
}

// ReconcileCard recomputes the card's available limit and statement totals
// from its live transactions and compares them with the stored values.
func (s *LedgerService) ReconcileCard(ctx context.Context, ownerID, cardID string) (*domain.Reconciliation, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ReconcileCard")
	defer span.End()

	var (
		card       *domain.Card
		statements []domain.Statement
		txs        []domain.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		card, err = s.store.GetCard(gctx, ownerID, cardID)
		return err
	})
	g.Go(func() error {
		var err error
		statements, err = s.store.ListStatements(gctx, ownerID, cardID)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = s.store.ListTransactions(gctx, ownerID, domain.TransactionFilter{CardID: cardID})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := domain.Reconcile(card, statements, txs)
	span.SetAttributes(attribute.Bool("ledger.consistent", r.Consistent))
	if !r.Consistent {
		s.logger.Warn("card ledger drift detected",
			zap.String("owner_id", ownerID),
			zap.String("card_id", cardID),
			zap.String("cached_available", r.CachedAvailable.StringFixed(2)),
			zap.String("expected_available", r.ExpectedAvailable.StringFixed(2)),
			zap.Int("statement_drifts", len(r.StatementDrifts)),
		)
	}
	return &r, nil
}
