package service

import (
	"context"
	"strings"

	"github.com/boddenberg/card-ledger-go/internal/domain"
	"github.com/boddenberg/card-ledger-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Accounts
// ============================================================

func (s *LedgerService) CreateAccount(ctx context.Context, ownerID string, req *domain.CreateAccountRequest) (*domain.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.CreateAccount")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}
	overdraft := domain.Round2(req.OverdraftLimit)
	if overdraft.IsNegative() {
		return nil, &domain.ErrValidation{Field: "overdraftLimit", Message: "must not be negative"}
	}
	if !req.AllowOverdraft {
		overdraft = decimal.Zero
	}
	balance := domain.Round2(req.InitialBalance)
	if balance.LessThan(overdraft.Neg()) {
		return nil, &domain.ErrValidation{Field: "initialBalance", Message: "below the overdraft floor"}
	}

	now := s.now()
	account := &domain.Account{
		ID:               s.newID(),
		OwnerID:          ownerID,
		Name:             name,
		Balance:          balance,
		AvailableBalance: balance,
		AllowOverdraft:   req.AllowOverdraft,
		OverdraftLimit:   overdraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		return tx.InsertAccount(ctx, account)
	})
	if err != nil {
		s.logger.Error("failed to create account", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("account created",
		zap.String("owner_id", ownerID),
		zap.String("account_id", account.ID),
		zap.Bool("allow_overdraft", account.AllowOverdraft),
	)
	return account, nil
}

func (s *LedgerService) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListAccounts")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))

	return s.store.ListAccounts(ctx, ownerID)
}

func (s *LedgerService) GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetAccount")
	defer span.End()

	return s.store.GetAccount(ctx, ownerID, accountID)
}
