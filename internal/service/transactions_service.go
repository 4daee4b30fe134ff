package service

import (
	"context"
	"sort"
	"time"

	"github.com/boddenberg/card-ledger-go/internal/domain"
	"github.com/boddenberg/card-ledger-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Create
// ============================================================

// CreateTransaction records a card purchase (optionally split into
// installments) or an account movement. All rows, statement totals and the
// card or account balance are written in one store transaction.
func (s *LedgerService) CreateTransaction(ctx context.Context, ownerID string, req *domain.TransactionRequest) (*domain.LedgerResult, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.CreateTransaction")
	defer span.End()
	start := time.Now()

	in, err := req.Validate()
	if err != nil {
		s.finish("create", start, err)
		return nil, err
	}

	var parts []decimal.Decimal
	if in.CardID != nil {
		if parts, err = splitPurchase(in.Amount, in.InstallmentCount); err != nil {
			s.finish("create", start, err)
			return nil, err
		}
	}

	var (
		result  *domain.LedgerResult
		created int
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		var err error
		if in.CardID != nil {
			result, created, err = s.createOnCard(ctx, tx, ownerID, in, parts)
		} else {
			result, err = s.createOnAccount(ctx, tx, ownerID, in)
		}
		return err
	})
	s.finish("create", start, err)
	if err != nil {
		span.RecordError(err)
		s.logFailure("create transaction failed", err,
			zap.String("owner_id", ownerID),
			zap.String("card_id", deref(in.CardID)),
			zap.String("account_id", deref(in.AccountID)),
			zap.String("amount", in.Amount.StringFixed(2)),
		)
		return nil, err
	}

	if len(result.Transactions) > 1 {
		s.metrics.AddInstallments(len(result.Transactions))
	}
	for i := 0; i < created; i++ {
		s.metrics.IncrStatementsCreated()
	}
	s.invalidateStatements(ownerID, deref(in.CardID))

	span.SetAttributes(
		attribute.String("owner.id", ownerID),
		attribute.Int("transactions.count", len(result.Transactions)),
	)
	s.logger.Info("transaction created",
		zap.String("owner_id", ownerID),
		zap.String("card_id", deref(in.CardID)),
		zap.String("account_id", deref(in.AccountID)),
		zap.String("amount", in.Amount.StringFixed(2)),
		zap.Int("installments", len(result.Transactions)),
		zap.Int("statements_created", created),
	)

	amount := in.Amount
	s.publish(ctx, s.ledgerEvent(domain.EventTransactionCreated, ownerID, result, &amount))
	return result, nil
}

// splitPurchase splits a card purchase and rejects splits that would leave
// an installment without a positive amount.
func splitPurchase(amount decimal.Decimal, count int) ([]decimal.Decimal, error) {
	parts, err := domain.SplitInstallments(amount, count)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if !p.IsPositive() {
			return nil, &domain.ErrValidation{
				Field:   "installmentCount",
				Message: "amount " + amount.StringFixed(2) + " is too small to split into the requested installments",
			}
		}
	}
	return parts, nil
}

func (s *LedgerService) createOnCard(ctx context.Context, tx port.LedgerTx, ownerID string, in *domain.TransactionInput, parts []decimal.Decimal) (*domain.LedgerResult, int, error) {
	card, err := tx.LockCard(ctx, ownerID, *in.CardID)
	if err != nil {
		return nil, 0, err
	}
	// The full purchase must fit the limit regardless of the installment count.
	if err := card.CheckCredit(in.Amount); err != nil {
		return nil, 0, err
	}

	base := domain.NewLedgerState([]*domain.Card{card}, nil, nil)
	now := s.now()
	count := len(parts)
	rows := make([]domain.Transaction, 0, count)
	resolved := make([]*domain.Statement, 0, count)
	effects := []domain.Effect{{CardID: card.ID, CardDelta: in.Amount.Neg()}}
	created := 0

	for i, amount := range parts {
		date := domain.AddMonthsClamped(in.CompetenceDate, i)
		st, isNew, err := tx.GetOrCreateStatement(ctx, card, domain.ResolvePeriod(date, card.ClosingDay))
		if err != nil {
			return nil, 0, err
		}
		if isNew {
			created++
		}
		resolved = append(resolved, st)

		rows = append(rows, domain.Transaction{
			ID:               s.newID(),
			OwnerID:          ownerID,
			Kind:             domain.KindExpense,
			Amount:           amount,
			Description:      in.Description,
			CompetenceDate:   date,
			Status:           domain.StatusPending,
			CategoryID:       in.CategoryID,
			CardID:           strPtr(card.ID),
			StatementID:      strPtr(st.ID),
			IsInstallment:    count > 1,
			InstallmentIndex: i + 1,
			InstallmentCount: count,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		effects = append(effects, domain.Effect{StatementID: st.ID, StatementDelta: amount})
	}

	state, err := base.WithStatements(resolved...).Apply(effects...)
	if err != nil {
		return nil, 0, err
	}
	_, statements, _, err := persist(ctx, tx, base, state)
	if err != nil {
		return nil, 0, err
	}
	for i := range rows {
		if err := tx.InsertTransaction(ctx, &rows[i]); err != nil {
			return nil, 0, err
		}
	}

	finalCard, _ := state.Card(card.ID)
	return &domain.LedgerResult{Transactions: rows, Card: finalCard, Statements: statements}, created, nil
}

func (s *LedgerService) createOnAccount(ctx context.Context, tx port.LedgerTx, ownerID string, in *domain.TransactionInput) (*domain.LedgerResult, error) {
	account, err := tx.LockAccount(ctx, ownerID, *in.AccountID)
	if err != nil {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = domain.StatusPending
	}
	now := s.now()
	row := domain.Transaction{
		ID:               s.newID(),
		OwnerID:          ownerID,
		Kind:             in.Kind,
		Amount:           in.Amount,
		Description:      in.Description,
		CompetenceDate:   in.CompetenceDate,
		Status:           status,
		CategoryID:       in.CategoryID,
		AccountID:        strPtr(account.ID),
		InstallmentIndex: 1,
		InstallmentCount: 1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := checkAccountDebit(account, &row); err != nil {
		return nil, err
	}

	base := domain.NewLedgerState(nil, nil, []*domain.Account{account})
	state, err := base.Apply(domain.EffectOf(&row))
	if err != nil {
		return nil, err
	}
	if _, _, _, err := persist(ctx, tx, base, state); err != nil {
		return nil, err
	}
	if err := tx.InsertTransaction(ctx, &row); err != nil {
		return nil, err
	}

	finalAccount, _ := state.Account(account.ID)
	return &domain.LedgerResult{Transactions: []domain.Transaction{row}, Account: finalAccount}, nil
}

// checkAccountDebit applies the overdraft rule to settled expenses.
func checkAccountDebit(account *domain.Account, row *domain.Transaction) error {
	if row.Kind != domain.KindExpense || !row.Status.Settled() {
		return nil
	}
	return account.CheckDebit(row.Amount)
}

// ============================================================
// Edit
// ============================================================

// EditTransaction replaces one row's amount, date, target, status,
// description or category. The old effect is reversed and the new one
// applied against the post-reversal balances, then both are committed
// together. Installment rows are edited one at a time and never re-split.
func (s *LedgerService) EditTransaction(ctx context.Context, ownerID, transactionID string, req *domain.TransactionRequest) (*domain.LedgerResult, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.EditTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", transactionID))
	start := time.Now()

	in, err := req.Validate()
	if err != nil {
		s.finish("edit", start, err)
		return nil, err
	}

	var (
		result  *domain.LedgerResult
		oldCard string
		created int
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		old, err := tx.LockTransaction(ctx, ownerID, transactionID)
		if err != nil {
			return err
		}
		if err := checkEditShape(old, req, in); err != nil {
			return err
		}
		oldCard = deref(old.CardID)
		result, created, err = s.applyEdit(ctx, tx, ownerID, old, in)
		return err
	})
	s.finish("edit", start, err)
	if err != nil {
		span.RecordError(err)
		s.logFailure("edit transaction failed", err,
			zap.String("owner_id", ownerID),
			zap.String("transaction_id", transactionID),
		)
		return nil, err
	}

	for i := 0; i < created; i++ {
		s.metrics.IncrStatementsCreated()
	}
	s.invalidateStatements(ownerID, oldCard, deref(in.CardID))

	s.logger.Info("transaction edited",
		zap.String("owner_id", ownerID),
		zap.String("transaction_id", transactionID),
		zap.String("amount", in.Amount.StringFixed(2)),
		zap.String("status", string(result.Transactions[0].Status)),
	)

	amount := in.Amount
	s.publish(ctx, s.ledgerEvent(domain.EventTransactionUpdated, ownerID, result, &amount))
	return result, nil
}

// checkEditShape rejects edits that would re-split a purchase or move an
// installment off its card.
func checkEditShape(old *domain.Transaction, req *domain.TransactionRequest, in *domain.TransactionInput) error {
	if old.IsInstallment {
		if in.CardID == nil {
			return &domain.ErrValidation{Field: "accountId", Message: "installment rows must stay on a card"}
		}
		if req.InstallmentCount != nil && *req.InstallmentCount != old.InstallmentCount {
			return &domain.ErrValidation{Field: "installmentCount", Message: "installments cannot be re-split; delete the rows and create the purchase again"}
		}
		return nil
	}
	if in.InstallmentCount > 1 {
		return &domain.ErrValidation{Field: "installmentCount", Message: "installments cannot be re-split; delete the row and create the purchase again"}
	}
	return nil
}

func (s *LedgerService) applyEdit(ctx context.Context, tx port.LedgerTx, ownerID string, old *domain.Transaction, in *domain.TransactionInput) (*domain.LedgerResult, int, error) {
	cards, accounts, err := lockTargets(ctx, tx, ownerID,
		[]string{deref(old.CardID), deref(in.CardID)},
		[]string{deref(old.AccountID), deref(in.AccountID)},
	)
	if err != nil {
		return nil, 0, err
	}
	var statements []*domain.Statement
	if old.StatementID != nil {
		st, err := tx.LockStatement(ctx, "", *old.StatementID)
		if err != nil {
			return nil, 0, err
		}
		statements = append(statements, st)
	}

	base := domain.NewLedgerState(cards, statements, accounts)
	state, err := base.Reverse(domain.EffectOf(old))
	if err != nil {
		return nil, 0, err
	}

	row := *old
	row.Kind = in.Kind
	row.Amount = in.Amount
	row.Description = in.Description
	row.CompetenceDate = in.CompetenceDate
	row.CategoryID = in.CategoryID
	row.UpdatedAt = s.now()
	row.Status = in.Status
	if row.Status == "" {
		row.Status = old.Status
		if old.OnCard() != (in.CardID != nil) {
			row.Status = domain.StatusPending
		}
	}

	created := 0
	if in.CardID != nil {
		card, _ := state.Card(*in.CardID)
		st, isNew, err := tx.GetOrCreateStatement(ctx, card, domain.ResolvePeriod(row.CompetenceDate, card.ClosingDay))
		if err != nil {
			return nil, 0, err
		}
		if isNew {
			created++
		}
		state = state.WithStatements(st)
		row.CardID = strPtr(card.ID)
		row.StatementID = strPtr(st.ID)
		row.AccountID = nil
		if row.Live() {
			if err := card.CheckCredit(row.Amount); err != nil {
				return nil, 0, err
			}
		}
	} else {
		account, _ := state.Account(*in.AccountID)
		row.AccountID = strPtr(account.ID)
		row.CardID = nil
		row.StatementID = nil
		row.IsInstallment = false
		row.InstallmentIndex = 1
		row.InstallmentCount = 1
		if err := checkAccountDebit(account, &row); err != nil {
			return nil, 0, err
		}
	}

	state, err = state.Apply(domain.EffectOf(&row))
	if err != nil {
		return nil, 0, err
	}
	changedCards, changedStatements, changedAccounts, err := persist(ctx, tx, base, state)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.UpdateTransaction(ctx, &row); err != nil {
		return nil, 0, err
	}

	result := &domain.LedgerResult{Transactions: []domain.Transaction{row}, Statements: changedStatements}
	result.Card, result.Account = resultTargets(state, &row, changedCards, changedAccounts)
	return result, created, nil
}

// lockTargets locks the distinct non-empty card ids, then account ids, each
// in ascending order so concurrent writers never wait on each other in a
// cycle.
func lockTargets(ctx context.Context, tx port.LedgerTx, ownerID string, cardIDs, accountIDs []string) ([]*domain.Card, []*domain.Account, error) {
	var cards []*domain.Card
	for _, id := range sortedUnique(cardIDs) {
		c, err := tx.LockCard(ctx, ownerID, id)
		if err != nil {
			return nil, nil, err
		}
		cards = append(cards, c)
	}
	var accounts []*domain.Account
	for _, id := range sortedUnique(accountIDs) {
		a, err := tx.LockAccount(ctx, ownerID, id)
		if err != nil {
			return nil, nil, err
		}
		accounts = append(accounts, a)
	}
	return cards, accounts, nil
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// resultTargets picks the card or account to report: the row's current
// target, falling back to whichever one the edit released.
func resultTargets(state domain.LedgerState, row *domain.Transaction, cards []domain.Card, accounts []domain.Account) (*domain.Card, *domain.Account) {
	var card *domain.Card
	var account *domain.Account
	if row.CardID != nil {
		card, _ = state.Card(*row.CardID)
	} else if len(cards) > 0 {
		card = &cards[0]
	}
	if row.AccountID != nil {
		account, _ = state.Account(*row.AccountID)
	} else if len(accounts) > 0 {
		account = &accounts[0]
	}
	return card, account
}

// ============================================================
// Delete
// ============================================================

// DeleteTransaction reverses a row's effect and removes it. Installment
// siblings are left untouched.
func (s *LedgerService) DeleteTransaction(ctx context.Context, ownerID, transactionID string) (*domain.LedgerResult, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.DeleteTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", transactionID))
	start := time.Now()

	var result *domain.LedgerResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		old, err := tx.LockTransaction(ctx, ownerID, transactionID)
		if err != nil {
			return err
		}
		cards, accounts, err := lockTargets(ctx, tx, ownerID,
			[]string{deref(old.CardID)}, []string{deref(old.AccountID)})
		if err != nil {
			return err
		}
		var statements []*domain.Statement
		if old.StatementID != nil {
			st, err := tx.LockStatement(ctx, "", *old.StatementID)
			if err != nil {
				return err
			}
			statements = append(statements, st)
		}

		base := domain.NewLedgerState(cards, statements, accounts)
		state, err := base.Reverse(domain.EffectOf(old))
		if err != nil {
			return err
		}
		_, changedStatements, _, err := persist(ctx, tx, base, state)
		if err != nil {
			return err
		}
		if err := tx.DeleteTransaction(ctx, old.ID); err != nil {
			return err
		}

		result = &domain.LedgerResult{Transactions: []domain.Transaction{*old}, Statements: changedStatements}
		if old.CardID != nil {
			result.Card, _ = state.Card(*old.CardID)
		}
		if old.AccountID != nil {
			result.Account, _ = state.Account(*old.AccountID)
		}
		return nil
	})
	s.finish("delete", start, err)
	if err != nil {
		span.RecordError(err)
		s.logFailure("delete transaction failed", err,
			zap.String("owner_id", ownerID),
			zap.String("transaction_id", transactionID),
		)
		return nil, err
	}

	deleted := result.Transactions[0]
	s.invalidateStatements(ownerID, deref(deleted.CardID))
	s.logger.Info("transaction deleted",
		zap.String("owner_id", ownerID),
		zap.String("transaction_id", transactionID),
		zap.String("amount", deleted.Amount.StringFixed(2)),
		zap.Bool("installment", deleted.IsInstallment),
	)

	amount := deleted.Amount
	s.publish(ctx, s.ledgerEvent(domain.EventTransactionDeleted, ownerID, result, &amount))
	return result, nil
}

// ============================================================
// Reads
// ============================================================

func (s *LedgerService) GetTransaction(ctx context.Context, ownerID, transactionID string) (*domain.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetTransaction")
	defer span.End()

	return s.store.GetTransaction(ctx, ownerID, transactionID)
}

func (s *LedgerService) ListTransactions(ctx context.Context, ownerID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListTransactions")
	defer span.End()

	return s.store.ListTransactions(ctx, ownerID, filter)
}

func (s *LedgerService) ledgerEvent(t domain.EventType, ownerID string, result *domain.LedgerResult, amount *decimal.Decimal) domain.LedgerEvent {
	event := domain.LedgerEvent{Type: t, OwnerID: ownerID, Amount: amount}
	for _, row := range result.Transactions {
		event.TransactionIDs = append(event.TransactionIDs, row.ID)
	}
	if result.Card != nil {
		event.CardID = result.Card.ID
		limit := result.Card.AvailableLimit
		event.AvailableLimit = &limit
	}
	if result.Account != nil {
		event.AccountID = result.Account.ID
	}
	return event
}
