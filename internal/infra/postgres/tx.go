package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/card-ledger-go/internal/domain"

	"github.com/google/uuid"
)

// tx implements port.LedgerTx over one *sql.Tx.
type tx struct {
	tx *sql.Tx
}

func (t *tx) LockCard(ctx context.Context, ownerID, cardID string) (*domain.Card, error) {
	return getCard(ctx, t.tx, ownerID, cardID, true)
}

func (t *tx) LockAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	return getAccount(ctx, t.tx, ownerID, accountID, true)
}

func (t *tx) LockStatement(ctx context.Context, ownerID, statementID string) (*domain.Statement, error) {
	return getStatement(ctx, t.tx, ownerID, statementID, true)
}

func (t *tx) LockTransaction(ctx context.Context, ownerID, transactionID string) (*domain.Transaction, error) {
	return getTransaction(ctx, t.tx, ownerID, transactionID, true)
}

const insertStatementIfAbsent = `INSERT INTO statements
	(id, card_id, reference_month, reference_year, closing_date, due_date, total_amount, paid_amount, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	ON CONFLICT (card_id, reference_month, reference_year) DO NOTHING
	RETURNING id`

// GetOrCreateStatement inserts the statement unless the unique
// (card_id, reference_month, reference_year) key already exists, then locks
// whichever row won. A concurrent inserter blocks on the key until the first
// transaction ends, so both callers converge on one row.
func (t *tx) GetOrCreateStatement(ctx context.Context, card *domain.Card, p domain.Period) (*domain.Statement, bool, error) {
	st := domain.NewStatement(uuid.NewString(), card, p, time.Now().UTC())

	var id string
	err := t.tx.QueryRowContext(ctx, insertStatementIfAbsent,
		st.ID, st.CardID, st.ReferenceMonth, st.ReferenceYear, st.ClosingDate, st.DueDate,
		st.TotalAmount, st.PaidAmount, string(st.Status), st.CreatedAt,
	).Scan(&id)
	switch {
	case err == nil:
		return st, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("insert statement %s/%s: %w", card.ID, p, err)
	}

	existing, err := getStatementByPeriod(ctx, t.tx, card.ID, p, true)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ============================================================
// Writes
// ============================================================

// execOne runs a single-row write and maps "no row touched" to NotFound.
func (t *tx) execOne(ctx context.Context, resource, id, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("write %s %s: %w", resource, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write %s %s: %w", resource, id, err)
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return nil
}

func (t *tx) InsertCard(ctx context.Context, c *domain.Card) error {
	return t.execOne(ctx, "card", c.ID,
		`INSERT INTO cards (`+cardColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.OwnerID, c.Name, c.TotalLimit, c.AvailableLimit, c.ClosingDay, c.DueDay, c.CreatedAt, c.UpdatedAt)
}

func (t *tx) UpdateCardLimits(ctx context.Context, c *domain.Card) error {
	return t.execOne(ctx, "card", c.ID,
		`UPDATE cards SET total_limit = $1, available_limit = $2, updated_at = now() WHERE id = $3`,
		c.TotalLimit, c.AvailableLimit, c.ID)
}

func (t *tx) InsertAccount(ctx context.Context, a *domain.Account) error {
	return t.execOne(ctx, "account", a.ID,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.OwnerID, a.Name, a.Balance, a.AvailableBalance, a.AllowOverdraft, a.OverdraftLimit, a.CreatedAt, a.UpdatedAt)
}

func (t *tx) UpdateAccountBalance(ctx context.Context, a *domain.Account) error {
	return t.execOne(ctx, "account", a.ID,
		`UPDATE accounts SET balance = $1, available_balance = $2, updated_at = now() WHERE id = $3`,
		a.Balance, a.AvailableBalance, a.ID)
}

func (t *tx) UpdateStatementTotal(ctx context.Context, st *domain.Statement) error {
	return t.execOne(ctx, "statement", st.ID,
		`UPDATE statements SET total_amount = $1, updated_at = now() WHERE id = $2`,
		st.TotalAmount, st.ID)
}

func (t *tx) UpdateStatementPayment(ctx context.Context, st *domain.Statement) error {
	return t.execOne(ctx, "statement", st.ID,
		`UPDATE statements SET paid_amount = $1, status = $2, updated_at = now() WHERE id = $3`,
		st.PaidAmount, string(st.Status), st.ID)
}

func (t *tx) UpdateStatementStatus(ctx context.Context, st *domain.Statement) error {
	return t.execOne(ctx, "statement", st.ID,
		`UPDATE statements SET status = $1, updated_at = now() WHERE id = $2`,
		string(st.Status), st.ID)
}

func (t *tx) InsertTransaction(ctx context.Context, row *domain.Transaction) error {
	return t.execOne(ctx, "transaction", row.ID,
		`INSERT INTO transactions (`+transactionColumns+`) `+
			`VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		transactionArgs(row)...)
}

func (t *tx) UpdateTransaction(ctx context.Context, row *domain.Transaction) error {
	return t.execOne(ctx, "transaction", row.ID,
		`UPDATE transactions SET kind = $1, amount = $2, description = $3, competence_date = $4, status = $5, `+
			`category_id = $6, account_id = $7, card_id = $8, statement_id = $9, is_installment = $10, `+
			`installment_index = $11, installment_count = $12, updated_at = $13 WHERE id = $14`,
		string(row.Kind), row.Amount, row.Description, row.CompetenceDate, string(row.Status),
		row.CategoryID, row.AccountID, row.CardID, row.StatementID, row.IsInstallment,
		row.InstallmentIndex, row.InstallmentCount, row.UpdatedAt, row.ID)
}

func (t *tx) DeleteTransaction(ctx context.Context, transactionID string) error {
	return t.execOne(ctx, "transaction", transactionID,
		`DELETE FROM transactions WHERE id = $1`, transactionID)
}

// transactionArgs lists row in transactionColumns order.
func transactionArgs(row *domain.Transaction) []any {
	return []any{
		row.ID, row.OwnerID, string(row.Kind), row.Amount, row.Description, row.CompetenceDate,
		string(row.Status), row.CategoryID, row.AccountID, row.CardID, row.StatementID,
		row.IsInstallment, row.InstallmentIndex, row.InstallmentCount, row.CreatedAt, row.UpdatedAt,
	}
}
