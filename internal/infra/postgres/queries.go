package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/card-ledger-go/internal/domain"
)

// querier is satisfied by *sql.DB and *sql.Tx so reads and row locks share
// one implementation.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

const (
	cardColumns = `id, owner_id, name, total_limit, available_limit, closing_day, due_day, created_at, updated_at`

	accountColumns = `id, owner_id, name, balance, available_balance, allow_overdraft, overdraft_limit, created_at, updated_at`

	statementColumns = `s.id, s.card_id, s.reference_month, s.reference_year, s.closing_date, s.due_date, ` +
		`s.total_amount, s.paid_amount, s.status, s.created_at, s.updated_at`

	transactionColumns = `id, owner_id, kind, amount, description, competence_date, status, category_id, ` +
		`account_id, card_id, statement_id, is_installment, installment_index, installment_count, created_at, updated_at`
)

// An empty owner ($2) matches every row.
const (
	selectCard = `SELECT ` + cardColumns + ` FROM cards WHERE id = $1 AND ($2::text = '' OR owner_id = $2)`

	selectAccount = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND ($2::text = '' OR owner_id = $2)`

	selectStatement = `SELECT ` + statementColumns + ` FROM statements s JOIN cards c ON c.id = s.card_id ` +
		`WHERE s.id = $1 AND ($2::text = '' OR c.owner_id = $2)`

	selectTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 AND ($2::text = '' OR owner_id = $2)`

	selectStatementByPeriod = `SELECT ` + statementColumns + ` FROM statements s ` +
		`WHERE s.card_id = $1 AND s.reference_month = $2 AND s.reference_year = $3`
)

func scanCard(row scanner) (*domain.Card, error) {
	var c domain.Card
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.TotalLimit, &c.AvailableLimit,
		&c.ClosingDay, &c.DueDay, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanAccount(row scanner) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Balance, &a.AvailableBalance,
		&a.AllowOverdraft, &a.OverdraftLimit, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanStatement(row scanner) (*domain.Statement, error) {
	var st domain.Statement
	err := row.Scan(&st.ID, &st.CardID, &st.ReferenceMonth, &st.ReferenceYear, &st.ClosingDate, &st.DueDate,
		&st.TotalAmount, &st.PaidAmount, &st.Status, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.ClosingDate = domain.DateOnly(st.ClosingDate)
	st.DueDate = domain.DateOnly(st.DueDate)
	return &st, nil
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var (
		t                                  domain.Transaction
		category, account, card, statement sql.NullString
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Kind, &t.Amount, &t.Description, &t.CompetenceDate, &t.Status,
		&category, &account, &card, &statement,
		&t.IsInstallment, &t.InstallmentIndex, &t.InstallmentCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.CompetenceDate = domain.DateOnly(t.CompetenceDate)
	t.CategoryID = nullString(category)
	t.AccountID = nullString(account)
	t.CardID = nullString(card)
	t.StatementID = nullString(statement)
	return &t, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// ============================================================
// Single-row lookups
// ============================================================

func lockClause(lock bool, of string) string {
	if !lock {
		return ""
	}
	if of != "" {
		return " FOR UPDATE OF " + of
	}
	return " FOR UPDATE"
}

// notFound maps sql.ErrNoRows to domain.ErrNotFound and wraps anything else.
func notFound(err error, resource, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return fmt.Errorf("query %s %s: %w", resource, id, err)
}

func getCard(ctx context.Context, q querier, ownerID, cardID string, lock bool) (*domain.Card, error) {
	c, err := scanCard(q.QueryRowContext(ctx, selectCard+lockClause(lock, ""), cardID, ownerID))
	if err != nil {
		return nil, notFound(err, "card", cardID)
	}
	return c, nil
}

func getAccount(ctx context.Context, q querier, ownerID, accountID string, lock bool) (*domain.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx, selectAccount+lockClause(lock, ""), accountID, ownerID))
	if err != nil {
		return nil, notFound(err, "account", accountID)
	}
	return a, nil
}

func getStatement(ctx context.Context, q querier, ownerID, statementID string, lock bool) (*domain.Statement, error) {
	st, err := scanStatement(q.QueryRowContext(ctx, selectStatement+lockClause(lock, "s"), statementID, ownerID))
	if err != nil {
		return nil, notFound(err, "statement", statementID)
	}
	return st, nil
}

func getTransaction(ctx context.Context, q querier, ownerID, transactionID string, lock bool) (*domain.Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx, selectTransaction+lockClause(lock, ""), transactionID, ownerID))
	if err != nil {
		return nil, notFound(err, "transaction", transactionID)
	}
	return t, nil
}

func getStatementByPeriod(ctx context.Context, q querier, cardID string, p domain.Period, lock bool) (*domain.Statement, error) {
	st, err := scanStatement(q.QueryRowContext(ctx, selectStatementByPeriod+lockClause(lock, ""), cardID, p.Month, p.Year))
	if err != nil {
		return nil, notFound(err, "statement", cardID+"/"+p.String())
	}
	return st, nil
}

// ============================================================
// Listings
// ============================================================

func queryStatements(ctx context.Context, q querier, query string, args ...any) ([]domain.Statement, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query statements: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Statement, 0)
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan statement: %w", err)
		}
		out = append(out, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statements: %w", err)
	}
	return out, nil
}

// transactionsQuery builds the listing query for filter. Rows come back in
// competence date order, installments of the same date by index.
func transactionsQuery(ownerID string, filter domain.TransactionFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("owner_id", ownerID)
	add("card_id", filter.CardID)
	add("account_id", filter.AccountID)
	add("statement_id", filter.StatementID)

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY competence_date, installment_index, id`
	return query, args
}
