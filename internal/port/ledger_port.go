package port

import (
	"context"

	"github.com/boddenberg/card-ledger-go/internal/domain"
)

// LedgerStore persists cards, statements, accounts and transactions.
//
// Every read and lock takes the caller's ownerID and answers
// domain.ErrNotFound for rows that belong to someone else. An empty ownerID
// skips the ownership filter; only internal jobs pass one.
type LedgerStore interface {
	// WithinTx runs fn inside one database transaction. Writes made through
	// the LedgerTx commit together when fn returns nil and are discarded
	// otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error

	GetCard(ctx context.Context, ownerID, cardID string) (*domain.Card, error)
	ListCards(ctx context.Context, ownerID string) ([]domain.Card, error)

	GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error)

	GetStatement(ctx context.Context, ownerID, statementID string) (*domain.Statement, error)
	GetStatementByPeriod(ctx context.Context, ownerID, cardID string, p domain.Period) (*domain.Statement, error)
	ListStatements(ctx context.Context, ownerID, cardID string) ([]domain.Statement, error)
	// ListUnsettledStatements returns every statement that is not PAID,
	// across all owners, for the status job.
	ListUnsettledStatements(ctx context.Context) ([]domain.Statement, error)

	GetTransaction(ctx context.Context, ownerID, transactionID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, ownerID string, filter domain.TransactionFilter) ([]domain.Transaction, error)

	Ping(ctx context.Context) error
}

// LedgerTx is the unit of work handed to LedgerStore.WithinTx.
// Lock* methods take a row lock held until the transaction ends; callers
// lock cards before accounts, each group in ascending id order.
type LedgerTx interface {
	LockCard(ctx context.Context, ownerID, cardID string) (*domain.Card, error)
	LockAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error)
	LockStatement(ctx context.Context, ownerID, statementID string) (*domain.Statement, error)
	LockTransaction(ctx context.Context, ownerID, transactionID string) (*domain.Transaction, error)

	// GetOrCreateStatement returns the statement of card for period p,
	// inserting an OPEN one when none exists. Concurrent calls for the same
	// key converge on a single row. created reports whether this call
	// inserted it.
	GetOrCreateStatement(ctx context.Context, card *domain.Card, p domain.Period) (st *domain.Statement, created bool, err error)

	InsertCard(ctx context.Context, card *domain.Card) error
	UpdateCardLimits(ctx context.Context, card *domain.Card) error

	InsertAccount(ctx context.Context, account *domain.Account) error
	UpdateAccountBalance(ctx context.Context, account *domain.Account) error

	UpdateStatementTotal(ctx context.Context, statement *domain.Statement) error
	UpdateStatementPayment(ctx context.Context, statement *domain.Statement) error
	UpdateStatementStatus(ctx context.Context, statement *domain.Statement) error

	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	UpdateTransaction(ctx context.Context, t *domain.Transaction) error
	DeleteTransaction(ctx context.Context, transactionID string) error
}
