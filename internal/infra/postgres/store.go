package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/boddenberg/card-ledger-go/internal/domain"
	"github.com/boddenberg/card-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/card-ledger-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("postgres")

// Store implements port.LedgerStore on PostgreSQL. Every call goes through
// a bulkhead bounding concurrent database work and a circuit breaker that
// only counts infrastructure failures.
type Store struct {
	db       *sql.DB
	cb       *gobreaker.CircuitBreaker
	bulkhead *resilience.Bulkhead
	logger   *zap.Logger
}

// NewStore creates a Store. cb should treat domain.IsBusinessError as success.
func NewStore(db *sql.DB, cb *gobreaker.CircuitBreaker, bulkhead *resilience.Bulkhead, logger *zap.Logger) *Store {
	return &Store{db: db, cb: cb, bulkhead: bulkhead, logger: logger}
}

// run executes fn under the bulkhead and the breaker inside a span.
func (s *Store) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "postgres."+op)
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"))

	err := s.bulkhead.Do(ctx, func() error {
		return resilience.Execute(s.cb, func() error { return fn(ctx) })
	})
	if err != nil && !domain.IsBusinessError(err) {
		span.RecordError(err)
		s.logger.Error("postgres: operation failed",
			zap.String("operation", op),
			zap.Error(err),
		)
	}
	return err
}

// WithinTx runs fn in a database transaction, committing when it returns
// nil and rolling back otherwise.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.LedgerTx) error) error {
	return s.run(ctx, "WithinTx", func(ctx context.Context) error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer sqlTx.Rollback() //nolint:errcheck // no-op after commit

		if err := fn(ctx, &tx{tx: sqlTx}); err != nil {
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.run(ctx, "Ping", func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
}

// ============================================================
// Reads
// ============================================================

func (s *Store) GetCard(ctx context.Context, ownerID, cardID string) (*domain.Card, error) {
	var card *domain.Card
	err := s.run(ctx, "GetCard", func(ctx context.Context) error {
		var err error
		card, err = getCard(ctx, s.db, ownerID, cardID, false)
		return err
	})
	return card, err
}

func (s *Store) ListCards(ctx context.Context, ownerID string) ([]domain.Card, error) {
	out := make([]domain.Card, 0)
	err := s.run(ctx, "ListCards", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+cardColumns+` FROM cards WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
		if err != nil {
			return fmt.Errorf("query cards: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanCard(rows)
			if err != nil {
				return fmt.Errorf("scan card: %w", err)
			}
			out = append(out, *c)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	var account *domain.Account
	err := s.run(ctx, "GetAccount", func(ctx context.Context) error {
		var err error
		account, err = getAccount(ctx, s.db, ownerID, accountID, false)
		return err
	})
	return account, err
}

func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	out := make([]domain.Account, 0)
	err := s.run(ctx, "ListAccounts", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
		if err != nil {
			return fmt.Errorf("query accounts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAccount(rows)
			if err != nil {
				return fmt.Errorf("scan account: %w", err)
			}
			out = append(out, *a)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) GetStatement(ctx context.Context, ownerID, statementID string) (*domain.Statement, error) {
	var st *domain.Statement
	err := s.run(ctx, "GetStatement", func(ctx context.Context) error {
		var err error
		st, err = getStatement(ctx, s.db, ownerID, statementID, false)
		return err
	})
	return st, err
}

func (s *Store) GetStatementByPeriod(ctx context.Context, ownerID, cardID string, p domain.Period) (*domain.Statement, error) {
	var st *domain.Statement
	err := s.run(ctx, "GetStatementByPeriod", func(ctx context.Context) error {
		if _, err := getCard(ctx, s.db, ownerID, cardID, false); err != nil {
			return err
		}
		var err error
		st, err = getStatementByPeriod(ctx, s.db, cardID, p, false)
		return err
	})
	return st, err
}

func (s *Store) ListStatements(ctx context.Context, ownerID, cardID string) ([]domain.Statement, error) {
	var out []domain.Statement
	err := s.run(ctx, "ListStatements", func(ctx context.Context) error {
		if _, err := getCard(ctx, s.db, ownerID, cardID, false); err != nil {
			return err
		}
		var err error
		out, err = queryStatements(ctx, s.db,
			`SELECT `+statementColumns+` FROM statements s WHERE s.card_id = $1 ORDER BY s.reference_year, s.reference_month`,
			cardID)
		return err
	})
	return out, err
}

func (s *Store) ListUnsettledStatements(ctx context.Context) ([]domain.Statement, error) {
	var out []domain.Statement
	err := s.run(ctx, "ListUnsettledStatements", func(ctx context.Context) error {
		var err error
		out, err = queryStatements(ctx, s.db,
			`SELECT `+statementColumns+` FROM statements s WHERE s.status <> $1 `+
				`ORDER BY s.card_id, s.reference_year, s.reference_month`,
			string(domain.StatementPaid))
		return err
	})
	return out, err
}

func (s *Store) GetTransaction(ctx context.Context, ownerID, transactionID string) (*domain.Transaction, error) {
	var t *domain.Transaction
	err := s.run(ctx, "GetTransaction", func(ctx context.Context) error {
		var err error
		t, err = getTransaction(ctx, s.db, ownerID, transactionID, false)
		return err
	})
	return t, err
}

func (s *Store) ListTransactions(ctx context.Context, ownerID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0)
	err := s.run(ctx, "ListTransactions", func(ctx context.Context) error {
		query, args := transactionsQuery(ownerID, filter)
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query transactions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTransaction(rows)
			if err != nil {
				return fmt.Errorf("scan transaction: %w", err)
			}
			out = append(out, *t)
		}
		return rows.Err()
	})
	return out, err
}
