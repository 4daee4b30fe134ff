// Package memory provides an in-process LedgerStore. It backs local
// development and the service tests; production runs on postgres.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/boddenberg/card-ledger-go/internal/domain"
	"github.com/boddenberg/card-ledger-go/internal/port"
)

type statementKey struct {
	cardID string
	period domain.Period
}

type data struct {
	cards        map[string]domain.Card
	accounts     map[string]domain.Account
	statements   map[string]domain.Statement
	statementIDs map[statementKey]string
	transactions map[string]domain.Transaction
}

func newData() *data {
	return &data{
		cards:        make(map[string]domain.Card),
		accounts:     make(map[string]domain.Account),
		statements:   make(map[string]domain.Statement),
		statementIDs: make(map[statementKey]string),
		transactions: make(map[string]domain.Transaction),
	}
}

func (d *data) clone() *data {
	out := newData()
	for k, v := range d.cards {
		out.cards[k] = v
	}
	for k, v := range d.accounts {
		out.accounts[k] = v
	}
	for k, v := range d.statements {
		out.statements[k] = v
	}
	for k, v := range d.statementIDs {
		out.statementIDs[k] = v
	}
	for k, v := range d.transactions {
		out.transactions[k] = v
	}
	return out
}

// Store is a thread-safe in-memory LedgerStore. WithinTx holds the write
// lock for the whole unit of work and swaps in the staged copy only when
// fn succeeds, so a failed operation leaves no trace.
type Store struct {
	mu   sync.RWMutex
	data *data
}

var _ port.LedgerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{data: newData()}
}

// WithinTx implements port.LedgerStore.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &tx{data: s.data.clone()}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	s.data = staged.data
	return nil
}

// Ping implements port.LedgerStore.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// ============================================================
// Reads
// ============================================================

func (s *Store) GetCard(_ context.Context, ownerID, cardID string) (*domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.card(ownerID, cardID)
}

func (s *Store) ListCards(_ context.Context, ownerID string) ([]domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Card, 0)
	for _, c := range s.data.cards {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) || (out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID) })
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, ownerID, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.account(ownerID, accountID)
}

func (s *Store) ListAccounts(_ context.Context, ownerID string) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Account, 0)
	for _, a := range s.data.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) || (out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID) })
	return out, nil
}

func (s *Store) GetStatement(_ context.Context, ownerID, statementID string) (*domain.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.statement(ownerID, statementID)
}

func (s *Store) GetStatementByPeriod(_ context.Context, ownerID, cardID string, p domain.Period) (*domain.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.data.card(ownerID, cardID); err != nil {
		return nil, err
	}
	id, ok := s.data.statementIDs[statementKey{cardID: cardID, period: p}]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "statement", ID: cardID + "/" + p.String()}
	}
	st := s.data.statements[id]
	return &st, nil
}

func (s *Store) ListStatements(_ context.Context, ownerID, cardID string) ([]domain.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.data.card(ownerID, cardID); err != nil {
		return nil, err
	}
	out := make([]domain.Statement, 0)
	for _, st := range s.data.statements {
		if st.CardID == cardID {
			out = append(out, st)
		}
	}
	sortStatements(out)
	return out, nil
}

func (s *Store) ListUnsettledStatements(_ context.Context) ([]domain.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Statement, 0)
	for _, st := range s.data.statements {
		if st.Status != domain.StatementPaid {
			out = append(out, st)
		}
	}
	sortStatements(out)
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, ownerID, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.transaction(ownerID, transactionID)
}

func (s *Store) ListTransactions(_ context.Context, ownerID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0)
	for _, t := range s.data.transactions {
		if ownerID != "" && t.OwnerID != ownerID {
			continue
		}
		if filter.CardID != "" && (t.CardID == nil || *t.CardID != filter.CardID) {
			continue
		}
		if filter.AccountID != "" && (t.AccountID == nil || *t.AccountID != filter.AccountID) {
			continue
		}
		if filter.StatementID != "" && (t.StatementID == nil || *t.StatementID != filter.StatementID) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompetenceDate.Equal(out[j].CompetenceDate) {
			return out[i].CompetenceDate.Before(out[j].CompetenceDate)
		}
		if out[i].InstallmentIndex != out[j].InstallmentIndex {
			return out[i].InstallmentIndex < out[j].InstallmentIndex
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func sortStatements(out []domain.Statement) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CardID != out[j].CardID {
			return out[i].CardID < out[j].CardID
		}
		return out[i].Period().Before(out[j].Period())
	})
}

// ============================================================
// Lookups shared by reads and the staged transaction
// ============================================================

func (d *data) card(ownerID, cardID string) (*domain.Card, error) {
	c, ok := d.cards[cardID]
	if !ok || (ownerID != "" && c.OwnerID != ownerID) {
		return nil, &domain.ErrNotFound{Resource: "card", ID: cardID}
	}
	return &c, nil
}

func (d *data) account(ownerID, accountID string) (*domain.Account, error) {
	a, ok := d.accounts[accountID]
	if !ok || (ownerID != "" && a.OwnerID != ownerID) {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	return &a, nil
}

func (d *data) statement(ownerID, statementID string) (*domain.Statement, error) {
	st, ok := d.statements[statementID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "statement", ID: statementID}
	}
	if _, err := d.card(ownerID, st.CardID); err != nil {
		return nil, &domain.ErrNotFound{Resource: "statement", ID: statementID}
	}
	return &st, nil
}

func (d *data) transaction(ownerID, transactionID string) (*domain.Transaction, error) {
	t, ok := d.transactions[transactionID]
	if !ok || (ownerID != "" && t.OwnerID != ownerID) {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: transactionID}
	}
	return &t, nil
}
