package memory

import (
	"context"
	"time"

	"github.com/boddenberg/card-ledger-go/internal/domain"

	"github.com/google/uuid"
)

// tx stages writes on a private copy of the store data.
type tx struct {
	data *data
}

func (t *tx) LockCard(_ context.Context, ownerID, cardID string) (*domain.Card, error) {
	return t.data.card(ownerID, cardID)
}

func (t *tx) LockAccount(_ context.Context, ownerID, accountID string) (*domain.Account, error) {
	return t.data.account(ownerID, accountID)
}

func (t *tx) LockStatement(_ context.Context, ownerID, statementID string) (*domain.Statement, error) {
	return t.data.statement(ownerID, statementID)
}

func (t *tx) LockTransaction(_ context.Context, ownerID, transactionID string) (*domain.Transaction, error) {
	return t.data.transaction(ownerID, transactionID)
}

func (t *tx) GetOrCreateStatement(_ context.Context, card *domain.Card, p domain.Period) (*domain.Statement, bool, error) {
	key := statementKey{cardID: card.ID, period: p}
	if id, ok := t.data.statementIDs[key]; ok {
		st := t.data.statements[id]
		return &st, false, nil
	}
	st := domain.NewStatement(uuid.NewString(), card, p, time.Now().UTC())
	t.data.statements[st.ID] = *st
	t.data.statementIDs[key] = st.ID
	return st, true, nil
}

func (t *tx) InsertCard(_ context.Context, card *domain.Card) error {
	if _, ok := t.data.cards[card.ID]; ok {
		return &domain.ErrConflict{Message: "card already exists: " + card.ID}
	}
	t.data.cards[card.ID] = *card
	return nil
}

func (t *tx) UpdateCardLimits(_ context.Context, card *domain.Card) error {
	c, ok := t.data.cards[card.ID]
	if !ok {
		return &domain.ErrNotFound{Resource: "card", ID: card.ID}
	}
	c.TotalLimit = card.TotalLimit
	c.AvailableLimit = card.AvailableLimit
	c.UpdatedAt = time.Now().UTC()
	t.data.cards[card.ID] = c
	return nil
}

func (t *tx) InsertAccount(_ context.Context, account *domain.Account) error {
	if _, ok := t.data.accounts[account.ID]; ok {
		return &domain.ErrConflict{Message: "account already exists: " + account.ID}
	}
	t.data.accounts[account.ID] = *account
	return nil
}

func (t *tx) UpdateAccountBalance(_ context.Context, account *domain.Account) error {
	a, ok := t.data.accounts[account.ID]
	if !ok {
		return &domain.ErrNotFound{Resource: "account", ID: account.ID}
	}
	a.Balance = account.Balance
	a.AvailableBalance = account.AvailableBalance
	a.UpdatedAt = time.Now().UTC()
	t.data.accounts[account.ID] = a
	return nil
}

func (t *tx) UpdateStatementTotal(_ context.Context, statement *domain.Statement) error {
	return t.updateStatement(statement.ID, func(st *domain.Statement) {
		st.TotalAmount = statement.TotalAmount
	})
}

func (t *tx) UpdateStatementPayment(_ context.Context, statement *domain.Statement) error {
	return t.updateStatement(statement.ID, func(st *domain.Statement) {
		st.PaidAmount = statement.PaidAmount
		st.Status = statement.Status
	})
}

func (t *tx) UpdateStatementStatus(_ context.Context, statement *domain.Statement) error {
	return t.updateStatement(statement.ID, func(st *domain.Statement) {
		st.Status = statement.Status
	})
}

func (t *tx) updateStatement(id string, mutate func(st *domain.Statement)) error {
	st, ok := t.data.statements[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "statement", ID: id}
	}
	mutate(&st)
	st.UpdatedAt = time.Now().UTC()
	t.data.statements[id] = st
	return nil
}

func (t *tx) InsertTransaction(_ context.Context, row *domain.Transaction) error {
	if _, ok := t.data.transactions[row.ID]; ok {
		return &domain.ErrConflict{Message: "transaction already exists: " + row.ID}
	}
	t.data.transactions[row.ID] = *row
	return nil
}

func (t *tx) UpdateTransaction(_ context.Context, row *domain.Transaction) error {
	if _, ok := t.data.transactions[row.ID]; !ok {
		return &domain.ErrNotFound{Resource: "transaction", ID: row.ID}
	}
	t.data.transactions[row.ID] = *row
	return nil
}

func (t *tx) DeleteTransaction(_ context.Context, transactionID string) error {
	if _, ok := t.data.transactions[transactionID]; !ok {
		return &domain.ErrNotFound{Resource: "transaction", ID: transactionID}
	}
	delete(t.data.transactions, transactionID)
	return nil
}
