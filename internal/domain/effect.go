package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ============================================================
// Ledger effects
// ============================================================

// Effect is the monetary footprint of a transaction on the rows it touches.
// Deltas are signed changes: CardDelta moves the card's available limit,
// StatementDelta moves the statement total, AccountDelta moves both the
// account balance and its available balance.
type Effect struct {
	CardID         string
	CardDelta      decimal.Decimal
	StatementID    string
	StatementDelta decimal.Decimal
	AccountID      string
	AccountDelta   decimal.Decimal
}

// Negate returns the effect that undoes e.
func (e Effect) Negate() Effect {
	return Effect{
		CardID:         e.CardID,
		CardDelta:      e.CardDelta.Neg(),
		StatementID:    e.StatementID,
		StatementDelta: e.StatementDelta.Neg(),
		AccountID:      e.AccountID,
		AccountDelta:   e.AccountDelta.Neg(),
	}
}

// IsZero reports whether e changes nothing.
func (e Effect) IsZero() bool {
	return e.CardDelta.IsZero() && e.StatementDelta.IsZero() && e.AccountDelta.IsZero()
}

// EffectOf derives the effect a persisted transaction row has on the ledger.
// Cancelled rows and unsettled account rows have no effect.
func EffectOf(t *Transaction) Effect {
	if !t.Live() {
		return Effect{}
	}
	if t.CardID != nil {
		e := Effect{CardID: *t.CardID, CardDelta: t.Amount.Neg()}
		if t.StatementID != nil {
			e.StatementID = *t.StatementID
			e.StatementDelta = t.Amount
		}
		return e
	}
	if t.AccountID != nil && t.Status.Settled() {
		delta := t.Amount
		if t.Kind == KindExpense {
			delta = delta.Neg()
		}
		return Effect{AccountID: *t.AccountID, AccountDelta: delta}
	}
	return Effect{}
}

// LedgerState is an immutable snapshot of the cards, statements and accounts
// touched by one ledger operation. Apply and Reverse return new states and
// never modify the receiver, so an edit can be composed as
// state.Reverse(old).Apply(new) and persisted in a single commit.
type LedgerState struct {
	cards      map[string]Card
	statements map[string]Statement
	accounts   map[string]Account
}

// NewLedgerState snapshots the given rows.
func NewLedgerState(cards []*Card, statements []*Statement, accounts []*Account) LedgerState {
	s := LedgerState{
		cards:      make(map[string]Card, len(cards)),
		statements: make(map[string]Statement, len(statements)),
		accounts:   make(map[string]Account, len(accounts)),
	}
	for _, c := range cards {
		s.cards[c.ID] = *c
	}
	for _, st := range statements {
		s.statements[st.ID] = *st
	}
	for _, a := range accounts {
		s.accounts[a.ID] = *a
	}
	return s
}

func (s LedgerState) clone() LedgerState {
	out := LedgerState{
		cards:      make(map[string]Card, len(s.cards)),
		statements: make(map[string]Statement, len(s.statements)),
		accounts:   make(map[string]Account, len(s.accounts)),
	}
	for k, v := range s.cards {
		out.cards[k] = v
	}
	for k, v := range s.statements {
		out.statements[k] = v
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	return out
}

// WithStatements returns a copy of s that also tracks sts. Statements
// already tracked keep their snapshot.
func (s LedgerState) WithStatements(sts ...*Statement) LedgerState {
	out := s.clone()
	for _, st := range sts {
		if _, ok := out.statements[st.ID]; !ok {
			out.statements[st.ID] = *st
		}
	}
	return out
}

// Apply adds the effects to the snapshot.
func (s LedgerState) Apply(effects ...Effect) (LedgerState, error) {
	out := s.clone()
	for _, e := range effects {
		if !e.CardDelta.IsZero() {
			c, ok := out.cards[e.CardID]
			if !ok {
				return s, fmt.Errorf("ledger state: card %s not loaded", e.CardID)
			}
			c.AvailableLimit = Round2(c.AvailableLimit.Add(e.CardDelta))
			out.cards[e.CardID] = c
		}
		if !e.StatementDelta.IsZero() {
			st, ok := out.statements[e.StatementID]
			if !ok {
				return s, fmt.Errorf("ledger state: statement %s not loaded", e.StatementID)
			}
			st.TotalAmount = Round2(st.TotalAmount.Add(e.StatementDelta))
			out.statements[e.StatementID] = st
		}
		if !e.AccountDelta.IsZero() {
			a, ok := out.accounts[e.AccountID]
			if !ok {
				return s, fmt.Errorf("ledger state: account %s not loaded", e.AccountID)
			}
			a.Balance = Round2(a.Balance.Add(e.AccountDelta))
			a.AvailableBalance = Round2(a.AvailableBalance.Add(e.AccountDelta))
			out.accounts[e.AccountID] = a
		}
	}
	return out, nil
}

// Reverse undoes the effects on the snapshot.
func (s LedgerState) Reverse(effects ...Effect) (LedgerState, error) {
	neg := make([]Effect, len(effects))
	for i, e := range effects {
		neg[i] = e.Negate()
	}
	return s.Apply(neg...)
}

// Card returns a copy of the card snapshot.
func (s LedgerState) Card(id string) (*Card, bool) {
	c, ok := s.cards[id]
	if !ok {
		return nil, false
	}
	return &c, true
}

// Statement returns a copy of the statement snapshot.
func (s LedgerState) Statement(id string) (*Statement, bool) {
	st, ok := s.statements[id]
	if !ok {
		return nil, false
	}
	return &st, true
}

// Account returns a copy of the account snapshot.
func (s LedgerState) Account(id string) (*Account, bool) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	return &a, true
}

// Changes lists the rows of s whose monetary fields differ from base, in
// id order.
func (s LedgerState) Changes(base LedgerState) (cards []Card, statements []Statement, accounts []Account) {
	for id, c := range s.cards {
		if old, ok := base.cards[id]; !ok || !old.AvailableLimit.Equal(c.AvailableLimit) {
			cards = append(cards, c)
		}
	}
	for id, st := range s.statements {
		if old, ok := base.statements[id]; !ok || !old.TotalAmount.Equal(st.TotalAmount) {
			statements = append(statements, st)
		}
	}
	for id, a := range s.accounts {
		if old, ok := base.accounts[id]; !ok || !old.Balance.Equal(a.Balance) || !old.AvailableBalance.Equal(a.AvailableBalance) {
			accounts = append(accounts, a)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].ID < cards[j].ID })
	sort.Slice(statements, func(i, j int) bool { return statements[i].ID < statements[j].ID })
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return cards, statements, accounts
}

// ============================================================
// Reconciliation
// ============================================================

// StatementDrift reports a statement whose cached total disagrees with its
// live transactions.
type StatementDrift struct {
	StatementID string          `json:"statementId"`
	Period      string          `json:"period"`
	Cached      decimal.Decimal `json:"cached"`
	Expected    decimal.Decimal `json:"expected"`
}

// Reconciliation compares the incrementally maintained card and statement
// totals with a from-scratch recomputation over live transactions.
type Reconciliation struct {
	CardID            string           `json:"cardId"`
	CachedAvailable   decimal.Decimal  `json:"cachedAvailable"`
	ExpectedAvailable decimal.Decimal  `json:"expectedAvailable"`
	StatementDrifts   []StatementDrift `json:"statementDrifts"`
	Consistent        bool             `json:"consistent"`
}

// Reconcile recomputes card.AvailableLimit and every statement total from
// the card's transactions.
func Reconcile(card *Card, statements []Statement, txs []Transaction) Reconciliation {
	used := decimal.Zero
	byStatement := make(map[string]decimal.Decimal, len(statements))
	for i := range txs {
		t := &txs[i]
		if t.CardID == nil || *t.CardID != card.ID || !t.Live() {
			continue
		}
		used = used.Add(t.Amount)
		if t.StatementID != nil {
			byStatement[*t.StatementID] = byStatement[*t.StatementID].Add(t.Amount)
		}
	}

	r := Reconciliation{
		CardID:            card.ID,
		CachedAvailable:   card.AvailableLimit,
		ExpectedAvailable: Round2(card.TotalLimit.Sub(used)),
		StatementDrifts:   []StatementDrift{},
	}
	for _, st := range statements {
		expected := Round2(byStatement[st.ID])
		if !expected.Equal(st.TotalAmount) {
			r.StatementDrifts = append(r.StatementDrifts, StatementDrift{
				StatementID: st.ID,
				Period:      st.Period().String(),
				Cached:      st.TotalAmount,
				Expected:    expected,
			})
		}
	}
	r.Consistent = r.CachedAvailable.Equal(r.ExpectedAvailable) && len(r.StatementDrifts) == 0
	return r
}
