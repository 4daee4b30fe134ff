package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/card-ledger-go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func testCard() *domain.Card {
	return &domain.Card{
		ID:             "card-1",
		TotalLimit:     dec("1000"),
		AvailableLimit: dec("1000"),
		ClosingDay:     5,
		DueDay:         15,
	}
}

func TestEffectOf(t *testing.T) {
	cardTx := &domain.Transaction{
		Kind:        domain.KindExpense,
		Amount:      dec("250"),
		Status:      domain.StatusPending,
		CardID:      strPtr("card-1"),
		StatementID: strPtr("st-1"),
	}
	e := domain.EffectOf(cardTx)
	assert.True(t, e.CardDelta.Equal(dec("-250")))
	assert.True(t, e.StatementDelta.Equal(dec("250")))
	assert.Equal(t, "st-1", e.StatementID)

	cardTx.Status = domain.StatusCancelled
	assert.True(t, domain.EffectOf(cardTx).IsZero(), "cancelled rows have no effect")

	acctTx := &domain.Transaction{
		Kind:      domain.KindExpense,
		Amount:    dec("40"),
		Status:    domain.StatusPaid,
		AccountID: strPtr("acc-1"),
	}
	assert.True(t, domain.EffectOf(acctTx).AccountDelta.Equal(dec("-40")))

	acctTx.Kind = domain.KindIncome
	acctTx.Status = domain.StatusReceived
	assert.True(t, domain.EffectOf(acctTx).AccountDelta.Equal(dec("40")))

	acctTx.Status = domain.StatusPending
	assert.True(t, domain.EffectOf(acctTx).IsZero(), "pending account rows have no effect")
}

func TestLedgerState_ApplyIsPure(t *testing.T) {
	card := testCard()
	st := domain.NewStatement("st-1", card, domain.Period{Month: 11, Year: 2025}, time.Now())
	base := domain.NewLedgerState([]*domain.Card{card}, []*domain.Statement{st}, nil)

	e := domain.Effect{CardID: card.ID, CardDelta: dec("-250"), StatementID: st.ID, StatementDelta: dec("250")}
	next, err := base.Apply(e)
	require.NoError(t, err)

	c, _ := base.Card(card.ID)
	assert.True(t, c.AvailableLimit.Equal(dec("1000")), "base must not change")
	c, _ = next.Card(card.ID)
	assert.True(t, c.AvailableLimit.Equal(dec("750")))
	s, _ := next.Statement(st.ID)
	assert.True(t, s.TotalAmount.Equal(dec("250")))

	back, err := next.Reverse(e)
	require.NoError(t, err)
	c, _ = back.Card(card.ID)
	assert.True(t, c.AvailableLimit.Equal(dec("1000")))
	s, _ = back.Statement(st.ID)
	assert.True(t, s.TotalAmount.IsZero())
}

func TestLedgerState_EditComposition(t *testing.T) {
	card := testCard()
	st := domain.NewStatement("st-1", card, domain.Period{Month: 11, Year: 2025}, time.Now())
	st.TotalAmount = dec("250")
	card.AvailableLimit = dec("750")
	base := domain.NewLedgerState([]*domain.Card{card}, []*domain.Statement{st}, nil)

	old := domain.Effect{CardID: card.ID, CardDelta: dec("-250"), StatementID: st.ID, StatementDelta: dec("250")}
	neu := domain.Effect{CardID: card.ID, CardDelta: dec("-300"), StatementID: st.ID, StatementDelta: dec("300")}

	reversed, err := base.Reverse(old)
	require.NoError(t, err)
	edited, err := reversed.Apply(neu)
	require.NoError(t, err)

	c, _ := edited.Card(card.ID)
	assert.True(t, c.AvailableLimit.Equal(dec("700")), "net change must be -50")
	s, _ := edited.Statement(st.ID)
	assert.True(t, s.TotalAmount.Equal(dec("300")))

	cards, stmts, accts := edited.Changes(base)
	assert.Len(t, cards, 1)
	assert.Len(t, stmts, 1)
	assert.Empty(t, accts)
}

func TestLedgerState_WithStatementsKeepsTrackedSnapshot(t *testing.T) {
	card := testCard()
	st := domain.NewStatement("st-1", card, domain.Period{Month: 11, Year: 2025}, time.Now())
	base := domain.NewLedgerState([]*domain.Card{card}, []*domain.Statement{st}, nil)

	moved, err := base.Apply(domain.Effect{StatementID: st.ID, StatementDelta: dec("80")})
	require.NoError(t, err)

	next := domain.NewStatement("st-2", card, domain.Period{Month: 12, Year: 2025}, time.Now())
	stale := *st
	got := moved.WithStatements(&stale, next, next)

	s, ok := got.Statement(st.ID)
	require.True(t, ok)
	assert.True(t, s.TotalAmount.Equal(dec("80")), "tracked statement must keep its snapshot")
	_, ok = got.Statement(next.ID)
	assert.True(t, ok)
	_, ok = moved.Statement(next.ID)
	assert.False(t, ok, "receiver must not change")
}

func TestLedgerState_UnknownRow(t *testing.T) {
	base := domain.NewLedgerState(nil, nil, nil)
	_, err := base.Apply(domain.Effect{CardID: "missing", CardDelta: dec("-1")})
	assert.Error(t, err)
}

func TestCheckCredit_Shortfall(t *testing.T) {
	card := testCard()
	card.AvailableLimit = dec("100")

	err := card.CheckCredit(dec("200"))
	var credit *domain.ErrInsufficientCredit
	require.True(t, errors.As(err, &credit))
	assert.True(t, credit.Shortfall.Equal(dec("100")))
	assert.True(t, credit.AvailableLimit.Equal(dec("100")))
	assert.True(t, credit.TotalLimit.Equal(dec("1000")))
	assert.True(t, credit.PurchaseAmount.Equal(dec("200")))

	assert.NoError(t, card.CheckCredit(dec("100")), "exact available limit is allowed")
}

func TestCheckDebit_Overdraft(t *testing.T) {
	acct := &domain.Account{ID: "acc-1", Balance: dec("50")}
	assert.NoError(t, acct.CheckDebit(dec("50")))

	var funds *domain.ErrInsufficientFunds
	require.True(t, errors.As(acct.CheckDebit(dec("50.01")), &funds))
	assert.True(t, funds.OverdraftLimit.IsZero())

	acct.AllowOverdraft = true
	acct.OverdraftLimit = dec("100")
	assert.NoError(t, acct.CheckDebit(dec("150")))
	require.True(t, errors.As(acct.CheckDebit(dec("150.01")), &funds))
	assert.True(t, funds.OverdraftLimit.Equal(dec("100")))
	assert.True(t, funds.RequestedAmount.Equal(dec("150.01")))
}

func TestReconcile(t *testing.T) {
	card := testCard()
	card.AvailableLimit = dec("700")
	st := domain.NewStatement("st-1", card, domain.Period{Month: 11, Year: 2025}, time.Now())
	st.TotalAmount = dec("300")

	txs := []domain.Transaction{
		{Amount: dec("300"), Status: domain.StatusPending, CardID: strPtr(card.ID), StatementID: strPtr(st.ID)},
		{Amount: dec("999"), Status: domain.StatusCancelled, CardID: strPtr(card.ID), StatementID: strPtr(st.ID)},
	}
	r := domain.Reconcile(card, []domain.Statement{*st}, txs)
	assert.True(t, r.Consistent)

	card.AvailableLimit = dec("650")
	st.TotalAmount = decimal.Zero
	r = domain.Reconcile(card, []domain.Statement{*st}, txs)
	assert.False(t, r.Consistent)
	assert.True(t, r.ExpectedAvailable.Equal(dec("700")))
	require.Len(t, r.StatementDrifts, 1)
	assert.True(t, r.StatementDrifts[0].Expected.Equal(dec("300")))
}

func TestStatement_NextStatus(t *testing.T) {
	card := testCard()
	st := domain.NewStatement("st-1", card, domain.Period{Month: 11, Year: 2025}, time.Now())
	st.TotalAmount = dec("100")

	assert.Equal(t, domain.StatementOpen, st.NextStatus(day(2025, 10, 20), card.ClosingDay))
	assert.Equal(t, domain.StatementClosed, st.NextStatus(day(2025, 11, 5), card.ClosingDay))
	assert.Equal(t, domain.StatementOverdue, st.NextStatus(day(2025, 11, 16), card.ClosingDay))

	st.PaidAmount = dec("100")
	assert.Equal(t, domain.StatementPaid, st.NextStatus(day(2025, 11, 16), card.ClosingDay))

	empty := domain.NewStatement("st-2", card, domain.Period{Month: 11, Year: 2025}, time.Now())
	assert.Equal(t, domain.StatementClosed, empty.NextStatus(day(2025, 12, 1), card.ClosingDay))
}

func TestTransactionRequest_Validate(t *testing.T) {
	count := 3
	zero := 0
	tooMany := domain.MaxInstallments + 1
	cases := []struct {
		name  string
		req   domain.TransactionRequest
		field string
	}{
		{"zero amount", domain.TransactionRequest{Amount: dec("0"), CompetenceDate: "2025-10-10", CardID: strPtr("c")}, "amount"},
		{"negative amount", domain.TransactionRequest{Amount: dec("-5"), CompetenceDate: "2025-10-10", CardID: strPtr("c")}, "amount"},
		{"no target", domain.TransactionRequest{Amount: dec("10"), CompetenceDate: "2025-10-10"}, "cardId"},
		{"both targets", domain.TransactionRequest{Amount: dec("10"), CompetenceDate: "2025-10-10", CardID: strPtr("c"), AccountID: strPtr("a")}, "cardId"},
		{"bad date", domain.TransactionRequest{Amount: dec("10"), CompetenceDate: "10/10/2025", CardID: strPtr("c")}, "competenceDate"},
		{"zero installments", domain.TransactionRequest{Amount: dec("10"), CompetenceDate: "2025-10-10", CardID: strPtr("c"), InstallmentCount: &zero}, "installmentCount"},
		{"too many installments", domain.TransactionRequest{Amount: dec("10"), CompetenceDate: "2025-10-10", CardID: strPtr("c"), InstallmentCount: &tooMany}, "installmentCount"},
		{"installments on account", domain.TransactionRequest{Amount: dec("10"), CompetenceDate: "2025-10-10", AccountID: strPtr("a"), InstallmentCount: &count}, "installmentCount"},
		{"income on card", domain.TransactionRequest{Kind: domain.KindIncome, Amount: dec("10"), CompetenceDate: "2025-10-10", CardID: strPtr("c")}, "kind"},
		{"unknown status", domain.TransactionRequest{Amount: dec("10"), CompetenceDate: "2025-10-10", AccountID: strPtr("a"), Status: "DONE"}, "status"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.req.Validate()
			var verr *domain.ErrValidation
			require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	in, err := (&domain.TransactionRequest{Amount: dec("600.004"), CompetenceDate: "2025-10-10", CardID: strPtr("c"), InstallmentCount: &count}).Validate()
	require.NoError(t, err)
	assert.True(t, in.Amount.Equal(dec("600")))
	assert.Equal(t, domain.KindExpense, in.Kind)
	assert.Equal(t, 3, in.InstallmentCount)
}
