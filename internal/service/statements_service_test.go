package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/card-ledger-go/internal/domain"
	"github.com/boddenberg/card-ledger-go/internal/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayStatement_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.card(t, 1000)
	row := f.purchase(t, card.ID, 250, "2025-10-10", 1).Transactions[0]
	stID := *row.StatementID

	_, err := f.svc.PayStatement(ctx, owner, stID, &domain.StatementPaymentRequest{Amount: money(100)})
	var conflict *domain.ErrConflict
	require.True(t, errors.As(err, &conflict), "open statements cannot be paid, got %v", err)

	// Nov/2025 closes once purchases resolve into Dec/2025.
	f.clock.Set(day(2025, 11, 6))
	changed, err := f.svc.RefreshStatuses(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, domain.StatementClosed, f.mustStatement(t, card.ID, 2025, 11).Statement.Status)

	_, err = f.svc.PayStatement(ctx, owner, stID, &domain.StatementPaymentRequest{Amount: money(300)})
	require.True(t, errors.As(err, &conflict), "overpayment, got %v", err)

	st, err := f.svc.PayStatement(ctx, owner, stID, &domain.StatementPaymentRequest{Amount: money(100)})
	require.NoError(t, err)
	assertDec(t, "100", st.PaidAmount)
	assert.Equal(t, domain.StatementClosed, st.Status)

	f.clock.Set(day(2025, 11, 16))
	changed, err = f.svc.RefreshStatuses(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, domain.StatementOverdue, f.mustStatement(t, card.ID, 2025, 11).Statement.Status)

	st, err = f.svc.PayStatement(ctx, owner, stID, &domain.StatementPaymentRequest{Amount: money(150)})
	require.NoError(t, err)
	assertDec(t, "250", st.PaidAmount)
	assert.Equal(t, domain.StatementPaid, st.Status)

	// Payments never restore the limit.
	assertDec(t, "750", f.mustCard(t, card.ID).AvailableLimit)

	changed, err = f.svc.RefreshStatuses(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
	assert.Contains(t, f.events.Types(), domain.EventStatementPaid)
	assert.Contains(t, f.events.Types(), domain.EventStatementStatusChanged)
}

func TestPayStatement_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.card(t, 1000)
	row := f.purchase(t, card.ID, 250, "2025-10-10", 1).Transactions[0]

	_, err := f.svc.PayStatement(ctx, owner, *row.StatementID, &domain.StatementPaymentRequest{Amount: money(0)})
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr))

	_, err = f.svc.PayStatement(ctx, "mallory", *row.StatementID, &domain.StatementPaymentRequest{Amount: money(10)})
	var nf *domain.ErrNotFound
	require.True(t, errors.As(err, &nf))
}

func TestRefreshStatuses_LeavesOpenStatements(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, 1000)
	f.purchase(t, card.ID, 300, "2025-10-10", 3)

	f.clock.Set(day(2025, 11, 6))
	changed, err := f.svc.RefreshStatuses(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	assert.Equal(t, domain.StatementClosed, f.mustStatement(t, card.ID, 2025, 11).Statement.Status)
	assert.Equal(t, domain.StatementOpen, f.mustStatement(t, card.ID, 2025, 12).Statement.Status)
	assert.Equal(t, domain.StatementOpen, f.mustStatement(t, card.ID, 2026, 1).Statement.Status)
}

func TestGetStatement_Errors(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, 1000)

	_, err := f.svc.GetStatement(context.Background(), owner, card.ID, 2025, 13)
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "month", verr.Field)

	_, err = f.svc.GetStatement(context.Background(), owner, card.ID, 2025, 11)
	var nf *domain.ErrNotFound
	require.True(t, errors.As(err, &nf))
}

func TestListStatements_CacheInvalidatedByWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.card(t, 1000)
	f.purchase(t, card.ID, 100, "2025-10-10", 1)

	first, err := f.svc.ListStatements(ctx, owner, card.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	_, err = f.svc.ListStatements(ctx, owner, card.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, f.metrics.GetLedgerSnapshot().CacheHitRate, 0.001)

	f.purchase(t, card.ID, 100, "2025-11-10", 1)
	after, err := f.svc.ListStatements(ctx, owner, card.ID)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, 11, after[0].ReferenceMonth)
	assert.Equal(t, 12, after[1].ReferenceMonth)
}

// ============================================================
// Cards
// ============================================================

func TestCreateCard_Validation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name  string
		req   domain.CreateCardRequest
		field string
	}{
		{"missing name", domain.CreateCardRequest{TotalLimit: money(100), ClosingDay: 5, DueDay: 15}, "name"},
		{"zero limit", domain.CreateCardRequest{Name: "x", ClosingDay: 5, DueDay: 15}, "totalLimit"},
		{"closing day", domain.CreateCardRequest{Name: "x", TotalLimit: money(100), ClosingDay: 32, DueDay: 15}, "closingDay"},
		{"due day", domain.CreateCardRequest{Name: "x", TotalLimit: money(100), ClosingDay: 5}, "dueDay"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateCard(context.Background(), owner, &tc.req)
			var verr *domain.ErrValidation
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestUpdateCardLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.card(t, 1000)
	f.purchase(t, card.ID, 400, "2025-10-10", 1)

	updated, err := f.svc.UpdateCardLimit(ctx, owner, card.ID, &domain.UpdateCardLimitRequest{TotalLimit: money(1500)})
	require.NoError(t, err)
	assertDec(t, "1500", updated.TotalLimit)
	assertDec(t, "1100", updated.AvailableLimit)

	updated, err = f.svc.UpdateCardLimit(ctx, owner, card.ID, &domain.UpdateCardLimitRequest{TotalLimit: money(400)})
	require.NoError(t, err)
	assertDec(t, "0", updated.AvailableLimit)

	_, err = f.svc.UpdateCardLimit(ctx, owner, card.ID, &domain.UpdateCardLimitRequest{TotalLimit: money(399.99)})
	var conflict *domain.ErrConflict
	require.True(t, errors.As(err, &conflict))
	assertDec(t, "400", f.mustCard(t, card.ID).TotalLimit)
	f.assertConsistent(t, card.ID)
}

func TestGetCardSummary(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, 1000)
	f.purchase(t, card.ID, 300, "2025-10-10", 3)

	summary, err := f.svc.GetCardSummary(context.Background(), owner, card.ID)
	require.NoError(t, err)
	assertDec(t, "300", summary.UsedLimit)
	assert.Len(t, summary.Statements, 3)
	require.NotNil(t, summary.Current)
	assert.Equal(t, 11, summary.Current.ReferenceMonth)
	assertDec(t, "300", summary.Outstanding)

	_, err = f.svc.GetCardSummary(context.Background(), "mallory", card.ID)
	var nf *domain.ErrNotFound
	assert.True(t, errors.As(err, &nf))
}

func TestReconcileCard_DetectsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.card(t, 1000)
	f.purchase(t, card.ID, 250, "2025-10-10", 1)

	// Corrupt the cached limit behind the service's back.
	err := f.store.WithinTx(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		c, err := tx.LockCard(ctx, owner, card.ID)
		if err != nil {
			return err
		}
		c.AvailableLimit = dec("800")
		return tx.UpdateCardLimits(ctx, c)
	})
	require.NoError(t, err)

	r, err := f.svc.ReconcileCard(ctx, owner, card.ID)
	require.NoError(t, err)
	assert.False(t, r.Consistent)
	assertDec(t, "750", r.ExpectedAvailable)
	assertDec(t, "800", r.CachedAvailable)
}

// ============================================================
// Accounts
// ============================================================

func TestCreateAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.svc.CreateAccount(ctx, owner, &domain.CreateAccountRequest{
		Name: "Savings", InitialBalance: money(10), OverdraftLimit: money(500),
	})
	require.NoError(t, err)
	assertDec(t, "10", acct.AvailableBalance)
	assertDec(t, "0", acct.OverdraftLimit)

	_, err = f.svc.CreateAccount(ctx, owner, &domain.CreateAccountRequest{Name: "Neg", InitialBalance: money(-1)})
	var verr *domain.ErrValidation
	require.True(t, errors.As(err, &verr))

	acct, err = f.svc.CreateAccount(ctx, owner, &domain.CreateAccountRequest{
		Name: "Credit line", InitialBalance: money(-50), AllowOverdraft: true, OverdraftLimit: money(100),
	})
	require.NoError(t, err)
	assertDec(t, "-50", acct.Balance)

	accounts, err := f.svc.ListAccounts(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
	others, err := f.svc.ListAccounts(ctx, "mallory")
	require.NoError(t, err)
	assert.Empty(t, others)
}
