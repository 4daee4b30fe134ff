package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Accounts
// ============================================================

// Account is a cash account. Balance and AvailableBalance move together when
// a transaction on the account is settled.
type Account struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"ownerId"`
	Name             string          `json:"name"`
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	AllowOverdraft   bool            `json:"allowOverdraft"`
	OverdraftLimit   decimal.Decimal `json:"overdraftLimit"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// CheckDebit fails with ErrInsufficientFunds when debiting amount would take
// the balance below zero (no overdraft) or below -OverdraftLimit.
func (a *Account) CheckDebit(amount decimal.Decimal) error {
	floor := decimal.Zero
	if a.AllowOverdraft {
		floor = a.OverdraftLimit.Neg()
	}
	if a.Balance.Sub(amount).GreaterThanOrEqual(floor) {
		return nil
	}
	limit := decimal.Zero
	if a.AllowOverdraft {
		limit = a.OverdraftLimit
	}
	return &ErrInsufficientFunds{
		AccountID:       a.ID,
		Balance:         a.Balance,
		RequestedAmount: amount,
		OverdraftLimit:  limit,
	}
}

// CreateAccountRequest is the body for POST /v1/accounts.
type CreateAccountRequest struct {
	Name           string          `json:"name" validate:"required,max=100"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
	AllowOverdraft bool            `json:"allowOverdraft"`
	OverdraftLimit decimal.Decimal `json:"overdraftLimit" validate:"gte=0"`
}
