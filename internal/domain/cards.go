package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Credit Cards
// ============================================================

// Card is a credit card whose available limit is derived from the live
// transactions charged to it. AvailableLimit is only moved by ledger effects
// and by limit changes, never set directly.
type Card struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"ownerId"`
	Name           string          `json:"name"`
	TotalLimit     decimal.Decimal `json:"totalLimit"`
	AvailableLimit decimal.Decimal `json:"availableLimit"`
	ClosingDay     int             `json:"closingDay"`
	DueDay         int             `json:"dueDay"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// UsedLimit is the part of the limit taken by live transactions.
func (c *Card) UsedLimit() decimal.Decimal {
	return c.TotalLimit.Sub(c.AvailableLimit)
}

// CheckCredit fails with ErrInsufficientCredit when amount exceeds the
// available limit.
func (c *Card) CheckCredit(amount decimal.Decimal) error {
	if c.AvailableLimit.GreaterThanOrEqual(amount) {
		return nil
	}
	return &ErrInsufficientCredit{
		CardID:         c.ID,
		PurchaseAmount: amount,
		AvailableLimit: c.AvailableLimit,
		TotalLimit:     c.TotalLimit,
		Shortfall:      amount.Sub(c.AvailableLimit),
	}
}

// CreateCardRequest is the body for POST /v1/cards.
type CreateCardRequest struct {
	Name       string          `json:"name" validate:"required,max=100"`
	TotalLimit decimal.Decimal `json:"totalLimit" validate:"gt=0"`
	ClosingDay int             `json:"closingDay" validate:"min=1,max=31"`
	DueDay     int             `json:"dueDay" validate:"min=1,max=31"`
}

// UpdateCardLimitRequest is the body for PUT /v1/cards/{cardId}/limit.
type UpdateCardLimitRequest struct {
	TotalLimit decimal.Decimal `json:"totalLimit" validate:"gt=0"`
}

// CardSummary is returned by GET /v1/cards/{cardId}/summary.
// Outstanding sums what is still owed on statements that are not paid.
type CardSummary struct {
	Card        *Card           `json:"card"`
	UsedLimit   decimal.Decimal `json:"usedLimit"`
	Statements  []Statement     `json:"statements"`
	Current     *Statement      `json:"current,omitempty"`
	Outstanding decimal.Decimal `json:"outstanding"`
}
