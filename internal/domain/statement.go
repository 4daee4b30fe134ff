package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatementStatus is the lifecycle state of a statement.
type StatementStatus string

const (
	StatementOpen    StatementStatus = "OPEN"
	StatementClosed  StatementStatus = "CLOSED"
	StatementPaid    StatementStatus = "PAID"
	StatementOverdue StatementStatus = "OVERDUE"
)

// Statement is the monthly bill of a card. TotalAmount always equals the sum
// of the live transactions attached to it.
type Statement struct {
	ID             string          `json:"id"`
	CardID         string          `json:"cardId"`
	ReferenceMonth int             `json:"referenceMonth"`
	ReferenceYear  int             `json:"referenceYear"`
	ClosingDate    time.Time       `json:"closingDate"`
	DueDate        time.Time       `json:"dueDate"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	PaidAmount     decimal.Decimal `json:"paidAmount"`
	Status         StatementStatus `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Period returns the statement's reference period.
func (s *Statement) Period() Period {
	return Period{Month: s.ReferenceMonth, Year: s.ReferenceYear}
}

// Outstanding is what is still owed on the statement.
func (s *Statement) Outstanding() decimal.Decimal {
	out := s.TotalAmount.Sub(s.PaidAmount)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// NewStatement builds a fresh OPEN statement for card and period.
func NewStatement(id string, card *Card, p Period, now time.Time) *Statement {
	closing, due := StatementDates(p, card.ClosingDay, card.DueDay)
	return &Statement{
		ID:             id,
		CardID:         card.ID,
		ReferenceMonth: p.Month,
		ReferenceYear:  p.Year,
		ClosingDate:    closing,
		DueDate:        due,
		TotalAmount:    decimal.Zero,
		PaidAmount:     decimal.Zero,
		Status:         StatementOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NextStatus computes the status of a statement at now from its totals and
// dates. A statement is open while purchases made at now still resolve into
// it. Once closed it is paid when paidAmount covers a positive total, and
// overdue when its due date has passed with money outstanding.
func (s *Statement) NextStatus(now time.Time, closingDay int) StatementStatus {
	current := ResolvePeriod(now, closingDay)
	if !s.Period().Before(current) {
		return StatementOpen
	}
	if s.TotalAmount.IsPositive() && s.PaidAmount.GreaterThanOrEqual(s.TotalAmount) {
		return StatementPaid
	}
	if DateOnly(now).After(s.DueDate) && s.Outstanding().IsPositive() {
		return StatementOverdue
	}
	return StatementClosed
}

// StatementPaymentRequest is the body for POST /v1/statements/{statementId}/payments.
type StatementPaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

// StatementDetail is a statement with its attached transactions.
type StatementDetail struct {
	Statement    *Statement    `json:"statement"`
	Transactions []Transaction `json:"transactions"`
}
