package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind is the direction of a transaction.
type TransactionKind string

const (
	KindIncome  TransactionKind = "INCOME"
	KindExpense TransactionKind = "EXPENSE"
)

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusPaid      TransactionStatus = "PAID"
	StatusReceived  TransactionStatus = "RECEIVED"
	StatusScheduled TransactionStatus = "SCHEDULED"
	StatusOverdue   TransactionStatus = "OVERDUE"
	StatusCancelled TransactionStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusReceived, StatusScheduled, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// Settled reports whether the status moves account balances.
func (s TransactionStatus) Settled() bool {
	return s == StatusPaid || s == StatusReceived
}

// Transaction is a single ledger row. Exactly one of AccountID and CardID is
// set; StatementID is set iff CardID is.
type Transaction struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"ownerId"`
	Kind             TransactionKind   `json:"kind"`
	Amount           decimal.Decimal   `json:"amount"`
	Description      string            `json:"description,omitempty"`
	CompetenceDate   time.Time         `json:"competenceDate"`
	Status           TransactionStatus `json:"status"`
	CategoryID       *string           `json:"categoryId,omitempty"`
	AccountID        *string           `json:"accountId,omitempty"`
	CardID           *string           `json:"cardId,omitempty"`
	StatementID      *string           `json:"statementId,omitempty"`
	IsInstallment    bool              `json:"isInstallment"`
	InstallmentIndex int               `json:"installmentIndex,omitempty"`
	InstallmentCount int               `json:"installmentCount,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// OnCard reports whether the transaction is charged to a card.
func (t *Transaction) OnCard() bool {
	return t.CardID != nil
}

// Live reports whether the transaction counts towards card and statement totals.
func (t *Transaction) Live() bool {
	return t.Status != StatusCancelled
}

// TransactionRequest is the payload for creating or editing a transaction.
type TransactionRequest struct {
	Kind             TransactionKind   `json:"kind"`
	Amount           decimal.Decimal   `json:"amount"`
	Description      string            `json:"description,omitempty" validate:"max=255"`
	CompetenceDate   string            `json:"competenceDate"`
	Status           TransactionStatus `json:"status,omitempty"`
	CategoryID       *string           `json:"categoryId,omitempty"`
	AccountID        *string           `json:"accountId,omitempty"`
	CardID           *string           `json:"cardId,omitempty"`
	InstallmentCount *int              `json:"installmentCount,omitempty"`
}

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// MaxInstallments caps how many statements a single purchase may span.
const MaxInstallments = 360

// TransactionInput is a validated TransactionRequest.
type TransactionInput struct {
	Kind             TransactionKind
	Amount           decimal.Decimal
	Description      string
	CompetenceDate   time.Time
	Status           TransactionStatus
	CategoryID       *string
	AccountID        *string
	CardID           *string
	InstallmentCount int
}

// Validate checks the request shape before any lookup and normalizes it.
func (r *TransactionRequest) Validate() (*TransactionInput, error) {
	if !r.Amount.IsPositive() {
		return nil, &ErrValidation{Field: "amount", Message: "must be greater than zero"}
	}
	amount := Round2(r.Amount)
	if !amount.IsPositive() {
		return nil, &ErrValidation{Field: "amount", Message: "must be at least 0.01"}
	}

	kind := r.Kind
	if kind == "" {
		kind = KindExpense
	}
	if kind != KindIncome && kind != KindExpense {
		return nil, &ErrValidation{Field: "kind", Message: "must be INCOME or EXPENSE"}
	}

	hasCard := r.CardID != nil && strings.TrimSpace(*r.CardID) != ""
	hasAccount := r.AccountID != nil && strings.TrimSpace(*r.AccountID) != ""
	switch {
	case hasCard && hasAccount:
		return nil, &ErrValidation{Field: "cardId", Message: "cardId and accountId are mutually exclusive"}
	case !hasCard && !hasAccount:
		return nil, &ErrValidation{Field: "cardId", Message: "one of cardId or accountId is required"}
	}

	if r.CompetenceDate == "" {
		return nil, &ErrValidation{Field: "competenceDate", Message: "required"}
	}
	date, err := time.Parse(DateLayout, r.CompetenceDate)
	if err != nil {
		return nil, &ErrValidation{Field: "competenceDate", Message: "must be YYYY-MM-DD"}
	}

	count := 1
	if r.InstallmentCount != nil {
		count = *r.InstallmentCount
	}
	if count < 1 {
		return nil, &ErrValidation{Field: "installmentCount", Message: "must be at least 1"}
	}
	if count > MaxInstallments {
		return nil, &ErrValidation{Field: "installmentCount", Message: fmt.Sprintf("must be at most %d", MaxInstallments)}
	}
	if count > 1 && !hasCard {
		return nil, &ErrValidation{Field: "installmentCount", Message: "installments are only allowed on card purchases"}
	}

	status := r.Status
	if status != "" && !status.Valid() {
		return nil, &ErrValidation{Field: "status", Message: "unknown status " + string(status)}
	}

	in := &TransactionInput{
		Kind:             kind,
		Amount:           amount,
		Description:      strings.TrimSpace(r.Description),
		CompetenceDate:   date,
		Status:           status,
		CategoryID:       r.CategoryID,
		InstallmentCount: count,
	}
	if hasCard {
		if kind != KindExpense {
			return nil, &ErrValidation{Field: "kind", Message: "card transactions must be EXPENSE"}
		}
		id := strings.TrimSpace(*r.CardID)
		in.CardID = &id
	} else {
		id := strings.TrimSpace(*r.AccountID)
		in.AccountID = &id
	}
	return in, nil
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	CardID      string
	AccountID   string
	StatementID string
}

// LedgerResult is returned by ledger writes: the transactions written plus
// the card and statements they touched.
type LedgerResult struct {
	Transactions []Transaction `json:"transactions"`
	Card         *Card         `json:"card,omitempty"`
	Statements   []Statement   `json:"statements,omitempty"`
	Account      *Account      `json:"account,omitempty"`
}
