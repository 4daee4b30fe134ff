package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a ledger event published after a successful commit.
type EventType string

const (
	EventTransactionCreated     EventType = "transaction.created"
	EventTransactionUpdated     EventType = "transaction.updated"
	EventTransactionDeleted     EventType = "transaction.deleted"
	EventStatementStatusChanged EventType = "statement.status_changed"
	EventStatementPaid          EventType = "statement.paid"
)

// LedgerEvent is the payload emitted for downstream consumers
// (notifications, analytics). It carries ids and the resulting totals,
// never the full rows.
type LedgerEvent struct {
	Type           EventType        `json:"type"`
	OwnerID        string           `json:"ownerId"`
	TransactionIDs []string         `json:"transactionIds,omitempty"`
	CardID         string           `json:"cardId,omitempty"`
	AccountID      string           `json:"accountId,omitempty"`
	StatementID    string           `json:"statementId,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	AvailableLimit *decimal.Decimal `json:"availableLimit,omitempty"`
	Status         string           `json:"status,omitempty"`
	OccurredAt     time.Time        `json:"occurredAt"`
}
