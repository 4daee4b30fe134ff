package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error types for consistent error handling across the ledger.
// All of them are raised before any persistent mutation.

// ErrNotFound indicates a resource was not found or is not owned by the caller.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrInsufficientCredit indicates a purchase larger than the card's available limit.
type ErrInsufficientCredit struct {
	CardID         string
	PurchaseAmount decimal.Decimal
	AvailableLimit decimal.Decimal
	TotalLimit     decimal.Decimal
	Shortfall      decimal.Decimal
}

func (e *ErrInsufficientCredit) Error() string {
	return fmt.Sprintf("insufficient credit: purchase=%s available=%s limit=%s shortfall=%s",
		e.PurchaseAmount.StringFixed(2), e.AvailableLimit.StringFixed(2),
		e.TotalLimit.StringFixed(2), e.Shortfall.StringFixed(2))
}

// ErrInsufficientFunds indicates an account debit that breaches the zero or
// overdraft floor.
type ErrInsufficientFunds struct {
	AccountID       string
	Balance         decimal.Decimal
	RequestedAmount decimal.Decimal
	OverdraftLimit  decimal.Decimal
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: balance=%s requested=%s overdraft_limit=%s",
		e.Balance.StringFixed(2), e.RequestedAmount.StringFixed(2), e.OverdraftLimit.StringFixed(2))
}

// ErrConflict indicates a write that would break a ledger invariant
// (e.g. lowering a card limit below what is already used).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrCircuitOpen indicates the database circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrUnauthorized indicates a missing or invalid bearer token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// IsBusinessError reports whether err is a domain rejection rather than an
// infrastructure failure.
func IsBusinessError(err error) bool {
	var (
		notFound   *ErrNotFound
		validation *ErrValidation
		credit     *ErrInsufficientCredit
		funds      *ErrInsufficientFunds
		conflict   *ErrConflict
	)
	return errors.As(err, &notFound) || errors.As(err, &validation) ||
		errors.As(err, &credit) || errors.As(err, &funds) || errors.As(err, &conflict)
}
