package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/boddenberg/card-ledger-go/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeErrorDetails(w http.ResponseWriter, status int, msg string, details map[string]any) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

var validate = newValidator()

// newValidator reports fields by their JSON name. Decimal amounts are
// compared as floats so numeric tags like gt=0 apply to them.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody decodes the JSON body into dst and runs its validate tags.
// Failures come back as *domain.ErrValidation.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid JSON body"}
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &domain.ErrValidation{Field: fe.Field(), Message: validationMessage(fe)}
		}
		return &domain.ErrValidation{Field: "body", Message: err.Error()}
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return fmt.Sprintf("failed '%s' check", fe.Tag())
	}
}

// intParam reads a positive integer URL parameter.
func intParam(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		return 0, &domain.ErrValidation{Field: name, Message: "must be a positive integer"}
	}
	return v, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var validation *domain.ErrValidation
	var insufficientCredit *domain.ErrInsufficientCredit
	var insufficientFunds *domain.ErrInsufficientFunds
	var conflict *domain.ErrConflict
	var unauthorized *domain.ErrUnauthorized

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeErrorDetails(w, http.StatusBadRequest, err.Error(), map[string]any{
			"field": validation.Field,
		})
	case errors.As(err, &insufficientCredit):
		logger.Warn("insufficient credit",
			zap.String("card_id", insufficientCredit.CardID),
			zap.String("purchase", insufficientCredit.PurchaseAmount.StringFixed(2)),
			zap.String("available", insufficientCredit.AvailableLimit.StringFixed(2)),
		)
		writeErrorDetails(w, http.StatusUnprocessableEntity, err.Error(), map[string]any{
			"cardId":         insufficientCredit.CardID,
			"purchaseAmount": insufficientCredit.PurchaseAmount.StringFixed(2),
			"availableLimit": insufficientCredit.AvailableLimit.StringFixed(2),
			"totalLimit":     insufficientCredit.TotalLimit.StringFixed(2),
			"shortfall":      insufficientCredit.Shortfall.StringFixed(2),
		})
	case errors.As(err, &insufficientFunds):
		logger.Warn("insufficient funds",
			zap.String("account_id", insufficientFunds.AccountID),
			zap.String("balance", insufficientFunds.Balance.StringFixed(2)),
			zap.String("requested", insufficientFunds.RequestedAmount.StringFixed(2)),
		)
		writeErrorDetails(w, http.StatusUnprocessableEntity, err.Error(), map[string]any{
			"accountId":       insufficientFunds.AccountID,
			"balance":         insufficientFunds.Balance.StringFixed(2),
			"requestedAmount": insufficientFunds.RequestedAmount.StringFixed(2),
			"overdraftLimit":  insufficientFunds.OverdraftLimit.StringFixed(2),
		})
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
