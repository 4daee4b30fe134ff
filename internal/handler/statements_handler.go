package handler

import (
	"net/http"

	"github.com/boddenberg/card-ledger-go/internal/domain"
	"github.com/boddenberg/card-ledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Statements
// ============================================================

func listStatementsHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards/{cardId}/statements")
		defer span.End()

		statements, err := svc.ListStatements(ctx, OwnerIDFromContext(ctx), chi.URLParam(r, "cardId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Statement]{Data: statements, Total: len(statements)})
	}
}

func getStatementHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards/{cardId}/statements/{year}/{month}")
		defer span.End()

		year, err := intParam(r, "year")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		month, err := intParam(r, "month")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("statement.year", year), attribute.Int("statement.month", month))

		detail, err := svc.GetStatement(ctx, OwnerIDFromContext(ctx), chi.URLParam(r, "cardId"), year, month)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func payStatementHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/statements/{statementId}/payments")
		defer span.End()

		statementID := chi.URLParam(r, "statementId")
		span.SetAttributes(attribute.String("statement.id", statementID))

		var req domain.StatementPaymentRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		st, err := svc.PayStatement(ctx, OwnerIDFromContext(ctx), statementID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
