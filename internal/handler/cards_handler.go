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
// Cards
// ============================================================

func createCardHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards")
		defer span.End()

		var req domain.CreateCardRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		card, err := svc.CreateCard(ctx, OwnerIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, card)
	}
}

func listCardsHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards")
		defer span.End()

		cards, err := svc.ListCards(ctx, OwnerIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Card]{Data: cards, Total: len(cards)})
	}
}

func getCardHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards/{cardId}")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		span.SetAttributes(attribute.String("card.id", cardID))

		card, err := svc.GetCard(ctx, OwnerIDFromContext(ctx), cardID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, card)
	}
}

func updateCardLimitHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/cards/{cardId}/limit")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		span.SetAttributes(attribute.String("card.id", cardID))

		var req domain.UpdateCardLimitRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		card, err := svc.UpdateCardLimit(ctx, OwnerIDFromContext(ctx), cardID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, card)
	}
}

func cardSummaryHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards/{cardId}/summary")
		defer span.End()

		summary, err := svc.GetCardSummary(ctx, OwnerIDFromContext(ctx), chi.URLParam(r, "cardId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// reconcileCardHandler recomputes the card and its statements from the
// live transactions and reports any drift from the stored totals.
func reconcileCardHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards/{cardId}/reconcile")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		rec, err := svc.ReconcileCard(ctx, OwnerIDFromContext(ctx), cardID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if !rec.Consistent {
			logger.Warn("card drifted from its transactions",
				zap.String("card_id", cardID),
				zap.Int("statement_drifts", len(rec.StatementDrifts)),
			)
		}
		span.SetAttributes(attribute.Bool("ledger.consistent", rec.Consistent))
		writeJSON(w, http.StatusOK, rec)
	}
}
