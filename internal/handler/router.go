package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/card-ledger-go/internal/domain"
	"github.com/boddenberg/card-ledger-go/internal/infra/observability"
	"github.com/boddenberg/card-ledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// RouterConfig carries the HTTP-level settings of NewRouter.
type RouterConfig struct {
	JWTSecret      []byte
	AllowedOrigins []string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc *service.LedgerService, metrics *observability.Metrics, cfg RouterConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc, logger))
	r.Get("/readyz", readyzHandler(svc, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(JWTAuthMiddleware(cfg.JWTSecret, logger))

		// =============================================
		// 1. Cards
		// =============================================
		r.Post("/cards", createCardHandler(svc, logger))
		r.Get("/cards", listCardsHandler(svc, logger))
		r.Get("/cards/{cardId}", getCardHandler(svc, logger))
		r.Put("/cards/{cardId}/limit", updateCardLimitHandler(svc, logger))
		r.Get("/cards/{cardId}/summary", cardSummaryHandler(svc, logger))
		r.Get("/cards/{cardId}/reconcile", reconcileCardHandler(svc, logger))

		// =============================================
		// 2. Statements
		// =============================================
		r.Get("/cards/{cardId}/statements", listStatementsHandler(svc, logger))
		r.Get("/cards/{cardId}/statements/{year}/{month}", getStatementHandler(svc, logger))
		r.Post("/statements/{statementId}/payments", payStatementHandler(svc, logger))

		// =============================================
		// 3. Accounts
		// =============================================
		r.Post("/accounts", createAccountHandler(svc, logger))
		r.Get("/accounts", listAccountsHandler(svc, logger))
		r.Get("/accounts/{accountId}", getAccountHandler(svc, logger))

		// =============================================
		// 4. Transactions
		// =============================================
		r.Post("/transactions", createTransactionHandler(svc, logger))
		r.Get("/transactions", listTransactionsHandler(svc, logger))
		r.Get("/transactions/{transactionId}", getTransactionHandler(svc, logger))
		r.Put("/transactions/{transactionId}", editTransactionHandler(svc, logger))
		r.Delete("/transactions/{transactionId}", deleteTransactionHandler(svc, logger))

		// =============================================
		// 5. Metrics
		// =============================================
		r.Get("/metrics/ledger", ledgerMetricsHandler(metrics))
	})

	return r
}

// ============================================================
// Operational handlers
// ============================================================

func healthzHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC().Format(time.RFC3339)
		services := []domain.ServiceHealth{
			{Name: "ledger-api", Status: "healthy", LastChecked: now},
		}

		start := time.Now()
		err := svc.Ping(r.Context())
		store := domain.ServiceHealth{
			Name:        "store",
			Status:      "healthy",
			LatencyMs:   time.Since(start).Milliseconds(),
			LastChecked: now,
		}
		if err != nil {
			logger.Warn("healthz: store ping failed", zap.Error(err))
			store.Status = "degraded"
			store.Error = err.Error()
		}
		services = append(services, store)

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overallStatus = s.Status
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Ping(r.Context()); err != nil {
			logger.Warn("readyz: store not ready", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func ledgerMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetLedgerSnapshot())
	}
}
