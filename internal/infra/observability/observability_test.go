package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boddenberg/card-ledger-go/internal/infra/observability"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMetrics_LedgerSnapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrLedgerOp("create", "success")
	m.IncrLedgerOp("create", "success")
	m.IncrLedgerOp("edit", "success")
	m.IncrLedgerOp("delete", "rejected")
	m.IncrRejection("insufficient_credit")
	m.AddInstallments(3)
	m.IncrStatementsCreated()
	m.IncrCacheHit("statements")
	m.IncrCacheMiss("statements")
	m.IncrEventFailure("transaction.created")
	m.IncrEventFailure("statement.paid")

	snap := m.GetLedgerSnapshot()
	if snap.TransactionsCreated != 2 {
		t.Errorf("expected 2 creates, got %d", snap.TransactionsCreated)
	}
	if snap.TransactionsEdited != 1 {
		t.Errorf("expected 1 edit, got %d", snap.TransactionsEdited)
	}
	if snap.TransactionsDeleted != 0 {
		t.Errorf("rejected deletes must not count, got %d", snap.TransactionsDeleted)
	}
	if snap.CreditRejections != 1 {
		t.Errorf("expected 1 credit rejection, got %d", snap.CreditRejections)
	}
	if snap.InstallmentsWritten != 3 {
		t.Errorf("expected 3 installments, got %d", snap.InstallmentsWritten)
	}
	if snap.StatementsCreated != 1 {
		t.Errorf("expected 1 statement, got %d", snap.StatementsCreated)
	}
	if snap.CacheHitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %f", snap.CacheHitRate)
	}
	if snap.EventPublishFailures != 2 {
		t.Errorf("expected 2 event failures, got %d", snap.EventPublishFailures)
	}
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := observability.NewMetrics()
	b := observability.NewMetrics()
	a.IncrLedgerOp("create", "success")
	if got := b.GetLedgerSnapshot().TransactionsCreated; got != 0 {
		t.Errorf("registries leaked: %d", got)
	}
}

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := observability.InitTracer("", "card-ledger")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestZapLoggerMiddleware_PassesThrough(t *testing.T) {
	mw := observability.ZapLoggerMiddleware(zap.NewNop())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rec.Code)
	}
}

func TestZapLoggerMiddleware_CollectsAccessFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	mw := observability.ZapLoggerMiddleware(zap.New(core))
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observability.AddAccessFields(r.Context(), zap.String("owner_id", "alice"))
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/transactions", nil))
	observability.AddAccessFields(context.Background(), zap.String("owner_id", "ignored"))

	entries := logs.AllUntimed()
	if len(entries) != 1 {
		t.Fatalf("expected 1 access log entry, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel {
		t.Errorf("expected warn for 4xx, got %s", entries[0].Level)
	}
	if got := entries[0].ContextMap()["owner_id"]; got != "alice" {
		t.Errorf("expected owner_id alice, got %v", got)
	}
}

func TestTracingMiddleware_EchoesTraceID(t *testing.T) {
	_, _ = observability.InitTracer("", "card-ledger")
	h := observability.TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/cards", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Trace-Id"); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("expected trace id echo, got %q", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/cards", nil))
	if got := rec.Header().Get("X-Trace-Id"); got != "" {
		t.Errorf("expected no trace id without traceparent, got %q", got)
	}
}
