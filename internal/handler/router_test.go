package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/card-ledger-go/internal/domain"
	"github.com/boddenberg/card-ledger-go/internal/handler"
	"github.com/boddenberg/card-ledger-go/internal/infra/cache"
	"github.com/boddenberg/card-ledger-go/internal/infra/memory"
	"github.com/boddenberg/card-ledger-go/internal/infra/observability"
	"github.com/boddenberg/card-ledger-go/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testSecret = []byte("test-secret")

type testAPI struct {
	t       *testing.T
	router  http.Handler
	metrics *observability.Metrics
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	statements := cache.New[[]domain.Statement](time.Minute)
	t.Cleanup(statements.Close)

	metrics := observability.NewMetrics()
	svc := service.NewLedgerService(memory.New(), statements, nil, metrics, zap.NewNop(),
		service.WithClock(func() time.Time { return time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC) }),
	)
	router := handler.NewRouter(svc, metrics, handler.RouterConfig{
		JWTSecret:      testSecret,
		AllowedOrigins: []string{"http://localhost:3000"},
	}, zap.NewNop())
	return &testAPI{t: t, router: router, metrics: metrics}
}

func signToken(t *testing.T, secret []byte, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func tokenFor(t *testing.T, owner string) string {
	return signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   owner,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
}

// do sends a request as owner; an empty owner sends no Authorization header.
func (a *testAPI) do(method, path, owner string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(a.t, owner))
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// ============================================================
// Operational endpoints
// ============================================================

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/healthz", "", nil)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	health := decode[domain.HealthStatus](t, rec)
	if health.Status != "healthy" {
		t.Errorf("expected healthy, got %q", health.Status)
	}
	if len(health.Services) != 2 {
		t.Errorf("expected 2 services, got %d", len(health.Services))
	}
}

func TestReadyz(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/readyz", "", nil)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	api := newTestAPI(t)
	api.metrics.IncrLedgerOp("create", "ok")

	rec := api.do(http.MethodGet, "/metrics", "", nil)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("ledger_transactions_total")) {
		t.Errorf("expected ledger counters in /metrics output")
	}
}

func TestLedgerMetricsSnapshot(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/v1/metrics/ledger", "alice", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	snap := decode[domain.LedgerMetrics](t, rec)
	if snap.Period == "" {
		t.Errorf("expected a snapshot period")
	}
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/cards", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected allowed origin header, got %q", got)
	}
}

// ============================================================
// Authentication
// ============================================================

func TestV1RejectsMissingOrBadTokens(t *testing.T) {
	api := newTestAPI(t)
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"garbage", "Bearer not-a-jwt"},
		{"wrong secret", "Bearer " + signToken(t, []byte("other"), jwt.RegisteredClaims{Subject: "alice", ExpiresAt: future})},
		{"expired", "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{
			Subject: "alice", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		})},
		{"no expiry", "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{Subject: "alice"})},
		{"no subject", "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{ExpiresAt: future})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/cards", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			api.router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestAccessLogCarriesOwnerAndRoute(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	statements := cache.New[[]domain.Statement](time.Minute)
	t.Cleanup(statements.Close)
	metrics := observability.NewMetrics()
	svc := service.NewLedgerService(memory.New(), statements, nil, metrics, zap.NewNop())
	router := handler.NewRouter(svc, metrics, handler.RouterConfig{JWTSecret: testSecret}, zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/v1/cards/missing", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "alice"))
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("http request").AllUntimed()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "alice", fields["owner_id"])
	require.Equal(t, "/v1/cards/{cardId}", fields["route"])
	require.EqualValues(t, http.StatusNotFound, fields["status"])
}

func TestParseOwnerToken(t *testing.T) {
	owner, err := handler.ParseOwnerToken(testSecret, tokenFor(t, "alice"))
	require.NoError(t, err)
	require.Equal(t, "alice", owner)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = handler.ParseOwnerToken(testSecret, unsigned)
	var unauthorized *domain.ErrUnauthorized
	require.ErrorAs(t, err, &unauthorized)
}
