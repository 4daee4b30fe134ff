package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz and GET /readyz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
	Error       string `json:"error,omitempty"`
}

// LedgerMetrics is returned by GET /v1/metrics/ledger.
type LedgerMetrics struct {
	TransactionsCreated  int64   `json:"transactionsCreated"`
	TransactionsEdited   int64   `json:"transactionsEdited"`
	TransactionsDeleted  int64   `json:"transactionsDeleted"`
	InstallmentsWritten  int64   `json:"installmentsWritten"`
	StatementsCreated    int64   `json:"statementsCreated"`
	CreditRejections     int64   `json:"creditRejections"`
	FundsRejections      int64   `json:"fundsRejections"`
	StoreErrors          int64   `json:"storeErrors"`
	EventPublishFailures int64   `json:"eventPublishFailures"`
	CacheHitRate         float64 `json:"cacheHitRate"`
	Period               string  `json:"period"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

