package models

import "time"

// CallRecord is the persisted outcome of a single route.
type CallRecord struct {
	ID        int64     `json:"id"`
	RequestID string    `json:"request_id"`
	Category  Category  `json:"category"`
	Backend   string    `json:"backend,omitempty"`
	CacheHit  bool      `json:"cache_hit"`
	Attempts  int       `json:"attempts"`
	LatencyMs int64     `json:"latency_ms"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HistorySummary aggregates call records by backend and category.
type HistorySummary struct {
	Backend      string   `json:"backend"`
	Category     Category `json:"category"`
	RequestCount int      `json:"request_count"`
	CacheHits    int      `json:"cache_hits"`
	Failures     int      `json:"failures"`
	AvgLatencyMs float64  `json:"avg_latency_ms"`
}

// MetricsRecord holds the raw per-backend counters.
type MetricsRecord struct {
	CallCount      int64 `json:"call_count"`
	SuccessCount   int64 `json:"success_count"`
	FailureCount   int64 `json:"failure_count"`
	TotalLatencyMs int64 `json:"total_latency_ms"`
}

// BackendSummary holds values derived from a MetricsRecord.
type BackendSummary struct {
	CallCount    int64   `json:"call_count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	SuccessRate  float64 `json:"success_rate"`
}
