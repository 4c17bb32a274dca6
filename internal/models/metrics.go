package models

import "time"

// SyncMetricsSnapshot summarises instrumentation for the metrics summary endpoint.
type SyncMetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	UpstreamCalls            uint64    `json:"upstream_calls"`
	UpstreamFailures         uint64    `json:"upstream_failures"`
	Refreshes                uint64    `json:"refreshes"`
	DegradedBranches         uint64    `json:"degraded_branches"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
