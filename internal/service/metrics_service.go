package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/classroom-sync-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLatency     prometheus.Observer
	cacheWrite       prometheus.Observer
	cacheHitRatio    prometheus.Gauge
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	upstreamDuration *prometheus.HistogramVec
	upstreamTotal    *prometheus.CounterVec
	governorInFlight *prometheus.GaugeVec
	syncDuration     *prometheus.HistogramVec
	degradedBranches *prometheus.CounterVec
	viewResponses    *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	upstreamCallCount    uint64
	upstreamFailureCount uint64
	syncCount            uint64
	degradedCount        uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "view_cache_latency_seconds",
		Help:    "Latency for view cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "view_cache_write_seconds",
		Help:    "Latency for view cache writes",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "view_cache_hit_ratio",
		Help: "Ratio of view cache hits to total lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "view_cache_hits_total",
		Help: "Total view cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "view_cache_misses_total",
		Help: "Total view cache misses",
	})

	upstreamDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_request_duration_seconds",
		Help:    "Duration of upstream API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"resource"})

	upstreamTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_requests_total",
		Help: "Total upstream API calls by outcome",
	}, []string{"resource", "outcome"})

	governorInFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_tasks_in_flight",
		Help: "Tasks currently running under each rate governor",
	}, []string{"governor"})

	syncDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_refresh_duration_seconds",
		Help:    "Duration of full fan-out refreshes per view",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 40, 80},
	}, []string{"view", "outcome"})

	degradedBranches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_degraded_branches_total",
		Help: "Branches degraded to empty by fail-open",
	}, []string{"branch"})

	viewResponses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_view_responses_total",
		Help: "View responses by route and how the payload was served",
	}, []string{"route", "served", "partial"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		upstreamDuration, upstreamTotal, governorInFlight, syncDuration, degradedBranches, viewResponses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:         registry,
		handler:          handler,
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheHitRatio:    cacheHitRatio,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		upstreamDuration: upstreamDuration,
		upstreamTotal:    upstreamTotal,
		governorInFlight: governorInFlight,
		syncDuration:     syncDuration,
		degradedBranches: degradedBranches,
		viewResponses:    viewResponses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveUpstreamCall implements upstream.Recorder.
func (m *MetricsService) ObserveUpstreamCall(resource, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(resource).Observe(duration.Seconds())
	m.upstreamTotal.WithLabelValues(resource, outcome).Inc()
	atomic.AddUint64(&m.upstreamCallCount, 1)
	if outcome != "ok" {
		atomic.AddUint64(&m.upstreamFailureCount, 1)
	}
}

// TaskStarted implements governor.Observer.
func (m *MetricsService) TaskStarted(governor string) {
	if m == nil {
		return
	}
	m.governorInFlight.WithLabelValues(governor).Inc()
}

// TaskFinished implements governor.Observer.
func (m *MetricsService) TaskFinished(governor string, _ error, _ time.Duration) {
	if m == nil {
		return
	}
	m.governorInFlight.WithLabelValues(governor).Dec()
}

// ObserveSync records one full refresh of a view.
func (m *MetricsService) ObserveSync(view string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.syncDuration.WithLabelValues(view, outcome).Observe(duration.Seconds())
	atomic.AddUint64(&m.syncCount, 1)
}

// RecordDegradedBranch counts a branch converted to empty by fail-open.
func (m *MetricsService) RecordDegradedBranch(branch string) {
	if m == nil {
		return
	}
	m.degradedBranches.WithLabelValues(branch).Inc()
	atomic.AddUint64(&m.degradedCount, 1)
}

// ObserveViewResponse counts a served view: "cache" for a fresh hit, "stale"
// for a stale payload served while a refresh is queued, "refresh" otherwise.
func (m *MetricsService) ObserveViewResponse(route string, meta models.SyncMeta) {
	if m == nil {
		return
	}
	served := "refresh"
	switch {
	case meta.CacheHit && meta.Stale:
		served = "stale"
	case meta.CacheHit:
		served = "cache"
	}
	m.viewResponses.WithLabelValues(route, served, fmt.Sprintf("%t", meta.Partial)).Inc()
}

// Snapshot returns aggregated metrics suitable for the metrics summary endpoint.
func (m *MetricsService) Snapshot() models.SyncMetricsSnapshot {
	if m == nil {
		return models.SyncMetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SyncMetricsSnapshot{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		UpstreamCalls:            atomic.LoadUint64(&m.upstreamCallCount),
		UpstreamFailures:         atomic.LoadUint64(&m.upstreamFailureCount),
		Refreshes:                atomic.LoadUint64(&m.syncCount),
		DegradedBranches:         atomic.LoadUint64(&m.degradedCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
