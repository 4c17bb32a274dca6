package service

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-sync-api/internal/models"
)

func TestMetricsServiceSnapshotAndExposition(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.ObserveUpstreamCall("roster", "ok", 10*time.Millisecond)
	m.ObserveUpstreamCall("submissions", "upstream-unavailable", 10*time.Millisecond)
	m.ObserveSync("todo", nil, time.Second)
	m.ObserveSync("todo", errors.New("x"), time.Second)
	m.RecordDegradedBranch("submissions")
	m.TaskStarted("course")
	m.TaskFinished("course", nil, time.Millisecond)
	m.ObserveViewResponse("/api/v1/todo", models.SyncMeta{CacheHit: true})
	m.ObserveViewResponse("/api/v1/todo", models.SyncMeta{CacheHit: true, Stale: true})
	m.ObserveViewResponse("/api/v1/courses/:courseId/aggregate", models.SyncMeta{Partial: true})

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)
	assert.InDelta(t, 0.666, snap.CacheHitRatio, 0.001)
	assert.Equal(t, uint64(2), snap.UpstreamCalls)
	assert.Equal(t, uint64(1), snap.UpstreamFailures)
	assert.Equal(t, uint64(2), snap.Refreshes)
	assert.Equal(t, uint64(1), snap.DegradedBranches)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `upstream_requests_total{outcome="upstream-unavailable",resource="submissions"} 1`))
	assert.True(t, strings.Contains(body, `governor_tasks_in_flight{governor="course"} 0`))
	assert.True(t, strings.Contains(body, `sync_view_responses_total{partial="false",route="/api/v1/todo",served="cache"} 1`))
	assert.True(t, strings.Contains(body, `sync_view_responses_total{partial="false",route="/api/v1/todo",served="stale"} 1`))
	assert.True(t, strings.Contains(body, `sync_view_responses_total{partial="true",route="/api/v1/courses/:courseId/aggregate",served="refresh"} 1`))
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.RecordCacheOperation(true, time.Millisecond)
	m.ObserveUpstreamCall("x", "ok", time.Millisecond)
	m.TaskStarted("g")
	m.RecordDegradedBranch("b")
	m.ObserveViewResponse("/todo", models.SyncMeta{})
	assert.Zero(t, m.Snapshot().CacheHits)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
