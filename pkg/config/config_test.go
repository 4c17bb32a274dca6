package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 100*time.Millisecond, cfg.Governor.DispatchInterval)
	assert.Equal(t, 10, cfg.Governor.SubmissionConcurrency)
	assert.Equal(t, 3, cfg.Governor.TodoCourseConcurrency)
	assert.Equal(t, 50, cfg.Sync.TodoCourseworkLimit)
	assert.Equal(t, CacheBackendMemory, cfg.Sync.CacheBackend)
	assert.Equal(t, StalePolicyRefresh, cfg.Sync.TodoStalePolicy)
	assert.Equal(t, 2*time.Minute, cfg.Sync.RefreshTimeout)
	assert.Equal(t, 90*24*time.Hour, cfg.Calendar.Window)
	assert.Equal(t, 1000, cfg.Calendar.MaxResults)
	assert.Equal(t, "https://classroom.googleapis.com/v1", cfg.Upstream.ClassroomBaseURL)
}

func TestFromViperOverridesAndFallbacks(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("SYNC_CACHE_BACKEND", "REDIS")
	v.Set("SYNC_TODO_STALE_POLICY", "whenever")
	v.Set("TODO_COURSE_CONCURRENCY", 0)
	v.Set("GOVERNOR_DISPATCH_INTERVAL", "not-a-duration")
	v.Set("UPSTREAM_CLASSROOM_BASE_URL", "http://localhost:9000/v1/")
	v.Set("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")

	cfg := fromViper(v)

	assert.Equal(t, CacheBackendRedis, cfg.Sync.CacheBackend)
	assert.Equal(t, StalePolicyRefresh, cfg.Sync.TodoStalePolicy)
	assert.Equal(t, 3, cfg.Governor.TodoCourseConcurrency)
	assert.Equal(t, 100*time.Millisecond, cfg.Governor.DispatchInterval)
	assert.Equal(t, "http://localhost:9000/v1", cfg.Upstream.ClassroomBaseURL)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
}
