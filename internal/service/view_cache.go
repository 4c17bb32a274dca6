package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classroom-sync-api/internal/models"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
)

// Cached views.
const (
	ViewCourses    = "courses"
	ViewCourse     = "course"
	ViewTodo       = "todo"
	ViewCourseTodo = "course-todo"
	ViewStream     = "stream"
	ViewSchedule   = "schedule"
)

const (
	cacheKeyPrefix = "sync"
	scopeAll       = "all"
)

// ViewKey builds the cache key for one user's view.
func ViewKey(userID, view, scope string) string {
	return fmt.Sprintf("%s:%s:%s:%s", cacheKeyPrefix, userID, view, scope)
}

// ViewPattern matches every scope of a user's view. An empty userID matches
// all users.
func ViewPattern(userID, view string) string {
	if userID == "" {
		userID = "*"
	}
	return fmt.Sprintf("%s:%s:%s:*", cacheKeyPrefix, userID, view)
}

// ScopeForCourseIDs renders a course filter as a stable scope: sorted unique
// ids joined by commas, or "all" when unfiltered.
func ScopeForCourseIDs(courseIDs []string) string {
	seen := make(map[string]struct{}, len(courseIDs))
	ids := make([]string, 0, len(courseIDs))
	for _, id := range courseIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return scopeAll
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// ViewCacheRepository abstracts persistence for cached views.
type ViewCacheRepository interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Put(ctx context.Context, entry models.CacheEntry) error
	MarkStale(ctx context.Context, pattern string) (int, error)
	DeleteByPattern(ctx context.Context, pattern string) error
}

// ViewCache stores view payloads without expiry and tracks hit metrics.
type ViewCache struct {
	repo    ViewCacheRepository
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewViewCache constructs a view cache.
func NewViewCache(repo ViewCacheRepository, metrics *MetricsService, logger *zap.Logger) *ViewCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViewCache{repo: repo, metrics: metrics, logger: logger, now: time.Now}
}

// Get returns the entry under key. Store failures are logged and reported as
// a miss.
func (c *ViewCache) Get(ctx context.Context, key string) (*models.CacheEntry, bool) {
	if c == nil || c.repo == nil {
		return nil, false
	}
	start := time.Now()
	entry, err := c.repo.Get(ctx, key)
	duration := time.Since(start)
	if err != nil {
		c.metrics.RecordCacheOperation(false, duration)
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			c.logger.Warn("view cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	c.metrics.RecordCacheOperation(true, duration)
	return entry, true
}

// Put replaces the entry under key with payload. Store failures are logged
// and the written entry is still returned; only encoding errors fail.
func (c *ViewCache) Put(ctx context.Context, key string, payload interface{}, report *BranchReport) (models.CacheEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("encode view %s: %w", key, err)
	}
	entry := models.CacheEntry{
		Key:              key,
		Payload:          raw,
		FetchedAt:        c.now().UTC(),
		Partial:          report.Partial(),
		DegradedBranches: report.Branches(),
	}
	if c.repo == nil {
		return entry, nil
	}
	start := time.Now()
	err = c.repo.Put(ctx, entry)
	c.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		c.logger.Warn("view cache put failed", zap.String("key", key), zap.Error(err))
	}
	return entry, nil
}

// MarkStale flags entries matching pattern so the next read refreshes them
// according to the view's stale policy.
func (c *ViewCache) MarkStale(ctx context.Context, pattern string) int {
	if c == nil || c.repo == nil {
		return 0
	}
	marked, err := c.repo.MarkStale(ctx, pattern)
	if err != nil {
		c.logger.Warn("view cache mark stale failed", zap.String("pattern", pattern), zap.Error(err))
	}
	return marked
}

// Invalidate removes entries matching pattern.
func (c *ViewCache) Invalidate(ctx context.Context, pattern string) error {
	if c == nil || c.repo == nil {
		return nil
	}
	if err := c.repo.DeleteByPattern(ctx, pattern); err != nil {
		c.logger.Warn("view cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}
