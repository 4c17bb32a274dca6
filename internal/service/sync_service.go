package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/classroom-sync-api/internal/models"
	"github.com/noah-isme/classroom-sync-api/internal/upstream"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
	"github.com/noah-isme/classroom-sync-api/pkg/jobs"
)

// Stale policies.
const (
	StalePolicyRefresh          = "refresh"
	StalePolicyServeThenRefresh = "serve-then-refresh"
)

// RefreshJobType labels background view refresh jobs.
const RefreshJobType = "view_refresh"

type viewAggregator interface {
	ListableCourses(ctx context.Context, courseIDs []string) ([]models.Course, *BranchReport, error)
	CourseAggregate(ctx context.Context, courseID string) (*models.CourseAggregate, *BranchReport, error)
	CourseTodo(ctx context.Context, courseID string) (*models.TodoGroup, *BranchReport, error)
	TodoAggregate(ctx context.Context, courseIDs []string) ([]models.TodoGroup, *BranchReport, error)
	Stream(ctx context.Context, courseIDs []string) ([]models.StreamItem, *BranchReport, error)
	Schedule(ctx context.Context) (*models.SchedulePayload, *BranchReport, error)
}

type refreshQueue interface {
	Enqueue(job jobs.Job) error
}

// ViewRequest identifies who reads a view and whether the cache is bypassed.
type ViewRequest struct {
	UserID string
	Force  bool
}

// RefreshPayload is carried by background refresh jobs. The credential is
// captured at enqueue time because workers run outside the request.
type RefreshPayload struct {
	Request    ViewRequest
	Credential upstream.Credential
	View       string
	CourseID   string
	CourseIDs  []string
}

// SyncServiceConfig tunes the orchestrator.
type SyncServiceConfig struct {
	// StalePolicies maps view name to stale policy. Views not listed use
	// StalePolicyRefresh.
	StalePolicies map[string]string
	// RefreshTimeout bounds one fan-out. Refreshes are detached from the
	// caller's cancellation and end only on this deadline.
	RefreshTimeout time.Duration
}

const defaultRefreshTimeout = 2 * time.Minute

// SyncService serves views from the freshness cache and refreshes them
// through the aggregator on miss, force or staleness.
type SyncService struct {
	aggregator viewAggregator
	cache      *ViewCache
	overlays   overlayLookup
	bus        *InvalidationBus
	queue      refreshQueue
	metrics    *MetricsService
	logger     *zap.Logger
	flights    singleflight.Group
	cfg        SyncServiceConfig
}

// SyncServiceParams groups constructor dependencies.
type SyncServiceParams struct {
	Aggregator viewAggregator
	Cache      *ViewCache
	Overlays   overlayLookup
	Bus        *InvalidationBus
	Queue      refreshQueue
	Metrics    *MetricsService
	Logger     *zap.Logger
	Config     SyncServiceConfig
}

// NewSyncService constructs a SyncService and subscribes the todo view to
// refresh signals from the course views.
func NewSyncService(params SyncServiceParams) *SyncService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := params.Config
	if cfg.StalePolicies == nil {
		cfg.StalePolicies = map[string]string{}
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	bus := params.Bus
	if bus == nil {
		bus = NewInvalidationBus(logger)
	}
	s := &SyncService{
		aggregator: params.Aggregator,
		cache:      params.Cache,
		overlays:   params.Overlays,
		bus:        bus,
		queue:      params.Queue,
		metrics:    params.Metrics,
		logger:     logger,
		cfg:        cfg,
	}
	bus.Subscribe(ViewCourse, s.markTodoStale)
	bus.Subscribe(ViewCourseTodo, s.markTodoStale)
	return s
}

// SetQueue attaches the background refresh queue. The queue's handler is
// usually HandleRefreshJob, so the two are wired after construction.
func (s *SyncService) SetQueue(queue refreshQueue) {
	s.queue = queue
}

func (s *SyncService) markTodoStale(ctx context.Context, sig Signal) {
	marked := s.cache.MarkStale(ctx, ViewPattern(sig.UserID, ViewTodo))
	s.logger.Debug("todo views marked stale",
		zap.String("source_view", sig.SourceView),
		zap.String("scope", sig.Scope),
		zap.Int("entries", marked))
}

func (s *SyncService) policy(view string) string {
	if policy, ok := s.cfg.StalePolicies[view]; ok {
		return policy
	}
	return StalePolicyRefresh
}

type fetchFunc[T any] func(ctx context.Context) (T, *BranchReport, error)

type refreshed[T any] struct {
	value T
	entry models.CacheEntry
}

// serve implements the per-key state machine: a fresh cached entry is served
// without upstream calls; a miss, a forced read or a stale entry under the
// refresh policy runs one fan-out shared by concurrent readers of the key.
func serve[T any](ctx context.Context, s *SyncService, req ViewRequest, view, scope string, payload RefreshPayload, fetch fetchFunc[T]) (T, models.SyncMeta, error) {
	var zero T
	if strings.TrimSpace(req.UserID) == "" {
		return zero, models.SyncMeta{}, appErrors.ErrAuthenticationRequired
	}
	key := ViewKey(req.UserID, view, scope)

	if !req.Force {
		if entry, hit := s.cache.Get(ctx, key); hit {
			var value T
			if err := json.Unmarshal(entry.Payload, &value); err != nil {
				s.logger.Warn("discarding undecodable view cache entry", zap.String("key", key), zap.Error(err))
			} else if !entry.Stale {
				return value, metaFor(*entry, true), nil
			} else if s.policy(view) == StalePolicyServeThenRefresh {
				meta := metaFor(*entry, true)
				meta.RefreshQueued = s.enqueueRefresh(ctx, key, req, payload)
				if meta.RefreshQueued {
					return value, meta, nil
				}
			}
		}
	}

	result, err := refresh(ctx, s, key, view, fetch)
	if err != nil {
		return zero, models.SyncMeta{}, err
	}
	if req.Force && (view == ViewCourse || view == ViewCourseTodo) {
		s.bus.Publish(context.WithoutCancel(ctx), Signal{UserID: req.UserID, SourceView: view, Scope: scope})
	}
	return result.value, metaFor(result.entry, false), nil
}

// refresh runs one fan-out for key, shared by every concurrent caller. The
// fan-out keeps the caller's values (credential) but not its cancellation, so
// a disconnecting client cannot cut sub-fetches short. A fan-out that hits
// RefreshTimeout is discarded instead of cached.
func refresh[T any](ctx context.Context, s *SyncService, key, view string, fetch fetchFunc[T]) (refreshed[T], error) {
	shared, err, _ := s.flights.Do(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RefreshTimeout)
		defer cancel()

		start := time.Now()
		value, report, err := fetch(fetchCtx)
		if err == nil {
			err = interrupted(fetchCtx, key)
		}
		s.metrics.ObserveSync(view, err, time.Since(start))
		if err != nil {
			return nil, err
		}
		entry, err := s.cache.Put(context.WithoutCancel(ctx), key, value, report)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
		}
		if entry.Partial {
			s.logger.Info("view refreshed with degraded branches",
				zap.String("key", key),
				zap.Strings("branches", entry.DegradedBranches))
		}
		return refreshed[T]{value: value, entry: entry}, nil
	})
	if err != nil {
		return refreshed[T]{}, err
	}
	out, ok := shared.(refreshed[T])
	if !ok {
		return refreshed[T]{}, fmt.Errorf("view %s: unexpected shared result %T", key, shared)
	}
	return out, nil
}

// interrupted reports a fan-out whose context ended before it finished. Its
// branches failed for that reason alone and must not replace a cached entry.
func interrupted(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return appErrors.Wrap(fmt.Errorf("refresh %s: %w", key, err),
			appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "sync did not complete in time")
	}
	return nil
}

func (s *SyncService) enqueueRefresh(ctx context.Context, key string, req ViewRequest, payload RefreshPayload) bool {
	if s.queue == nil {
		return false
	}
	cred, ok := upstream.CredentialFrom(ctx)
	if !ok {
		return false
	}
	payload.Request = ViewRequest{UserID: req.UserID, Force: true}
	payload.Credential = cred
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Key:     key,
		Type:    RefreshJobType,
		Payload: payload,
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, jobs.ErrDuplicate):
		// a refresh for this key is already on its way
		return true
	default:
		s.logger.Warn("failed to enqueue view refresh", zap.String("key", key), zap.Error(err))
		return false
	}
}

// HandleRefreshJob runs a queued refresh with the credential captured when it
// was enqueued. Authentication failures are not retried.
func (s *SyncService) HandleRefreshJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(RefreshPayload)
	if !ok {
		return jobs.Permanent(fmt.Errorf("refresh job %s: unexpected payload %T", job.ID, job.Payload))
	}
	ctx = upstream.WithCredential(ctx, payload.Credential)
	req := payload.Request
	req.Force = true

	var err error
	switch payload.View {
	case ViewCourses:
		_, _, err = s.Courses(ctx, req, payload.CourseIDs)
	case ViewCourse:
		_, _, err = s.CourseAggregate(ctx, req, payload.CourseID)
	case ViewCourseTodo:
		_, _, err = s.CourseTodo(ctx, req, payload.CourseID)
	case ViewTodo:
		_, _, err = s.Todo(ctx, req, payload.CourseIDs, TodoFilter{})
	case ViewStream:
		_, _, err = s.Stream(ctx, req, payload.CourseIDs)
	case ViewSchedule:
		_, _, err = s.Schedule(ctx, req)
	default:
		return jobs.Permanent(fmt.Errorf("refresh job %s: unknown view %q", job.ID, payload.View))
	}
	if err != nil && upstream.IsUnauthenticated(err) {
		return jobs.Permanent(err)
	}
	return err
}

// Courses returns the listable courses.
func (s *SyncService) Courses(ctx context.Context, req ViewRequest, courseIDs []string) ([]models.Course, models.SyncMeta, error) {
	payload := RefreshPayload{View: ViewCourses, CourseIDs: courseIDs}
	return serve(ctx, s, req, ViewCourses, ScopeForCourseIDs(courseIDs), payload, func(ctx context.Context) ([]models.Course, *BranchReport, error) {
		return s.aggregator.ListableCourses(ctx, courseIDs)
	})
}

// CourseAggregate returns the grade matrix aggregate for a course.
func (s *SyncService) CourseAggregate(ctx context.Context, req ViewRequest, courseID string) (*models.CourseAggregate, models.SyncMeta, error) {
	if courseID == "" {
		return nil, models.SyncMeta{}, appErrors.Clone(appErrors.ErrValidation, "courseId is required")
	}
	payload := RefreshPayload{View: ViewCourse, CourseID: courseID}
	agg, meta, err := serve(ctx, s, req, ViewCourse, courseID, payload, func(ctx context.Context) (*models.CourseAggregate, *BranchReport, error) {
		return s.aggregator.CourseAggregate(ctx, courseID)
	})
	if err != nil || !meta.CacheHit || agg == nil {
		return agg, meta, err
	}
	if overlay, ok := s.currentOverlay(ctx, rosterIDs(agg.Roster)); ok {
		agg.Roster = ApplyRosterOverlay(agg.Roster, overlay)
	}
	return agg, meta, nil
}

// CourseTodo returns the pending review group for one course, or nil.
func (s *SyncService) CourseTodo(ctx context.Context, req ViewRequest, courseID string) (*models.TodoGroup, models.SyncMeta, error) {
	if courseID == "" {
		return nil, models.SyncMeta{}, appErrors.Clone(appErrors.ErrValidation, "courseId is required")
	}
	payload := RefreshPayload{View: ViewCourseTodo, CourseID: courseID}
	group, meta, err := serve(ctx, s, req, ViewCourseTodo, courseID, payload, func(ctx context.Context) (*models.TodoGroup, *BranchReport, error) {
		return s.aggregator.CourseTodo(ctx, courseID)
	})
	if err != nil || !meta.CacheHit || group == nil {
		return group, meta, err
	}
	groups := s.overlayTodo(ctx, []models.TodoGroup{*group})
	return &groups[0], meta, nil
}

// Todo returns the cross-course todo groups. The filter is applied after the
// cache so hidden topics never fragment cache keys.
func (s *SyncService) Todo(ctx context.Context, req ViewRequest, courseIDs []string, filter TodoFilter) ([]models.TodoGroup, models.SyncMeta, error) {
	payload := RefreshPayload{View: ViewTodo, CourseIDs: courseIDs}
	groups, meta, err := serve(ctx, s, req, ViewTodo, ScopeForCourseIDs(courseIDs), payload, func(ctx context.Context) ([]models.TodoGroup, *BranchReport, error) {
		return s.aggregator.TodoAggregate(ctx, courseIDs)
	})
	if err != nil {
		return nil, meta, err
	}
	if groups == nil {
		groups = []models.TodoGroup{}
	}
	if meta.CacheHit {
		groups = s.overlayTodo(ctx, groups)
	}
	if !filter.Empty() {
		groups = ArrangeTodoGroups(groups, filter)
	}
	return groups, meta, nil
}

// Stream returns the merged announcement stream.
func (s *SyncService) Stream(ctx context.Context, req ViewRequest, courseIDs []string) ([]models.StreamItem, models.SyncMeta, error) {
	payload := RefreshPayload{View: ViewStream, CourseIDs: courseIDs}
	return serve(ctx, s, req, ViewStream, ScopeForCourseIDs(courseIDs), payload, func(ctx context.Context) ([]models.StreamItem, *BranchReport, error) {
		return s.aggregator.Stream(ctx, courseIDs)
	})
}

// Schedule returns the calendar window.
func (s *SyncService) Schedule(ctx context.Context, req ViewRequest) (*models.SchedulePayload, models.SyncMeta, error) {
	payload := RefreshPayload{View: ViewSchedule}
	return serve(ctx, s, req, ViewSchedule, scopeAll, payload, func(ctx context.Context) (*models.SchedulePayload, *BranchReport, error) {
		return s.aggregator.Schedule(ctx)
	})
}

// currentOverlay loads class names for studentIDs. Cached views carry the
// class names from their last refresh; the overlay store is local, so it is
// re-read on every cache hit instead of invalidating upstream-backed entries.
// A failing store leaves payloads as cached.
func (s *SyncService) currentOverlay(ctx context.Context, studentIDs []string) (map[string]string, bool) {
	if s.overlays == nil || len(studentIDs) == 0 {
		return nil, false
	}
	overlay, err := s.overlays.LookupMany(ctx, studentIDs)
	if err != nil {
		s.logger.Warn("overlay lookup failed; serving cached class names", zap.Error(err))
		return nil, false
	}
	return overlay, true
}

func (s *SyncService) overlayTodo(ctx context.Context, groups []models.TodoGroup) []models.TodoGroup {
	seen := map[string]struct{}{}
	ids := make([]string, 0)
	for _, group := range groups {
		for _, item := range group.Items {
			if _, dup := seen[item.StudentID]; !dup {
				seen[item.StudentID] = struct{}{}
				ids = append(ids, item.StudentID)
			}
		}
	}
	overlay, ok := s.currentOverlay(ctx, ids)
	if !ok {
		return groups
	}
	out := make([]models.TodoGroup, len(groups))
	for i, group := range groups {
		group.Items = ApplyTodoOverlay(group.Items, overlay)
		out[i] = group
	}
	return out
}

func rosterIDs(roster []models.RosterEntry) []string {
	ids := make([]string, 0, len(roster))
	for _, entry := range roster {
		ids = append(ids, entry.UserID)
	}
	return ids
}

// InvalidateUser drops every cached view of a user.
func (s *SyncService) InvalidateUser(ctx context.Context, userID string) error {
	if userID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "userId is required")
	}
	return s.cache.Invalidate(ctx, fmt.Sprintf("%s:%s:*", cacheKeyPrefix, userID))
}

func metaFor(entry models.CacheEntry, hit bool) models.SyncMeta {
	return models.SyncMeta{
		CacheHit:         hit,
		FetchedAt:        entry.FetchedAt,
		Stale:            entry.Stale,
		Partial:          entry.Partial,
		DegradedBranches: entry.DegradedBranches,
	}
}
