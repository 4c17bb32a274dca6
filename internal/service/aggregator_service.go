package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classroom-sync-api/internal/models"
	"github.com/noah-isme/classroom-sync-api/internal/upstream"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
	"github.com/noah-isme/classroom-sync-api/pkg/governor"
)

type classroomAccessor interface {
	ListCourses(ctx context.Context, q upstream.CourseQuery) ([]models.Course, error)
	GetCourse(ctx context.Context, courseID string) (models.Course, error)
	ListRoster(ctx context.Context, courseID string, q upstream.PageQuery) ([]models.RosterEntry, error)
	ListCoursework(ctx context.Context, courseID string, q upstream.PageQuery) ([]models.Coursework, error)
	ListTopics(ctx context.Context, courseID string) ([]models.Topic, error)
	ListSubmissions(ctx context.Context, courseID, courseworkID string) ([]models.Submission, error)
	ListAnnouncements(ctx context.Context, courseID string, q upstream.PageQuery) ([]models.Announcement, error)
	ListCalendarEvents(ctx context.Context, q upstream.EventQuery) ([]models.CalendarEvent, error)
}

type overlayLookup interface {
	LookupMany(ctx context.Context, studentIDs []string) (map[string]string, error)
}

type degradationRecorder interface {
	RecordDegradedBranch(branch string)
}

// AggregatorConfig tunes fan-out width and bounds.
type AggregatorConfig struct {
	DispatchInterval          time.Duration
	SubmissionConcurrency     int
	TodoCourseConcurrency     int
	TodoSubmissionConcurrency int
	ProbeConcurrency          int
	TodoCourseworkLimit       int
	AnnouncementLimit         int
	CalendarWindow            time.Duration
	CalendarMaxResults        int
}

// BranchReport records which branches of a fan-out degraded to empty.
type BranchReport struct {
	mu       sync.Mutex
	branches map[string]struct{}
}

func (r *BranchReport) degrade(branch string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.branches == nil {
		r.branches = make(map[string]struct{})
	}
	r.branches[branch] = struct{}{}
}

// Branches lists degraded branches in sorted order.
func (r *BranchReport) Branches() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.branches))
	for branch := range r.branches {
		out = append(out, branch)
	}
	sort.Strings(out)
	return out
}

// Partial reports whether any branch degraded.
func (r *BranchReport) Partial() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.branches) > 0
}

// AggregatorService fans out upstream calls for one view and assembles the
// result, converting per-branch failures into empty branches.
type AggregatorService struct {
	upstream classroomAccessor
	overlays overlayLookup
	degraded degradationRecorder
	logger   *zap.Logger
	now      func() time.Time
	cfg      AggregatorConfig

	branchGov     *governor.Governor
	submissionGov *governor.Governor
	todoCourseGov *governor.Governor
	todoSubGov    *governor.Governor
	probeGov      *governor.Governor
}

// AggregatorServiceParams groups constructor dependencies.
type AggregatorServiceParams struct {
	Upstream classroomAccessor
	Overlays overlayLookup
	Metrics  *MetricsService
	Logger   *zap.Logger
	Config   AggregatorConfig
}

// NewAggregatorService constructs an AggregatorService with sane defaults.
func NewAggregatorService(params AggregatorServiceParams) *AggregatorService {
	cfg := params.Config
	if cfg.DispatchInterval < 0 {
		cfg.DispatchInterval = 0
	}
	if cfg.SubmissionConcurrency <= 0 {
		cfg.SubmissionConcurrency = 10
	}
	if cfg.TodoCourseConcurrency <= 0 {
		cfg.TodoCourseConcurrency = 3
	}
	if cfg.TodoSubmissionConcurrency <= 0 {
		cfg.TodoSubmissionConcurrency = 10
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = 10
	}
	if cfg.TodoCourseworkLimit <= 0 {
		cfg.TodoCourseworkLimit = 50
	}
	if cfg.AnnouncementLimit <= 0 {
		cfg.AnnouncementLimit = 20
	}
	if cfg.CalendarWindow <= 0 {
		cfg.CalendarWindow = 90 * 24 * time.Hour
	}
	if cfg.CalendarMaxResults <= 0 {
		cfg.CalendarMaxResults = 1000
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var observer governor.Observer
	var degraded degradationRecorder
	if params.Metrics != nil {
		observer = params.Metrics
		degraded = params.Metrics
	}
	gov := func(name string, limit int) *governor.Governor {
		return governor.New(governor.Options{Name: name, Limit: limit, Interval: cfg.DispatchInterval, Observer: observer})
	}

	return &AggregatorService{
		upstream:      params.Upstream,
		overlays:      params.Overlays,
		degraded:      degraded,
		logger:        logger,
		now:           time.Now,
		cfg:           cfg,
		branchGov:     gov("branches", 4),
		submissionGov: gov("submissions", cfg.SubmissionConcurrency),
		todoCourseGov: gov("todo_courses", cfg.TodoCourseConcurrency),
		todoSubGov:    gov("todo_submissions", cfg.TodoSubmissionConcurrency),
		probeGov:      gov("roster_probe", cfg.ProbeConcurrency),
	}
}

// failOpen converts a rejected or unavailable branch into an empty slice and
// records it. Authentication failures abort the whole call.
func (s *AggregatorService) failOpen(report *BranchReport, branch string, err error) error {
	if upstream.IsUnauthenticated(err) {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return appErrors.Wrap(err, appErrors.ErrAuthenticationRequired.Code, appErrors.ErrAuthenticationRequired.Status, appErrors.ErrAuthenticationRequired.Message)
	}
	report.degrade(branch)
	resource := branch
	var failure *upstream.Failure
	if errors.As(err, &failure) {
		resource = failure.Resource
	}
	if s.degraded != nil {
		s.degraded.RecordDegradedBranch(resource)
	}
	s.logger.Warn("upstream branch degraded to empty",
		zap.String("branch", branch),
		zap.String("kind", string(upstream.KindOf(err))),
		zap.Error(err))
	return nil
}

func branchValue[T any](s *AggregatorService, report *BranchReport, branch string, res governor.Result[[]T]) ([]T, error) {
	if res.Err == nil {
		return nonNil(res.Value), nil
	}
	if err := s.failOpen(report, branch, res.Err); err != nil {
		return []T{}, err
	}
	return []T{}, nil
}

type courseBranches struct {
	course     models.Course
	roster     []models.RosterEntry
	coursework []models.Coursework
	topics     []models.Topic
}

// fetchBranches runs the independent per-course listings concurrently.
// courseworkLimit of zero fetches every coursework item.
func (s *AggregatorService) fetchBranches(ctx context.Context, report *BranchReport, courseID string, known *models.Course, courseworkLimit int) (courseBranches, error) {
	out := courseBranches{course: models.Course{ID: courseID}}
	if known != nil {
		out.course = *known
	}

	tasks := []governor.Task[any]{
		func(ctx context.Context) (any, error) {
			return s.upstream.ListRoster(ctx, courseID, upstream.PageQuery{})
		},
		func(ctx context.Context) (any, error) {
			q := upstream.PageQuery{}
			if courseworkLimit > 0 {
				q = upstream.PageQuery{PageSize: courseworkLimit, MaxItems: courseworkLimit}
			}
			return s.upstream.ListCoursework(ctx, courseID, q)
		},
		func(ctx context.Context) (any, error) {
			return s.upstream.ListTopics(ctx, courseID)
		},
	}
	if known == nil {
		tasks = append(tasks, func(ctx context.Context) (any, error) {
			return s.upstream.GetCourse(ctx, courseID)
		})
	}
	results := governor.Run(ctx, s.branchGov, tasks)

	var err error
	if out.roster, err = branchValue(s, report, "roster:"+courseID, typed[[]models.RosterEntry](results[0])); err != nil {
		return out, err
	}
	if out.coursework, err = branchValue(s, report, "coursework:"+courseID, typed[[]models.Coursework](results[1])); err != nil {
		return out, err
	}
	if out.topics, err = branchValue(s, report, "topics:"+courseID, typed[[]models.Topic](results[2])); err != nil {
		return out, err
	}
	if known == nil {
		if res := typed[models.Course](results[3]); res.Err != nil {
			if err := s.failOpen(report, "course:"+courseID, res.Err); err != nil {
				return out, err
			}
		} else {
			out.course = res.Value
		}
	}
	return out, nil
}

// fetchSubmissions lists submissions for every coursework item through gov.
func (s *AggregatorService) fetchSubmissions(ctx context.Context, report *BranchReport, gov *governor.Governor, courseID string, coursework []models.Coursework) ([]models.Submission, error) {
	tasks := make([]governor.Task[[]models.Submission], len(coursework))
	for i, cw := range coursework {
		courseworkID := cw.ID
		tasks[i] = func(ctx context.Context) ([]models.Submission, error) {
			return s.upstream.ListSubmissions(ctx, courseID, courseworkID)
		}
	}
	results := governor.Run(ctx, gov, tasks)

	submissions := make([]models.Submission, 0)
	for i, res := range results {
		subs, err := branchValue(s, report, "submissions:"+courseID+"/"+coursework[i].ID, res)
		if err != nil {
			return []models.Submission{}, err
		}
		submissions = append(submissions, subs...)
	}
	return submissions, nil
}

// loadOverlay returns class names for the roster. A failing store yields an
// empty overlay.
func (s *AggregatorService) loadOverlay(ctx context.Context, roster []models.RosterEntry) map[string]string {
	if s.overlays == nil || len(roster) == 0 {
		return map[string]string{}
	}
	ids := make([]string, 0, len(roster))
	for _, entry := range roster {
		ids = append(ids, entry.UserID)
	}
	overlay, err := s.overlays.LookupMany(ctx, ids)
	if err != nil {
		s.logger.Warn("overlay lookup failed; continuing without class names", zap.Error(err))
		return map[string]string{}
	}
	if overlay == nil {
		return map[string]string{}
	}
	return overlay
}

func (s *AggregatorService) inconsistencyLogger(courseID string) func(models.Submission, string) {
	return func(sub models.Submission, reason string) {
		s.logger.Debug("assembly inconsistency",
			zap.String("course_id", courseID),
			zap.String("submission_id", sub.ID),
			zap.String("coursework_id", sub.CourseworkID),
			zap.String("user_id", sub.UserID),
			zap.String("reason", reason))
	}
}

// CourseAggregate fetches roster, coursework, topics and every submission for
// a course and assembles the grade matrix.
func (s *AggregatorService) CourseAggregate(ctx context.Context, courseID string) (*models.CourseAggregate, *BranchReport, error) {
	if courseID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "courseId is required")
	}
	report := &BranchReport{}

	branches, err := s.fetchBranches(ctx, report, courseID, nil, 0)
	if err != nil {
		return nil, report, err
	}
	submissions, err := s.fetchSubmissions(ctx, report, s.submissionGov, courseID, branches.coursework)
	if err != nil {
		return nil, report, err
	}

	aggregate := AssembleCourse(branches.course, TodoFragments{
		Roster:      branches.roster,
		Coursework:  branches.coursework,
		Submissions: submissions,
		Topics:      branches.topics,
		Overlay:     s.loadOverlay(ctx, branches.roster),
	})
	return &aggregate, report, nil
}

// CourseTodo assembles the pending review list for one course from its most
// recently updated coursework. It returns a nil group when nothing is pending.
func (s *AggregatorService) CourseTodo(ctx context.Context, courseID string) (*models.TodoGroup, *BranchReport, error) {
	if courseID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "courseId is required")
	}
	report := &BranchReport{}
	group, err := s.courseTodo(ctx, report, courseID, nil)
	return group, report, err
}

func (s *AggregatorService) courseTodo(ctx context.Context, report *BranchReport, courseID string, known *models.Course) (*models.TodoGroup, error) {
	branches, err := s.fetchBranches(ctx, report, courseID, known, s.cfg.TodoCourseworkLimit)
	if err != nil {
		return nil, err
	}
	if len(branches.coursework) == 0 {
		return nil, nil
	}
	submissions, err := s.fetchSubmissions(ctx, report, s.todoSubGov, courseID, branches.coursework)
	if err != nil {
		return nil, err
	}

	items := AssembleTodoItems(TodoFragments{
		Roster:      branches.roster,
		Coursework:  branches.coursework,
		Submissions: submissions,
		Topics:      branches.topics,
		Overlay:     s.loadOverlay(ctx, branches.roster),
	}, AssembleOptions{
		PendingOnly:     true,
		OnInconsistency: s.inconsistencyLogger(courseID),
	})
	return AssembleTodoGroup(branches.course, len(branches.roster), items), nil
}

// TodoAggregate builds todo groups for every listable course, optionally
// restricted to courseIDs. Courses without pending work are dropped and the
// remaining groups follow course listing order.
func (s *AggregatorService) TodoAggregate(ctx context.Context, courseIDs []string) ([]models.TodoGroup, *BranchReport, error) {
	report := &BranchReport{}
	courses, err := s.listableCourses(ctx, report, courseIDs)
	if err != nil {
		return nil, report, err
	}

	tasks := make([]governor.Task[*models.TodoGroup], len(courses))
	for i := range courses {
		course := courses[i]
		tasks[i] = func(ctx context.Context) (*models.TodoGroup, error) {
			return s.courseTodo(ctx, report, course.ID, &course)
		}
	}
	results := governor.Run(ctx, s.todoCourseGov, tasks)

	groups := make([]models.TodoGroup, 0, len(results))
	for i, res := range results {
		if res.Err != nil {
			if err := s.failOpen(report, "todo:"+courses[i].ID, res.Err); err != nil {
				return nil, report, err
			}
			continue
		}
		if res.Value != nil {
			groups = append(groups, *res.Value)
		}
	}
	return groups, report, nil
}

// ListableCourses returns active courses, optionally restricted to courseIDs,
// that have at least one enrolled student.
func (s *AggregatorService) ListableCourses(ctx context.Context, courseIDs []string) ([]models.Course, *BranchReport, error) {
	report := &BranchReport{}
	courses, err := s.listableCourses(ctx, report, courseIDs)
	return courses, report, err
}

func (s *AggregatorService) listableCourses(ctx context.Context, report *BranchReport, courseIDs []string) ([]models.Course, error) {
	courses, err := s.upstream.ListCourses(ctx, upstream.CourseQuery{States: []models.CourseState{models.CourseStateActive}})
	if err != nil {
		if err := s.failOpen(report, "courses", err); err != nil {
			return nil, err
		}
		return []models.Course{}, nil
	}

	if len(courseIDs) > 0 {
		wanted := make(map[string]struct{}, len(courseIDs))
		for _, id := range courseIDs {
			wanted[id] = struct{}{}
		}
		filtered := make([]models.Course, 0, len(courseIDs))
		for _, course := range courses {
			if _, ok := wanted[course.ID]; ok {
				filtered = append(filtered, course)
			}
		}
		courses = filtered
	}

	tasks := make([]governor.Task[[]models.RosterEntry], len(courses))
	for i, course := range courses {
		courseID := course.ID
		tasks[i] = func(ctx context.Context) ([]models.RosterEntry, error) {
			return s.upstream.ListRoster(ctx, courseID, upstream.PageQuery{PageSize: 1, MaxItems: 1})
		}
	}
	results := governor.Run(ctx, s.probeGov, tasks)

	listable := make([]models.Course, 0, len(courses))
	for i, res := range results {
		roster, err := branchValue(s, report, "roster_probe:"+courses[i].ID, res)
		if err != nil {
			return nil, err
		}
		if len(roster) > 0 {
			listable = append(listable, courses[i])
		}
	}
	return listable, nil
}

// Stream merges recent announcements of listable courses, newest first.
func (s *AggregatorService) Stream(ctx context.Context, courseIDs []string) ([]models.StreamItem, *BranchReport, error) {
	report := &BranchReport{}
	courses, err := s.listableCourses(ctx, report, courseIDs)
	if err != nil {
		return nil, report, err
	}

	limit := s.cfg.AnnouncementLimit
	tasks := make([]governor.Task[[]models.Announcement], len(courses))
	for i, course := range courses {
		courseID := course.ID
		tasks[i] = func(ctx context.Context) ([]models.Announcement, error) {
			return s.upstream.ListAnnouncements(ctx, courseID, upstream.PageQuery{PageSize: limit, MaxItems: limit})
		}
	}
	results := governor.Run(ctx, s.todoCourseGov, tasks)

	announcements := make([][]models.Announcement, len(courses))
	for i, res := range results {
		if announcements[i], err = branchValue(s, report, "announcements:"+courses[i].ID, res); err != nil {
			return nil, report, err
		}
	}
	return AssembleStream(courses, announcements), report, nil
}

// Schedule lists calendar events over the configured window ending now.
func (s *AggregatorService) Schedule(ctx context.Context) (*models.SchedulePayload, *BranchReport, error) {
	report := &BranchReport{}
	now := s.now().UTC()
	payload := &models.SchedulePayload{
		TimeMin: now.Add(-s.cfg.CalendarWindow),
		TimeMax: now,
	}
	events, err := s.upstream.ListCalendarEvents(ctx, upstream.EventQuery{
		TimeMin:    payload.TimeMin,
		TimeMax:    payload.TimeMax,
		MaxResults: s.cfg.CalendarMaxResults,
	})
	if err != nil {
		if err := s.failOpen(report, "calendar_events", err); err != nil {
			return nil, report, err
		}
	}
	payload.Events = nonNil(events)
	return payload, report, nil
}

func typed[T any](res governor.Result[any]) governor.Result[T] {
	if res.Err != nil {
		return governor.Result[T]{Err: res.Err}
	}
	value, _ := res.Value.(T)
	return governor.Result[T]{Value: value}
}
