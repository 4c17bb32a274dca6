package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-sync-api/internal/middleware"
	"github.com/noah-isme/classroom-sync-api/internal/models"
	"github.com/noah-isme/classroom-sync-api/internal/service"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
)

type fakeSyncSrv struct {
	lastReq       service.ViewRequest
	lastCourseIDs []string
	lastCourseID  string
	lastFilter    service.TodoFilter
	groups        []models.TodoGroup
	group         *models.TodoGroup
	meta          models.SyncMeta
	err           error
	invalidated   string
}

func (f *fakeSyncSrv) Courses(_ context.Context, req service.ViewRequest, ids []string) ([]models.Course, models.SyncMeta, error) {
	f.lastReq, f.lastCourseIDs = req, ids
	return []models.Course{{ID: "c1", Name: "Biology"}}, f.meta, f.err
}

func (f *fakeSyncSrv) CourseAggregate(_ context.Context, req service.ViewRequest, id string) (*models.CourseAggregate, models.SyncMeta, error) {
	f.lastReq, f.lastCourseID = req, id
	if f.err != nil {
		return nil, models.SyncMeta{}, f.err
	}
	return &models.CourseAggregate{CourseID: id, Roster: []models.RosterEntry{}}, f.meta, nil
}

func (f *fakeSyncSrv) CourseTodo(_ context.Context, req service.ViewRequest, id string) (*models.TodoGroup, models.SyncMeta, error) {
	f.lastReq, f.lastCourseID = req, id
	return f.group, f.meta, f.err
}

func (f *fakeSyncSrv) Todo(_ context.Context, req service.ViewRequest, ids []string, filter service.TodoFilter) ([]models.TodoGroup, models.SyncMeta, error) {
	f.lastReq, f.lastCourseIDs, f.lastFilter = req, ids, filter
	return f.groups, f.meta, f.err
}

func (f *fakeSyncSrv) Stream(_ context.Context, req service.ViewRequest, ids []string) ([]models.StreamItem, models.SyncMeta, error) {
	f.lastReq, f.lastCourseIDs = req, ids
	return []models.StreamItem{}, f.meta, f.err
}

func (f *fakeSyncSrv) Schedule(_ context.Context, req service.ViewRequest) (*models.SchedulePayload, models.SyncMeta, error) {
	f.lastReq = req
	return &models.SchedulePayload{Events: []models.CalendarEvent{}}, f.meta, f.err
}

func (f *fakeSyncSrv) InvalidateUser(_ context.Context, userID string) error {
	f.invalidated = userID
	return f.err
}

type rawEnvelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func newSyncContext(target string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	c.Set(middleware.ContextSessionKey, &models.SessionClaims{UserID: "teacher-1", UpstreamToken: "tok"})
	return c, rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) rawEnvelope {
	t.Helper()
	var envelope rawEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func TestSyncHandlerRequiresSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSyncHandler(&fakeSyncSrv{}, nil)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/todo", nil)

	handler.Todo(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTHENTICATION_REQUIRED", decodeEnvelope(t, rec).Error.Code)
}

func TestSyncHandlerTodoParsesQuery(t *testing.T) {
	fetched := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	srv := &fakeSyncSrv{
		groups: []models.TodoGroup{{CourseID: "c1", Items: []models.TodoItem{}}},
		meta:   models.SyncMeta{CacheHit: true, FetchedAt: fetched, Partial: true, DegradedBranches: []string{"topics:c1"}},
	}
	handler := NewSyncHandler(srv, nil)
	c, rec := newSyncContext("/todo?courseIds=c2,c1&courseIds=c3&hiddenTopicIds=t1&sort=due&force=true")

	handler.Todo(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ViewRequest{UserID: "teacher-1", Force: true}, srv.lastReq)
	assert.Equal(t, []string{"c2", "c1", "c3"}, srv.lastCourseIDs)
	assert.Equal(t, []string{"t1"}, srv.lastFilter.HiddenTopicIDs)
	assert.True(t, srv.lastFilter.SortByDue)

	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
	assert.Equal(t, true, envelope.Meta["partial"])
	assert.Equal(t, []interface{}{"topics:c1"}, envelope.Meta["degraded_branches"])
}

func TestSyncHandlerCourseTodoNullData(t *testing.T) {
	handler := NewSyncHandler(&fakeSyncSrv{}, nil)
	c, rec := newSyncContext("/courses/c9/todo")
	c.Params = gin.Params{{Key: "courseId", Value: "c9"}}

	handler.CourseTodo(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(decodeEnvelope(t, rec).Data))
}

func TestSyncHandlerCourseAggregate(t *testing.T) {
	srv := &fakeSyncSrv{}
	handler := NewSyncHandler(srv, nil)

	c, rec := newSyncContext("/courses//aggregate")
	handler.CourseAggregate(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = newSyncContext("/courses/c1/aggregate")
	c.Params = gin.Params{{Key: "courseId", Value: "c1"}}
	handler.CourseAggregate(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", srv.lastCourseID)
	assert.False(t, srv.lastReq.Force)
	assert.JSONEq(t, `{"courseId":"c1","courseName":"","roster":[],"coursework":null,"submissions":null,"topics":null}`, string(decodeEnvelope(t, rec).Data))
}

func TestSyncHandlerPropagatesAuthFailure(t *testing.T) {
	handler := NewSyncHandler(&fakeSyncSrv{err: appErrors.ErrAuthenticationRequired}, nil)
	c, rec := newSyncContext("/schedule")

	handler.Schedule(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSyncHandlerExportTodo(t *testing.T) {
	srv := &fakeSyncSrv{groups: []models.TodoGroup{{CourseID: "c1", CourseName: "Biology", Items: []models.TodoItem{{SubmissionID: "s1", StudentName: "Ana", CourseworkTitle: "Lab"}}}}}
	handler := NewSyncHandler(srv, service.NewTodoExportService(nil, nil))

	c, rec := newSyncContext("/todo/export?courseIds=c1")
	handler.ExportTodo(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")
	assert.Contains(t, rec.Body.String(), "Biology,,Ana")

	c, rec = newSyncContext("/todo/export?format=xlsx")
	handler.ExportTodo(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncHandlerClearCache(t *testing.T) {
	srv := &fakeSyncSrv{}
	handler := NewSyncHandler(srv, nil)
	c, rec := newSyncContext("/sync/cache")

	handler.ClearCache(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "teacher-1", srv.invalidated)
}
