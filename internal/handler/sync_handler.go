package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-sync-api/internal/middleware"
	"github.com/noah-isme/classroom-sync-api/internal/models"
	"github.com/noah-isme/classroom-sync-api/internal/service"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
	"github.com/noah-isme/classroom-sync-api/pkg/response"
)

type syncService interface {
	Courses(ctx context.Context, req service.ViewRequest, courseIDs []string) ([]models.Course, models.SyncMeta, error)
	CourseAggregate(ctx context.Context, req service.ViewRequest, courseID string) (*models.CourseAggregate, models.SyncMeta, error)
	CourseTodo(ctx context.Context, req service.ViewRequest, courseID string) (*models.TodoGroup, models.SyncMeta, error)
	Todo(ctx context.Context, req service.ViewRequest, courseIDs []string, filter service.TodoFilter) ([]models.TodoGroup, models.SyncMeta, error)
	Stream(ctx context.Context, req service.ViewRequest, courseIDs []string) ([]models.StreamItem, models.SyncMeta, error)
	Schedule(ctx context.Context, req service.ViewRequest) (*models.SchedulePayload, models.SyncMeta, error)
	InvalidateUser(ctx context.Context, userID string) error
}

type todoExporter interface {
	Render(groups []models.TodoGroup, format string) (*service.TodoExport, error)
}

// SyncHandler serves the cached classroom views.
type SyncHandler struct {
	service  syncService
	exporter todoExporter
}

// NewSyncHandler constructs the handler.
func NewSyncHandler(service syncService, exporter todoExporter) *SyncHandler {
	return &SyncHandler{service: service, exporter: exporter}
}

// Courses godoc
// @Summary List courses with at least one student
// @Tags Sync
// @Produce json
// @Param courseIds query string false "Comma separated course ids"
// @Param force query bool false "Bypass the cache"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /courses [get]
func (h *SyncHandler) Courses(c *gin.Context) {
	req, ok := viewRequest(c)
	if !ok {
		response.Error(c, appErrors.ErrAuthenticationRequired)
		return
	}
	courses, meta, err := h.service.Courses(c.Request.Context(), req, listQuery(c, "courseIds"))
	h.respond(c, courses, meta, err)
}

// CourseAggregate godoc
// @Summary Course roster, coursework, submissions and topics
// @Tags Sync
// @Produce json
// @Param courseId path string true "Course ID"
// @Param force query bool false "Bypass the cache"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /courses/{courseId}/aggregate [get]
func (h *SyncHandler) CourseAggregate(c *gin.Context) {
	req, ok := viewRequest(c)
	if !ok {
		response.Error(c, appErrors.ErrAuthenticationRequired)
		return
	}
	courseID := strings.TrimSpace(c.Param("courseId"))
	if courseID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "courseId is required"))
		return
	}
	aggregate, meta, err := h.service.CourseAggregate(c.Request.Context(), req, courseID)
	h.respond(c, aggregate, meta, err)
}

// CourseTodo godoc
// @Summary Pending submissions for one course
// @Description Data is null when the course has nothing awaiting review.
// @Tags Sync
// @Produce json
// @Param courseId path string true "Course ID"
// @Param force query bool false "Bypass the cache"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/todo [get]
func (h *SyncHandler) CourseTodo(c *gin.Context) {
	req, ok := viewRequest(c)
	if !ok {
		response.Error(c, appErrors.ErrAuthenticationRequired)
		return
	}
	courseID := strings.TrimSpace(c.Param("courseId"))
	if courseID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "courseId is required"))
		return
	}
	group, meta, err := h.service.CourseTodo(c.Request.Context(), req, courseID)
	h.respond(c, group, meta, err)
}

// Todo godoc
// @Summary Pending submissions grouped by course
// @Tags Sync
// @Produce json
// @Param courseIds query string false "Comma separated course ids"
// @Param hiddenTopicIds query string false "Comma separated topic ids to hide"
// @Param sort query string false "Set to due to order by due date"
// @Param force query bool false "Bypass the cache"
// @Success 200 {object} response.Envelope
// @Router /todo [get]
func (h *SyncHandler) Todo(c *gin.Context) {
	req, ok := viewRequest(c)
	if !ok {
		response.Error(c, appErrors.ErrAuthenticationRequired)
		return
	}
	groups, meta, err := h.service.Todo(c.Request.Context(), req, listQuery(c, "courseIds"), todoFilter(c))
	h.respond(c, groups, meta, err)
}

// ExportTodo godoc
// @Summary Download pending submissions as CSV or PDF
// @Tags Sync
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Param courseIds query string false "Comma separated course ids"
// @Success 200 {file} file
// @Router /todo/export [get]
func (h *SyncHandler) ExportTodo(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	req, ok := viewRequest(c)
	if !ok {
		response.Error(c, appErrors.ErrAuthenticationRequired)
		return
	}
	groups, _, err := h.service.Todo(c.Request.Context(), req, listQuery(c, "courseIds"), todoFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	doc, err := h.exporter.Render(groups, c.DefaultQuery("format", service.ExportFormatCSV))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, doc.ContentType, doc.Body)
}

// Stream godoc
// @Summary Recent announcements across courses
// @Tags Sync
// @Produce json
// @Param courseIds query string false "Comma separated course ids"
// @Param force query bool false "Bypass the cache"
// @Success 200 {object} response.Envelope
// @Router /stream [get]
func (h *SyncHandler) Stream(c *gin.Context) {
	req, ok := viewRequest(c)
	if !ok {
		response.Error(c, appErrors.ErrAuthenticationRequired)
		return
	}
	items, meta, err := h.service.Stream(c.Request.Context(), req, listQuery(c, "courseIds"))
	h.respond(c, items, meta, err)
}

// Schedule godoc
// @Summary Calendar events for the recent window
// @Tags Sync
// @Produce json
// @Param force query bool false "Bypass the cache"
// @Success 200 {object} response.Envelope
// @Router /schedule [get]
func (h *SyncHandler) Schedule(c *gin.Context) {
	req, ok := viewRequest(c)
	if !ok {
		response.Error(c, appErrors.ErrAuthenticationRequired)
		return
	}
	payload, meta, err := h.service.Schedule(c.Request.Context(), req)
	h.respond(c, payload, meta, err)
}

// ClearCache godoc
// @Summary Drop every cached view of the caller
// @Tags Sync
// @Success 204
// @Router /sync/cache [delete]
func (h *SyncHandler) ClearCache(c *gin.Context) {
	req, ok := viewRequest(c)
	if !ok {
		response.Error(c, appErrors.ErrAuthenticationRequired)
		return
	}
	if err := h.service.InvalidateUser(c.Request.Context(), req.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *SyncHandler) respond(c *gin.Context, data interface{}, meta models.SyncMeta, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetSyncMeta(c, meta)
	response.JSON(c, http.StatusOK, data, middleware.ExtractMeta(c))
}

func todoFilter(c *gin.Context) service.TodoFilter {
	return service.TodoFilter{
		HiddenTopicIDs: listQuery(c, "hiddenTopicIds"),
		SortByDue:      strings.EqualFold(strings.TrimSpace(c.Query("sort")), "due"),
	}
}
