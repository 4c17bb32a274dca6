package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-sync-api/internal/models"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
	"github.com/noah-isme/classroom-sync-api/pkg/response"
)

type overlayService interface {
	Get(ctx context.Context, studentID string) (*models.ClassOverlay, error)
	List(ctx context.Context, group string) ([]models.ClassOverlay, error)
	Upsert(ctx context.Context, req models.UpsertOverlayRequest) (*models.ClassOverlay, error)
	Delete(ctx context.Context, studentID string) error
	DeleteGroup(ctx context.Context, group string) (int64, error)
}

// OverlayHandler exposes the local class overlay store.
type OverlayHandler struct {
	service overlayService
}

// NewOverlayHandler builds a new handler.
func NewOverlayHandler(service overlayService) *OverlayHandler {
	return &OverlayHandler{service: service}
}

// List godoc
// @Summary List class overlays
// @Tags Overlay
// @Produce json
// @Param group query string false "Import group"
// @Success 200 {object} response.Envelope
// @Router /overlays [get]
func (h *OverlayHandler) List(c *gin.Context) {
	items, err := h.service.List(c.Request.Context(), c.Query("group"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"total": len(items)})
}

// Get godoc
// @Summary Get a student's class overlay
// @Tags Overlay
// @Produce json
// @Param studentId path string true "Upstream student id"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /overlays/{studentId} [get]
func (h *OverlayHandler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item)
}

// Upsert godoc
// @Summary Create or replace a student's class overlay
// @Tags Overlay
// @Accept json
// @Produce json
// @Param studentId path string true "Upstream student id"
// @Param payload body models.UpsertOverlayRequest true "Overlay payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /overlays/{studentId} [put]
func (h *OverlayHandler) Upsert(c *gin.Context) {
	var req models.UpsertOverlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid overlay payload"))
		return
	}
	req.StudentID = c.Param("studentId")
	item, err := h.service.Upsert(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item)
}

// Delete godoc
// @Summary Remove a student's class overlay
// @Tags Overlay
// @Param studentId path string true "Upstream student id"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /overlays/{studentId} [delete]
func (h *OverlayHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DeleteGroup godoc
// @Summary Remove every overlay of an import group
// @Tags Overlay
// @Produce json
// @Param group path string true "Import group"
// @Success 200 {object} response.Envelope
// @Router /overlay-groups/{group} [delete]
func (h *OverlayHandler) DeleteGroup(c *gin.Context) {
	removed, err := h.service.DeleteGroup(c.Request.Context(), c.Param("group"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"removed": removed})
}
