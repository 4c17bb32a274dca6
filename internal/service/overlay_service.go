package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-sync-api/internal/models"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
)

type overlayRepository interface {
	Lookup(ctx context.Context, studentID string) (*models.ClassOverlay, error)
	LookupMany(ctx context.Context, studentIDs []string) (map[string]string, error)
	ListByGroup(ctx context.Context, group string) ([]models.ClassOverlay, error)
	Upsert(ctx context.Context, overlay *models.ClassOverlay) error
	Delete(ctx context.Context, studentID string) error
	DeleteGroup(ctx context.Context, group string) (int64, error)
}

// OverlayService manages the local student-to-class overlay. Cached views
// pick up changes at read time, so mutations never touch the view cache.
type OverlayService struct {
	repo      overlayRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewOverlayService constructs the overlay service.
func NewOverlayService(repo overlayRepository, validate *validator.Validate, logger *zap.Logger) *OverlayService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverlayService{repo: repo, validator: validate, logger: logger}
}

// Get returns the overlay for a student.
func (s *OverlayService) Get(ctx context.Context, studentID string) (*models.ClassOverlay, error) {
	overlay, err := s.repo.Lookup(ctx, strings.TrimSpace(studentID))
	if err != nil {
		return nil, s.mapError(err, "overlay not found", "failed to load overlay")
	}
	return overlay, nil
}

// List returns overlays, optionally narrowed to one import group.
func (s *OverlayService) List(ctx context.Context, group string) ([]models.ClassOverlay, error) {
	overlays, err := s.repo.ListByGroup(ctx, strings.TrimSpace(group))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overlays")
	}
	return overlays, nil
}

// LookupMany resolves class names for the given students.
func (s *OverlayService) LookupMany(ctx context.Context, studentIDs []string) (map[string]string, error) {
	return s.repo.LookupMany(ctx, studentIDs)
}

// Upsert creates or replaces a student's overlay.
func (s *OverlayService) Upsert(ctx context.Context, req models.UpsertOverlayRequest) (*models.ClassOverlay, error) {
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.ClassName = strings.TrimSpace(req.ClassName)
	req.GroupName = strings.TrimSpace(req.GroupName)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid overlay payload")
	}

	overlay := &models.ClassOverlay{StudentID: req.StudentID, ClassName: req.ClassName, GroupName: req.GroupName}
	if existing, err := s.repo.Lookup(ctx, req.StudentID); err == nil {
		overlay.ID = existing.ID
		overlay.CreatedAt = existing.CreatedAt
	}
	if err := s.repo.Upsert(ctx, overlay); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save overlay")
	}
	s.logger.Info("overlay saved", zap.String("student_id", overlay.StudentID), zap.String("group", overlay.GroupName))
	return overlay, nil
}

// Delete removes a student's overlay.
func (s *OverlayService) Delete(ctx context.Context, studentID string) error {
	if err := s.repo.Delete(ctx, strings.TrimSpace(studentID)); err != nil {
		return s.mapError(err, "overlay not found", "failed to delete overlay")
	}
	return nil
}

// DeleteGroup removes every overlay imported under group.
func (s *OverlayService) DeleteGroup(ctx context.Context, group string) (int64, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "group is required")
	}
	removed, err := s.repo.DeleteGroup(ctx, group)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete overlay group")
	}
	s.logger.Info("overlay group deleted", zap.String("group", group), zap.Int64("removed", removed))
	return removed, nil
}

func (s *OverlayService) mapError(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
