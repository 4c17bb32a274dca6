package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classroom-sync-api/internal/models"
)

const overlayColumns = "id, student_id, class_name, group_name, created_at, updated_at"

// OverlayRepository persists locally maintained class names per student.
type OverlayRepository struct {
	db *sqlx.DB
}

// NewOverlayRepository creates a new repository instance.
func NewOverlayRepository(db *sqlx.DB) *OverlayRepository {
	return &OverlayRepository{db: db}
}

// Lookup returns the overlay for a student or sql.ErrNoRows.
func (r *OverlayRepository) Lookup(ctx context.Context, studentID string) (*models.ClassOverlay, error) {
	var overlay models.ClassOverlay
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM class_overlays WHERE student_id = ?", overlayColumns))
	if err := r.db.GetContext(ctx, &overlay, query, studentID); err != nil {
		return nil, err
	}
	return &overlay, nil
}

// LookupMany returns class names keyed by student id. Students without an
// overlay are absent from the map.
func (r *OverlayRepository) LookupMany(ctx context.Context, studentIDs []string) (map[string]string, error) {
	result := make(map[string]string, len(studentIDs))
	if len(studentIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In("SELECT student_id, class_name FROM class_overlays WHERE student_id IN (?)", studentIDs)
	if err != nil {
		return nil, fmt.Errorf("build overlay lookup: %w", err)
	}
	var rows []struct {
		StudentID string `db:"student_id"`
		ClassName string `db:"class_name"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("lookup overlays: %w", err)
	}
	for _, row := range rows {
		result[row.StudentID] = row.ClassName
	}
	return result, nil
}

// ListByGroup returns overlays of one import group, or all when group is empty.
func (r *OverlayRepository) ListByGroup(ctx context.Context, group string) ([]models.ClassOverlay, error) {
	overlays := make([]models.ClassOverlay, 0)
	var err error
	if group == "" {
		query := fmt.Sprintf("SELECT %s FROM class_overlays ORDER BY group_name, class_name, student_id", overlayColumns)
		err = r.db.SelectContext(ctx, &overlays, query)
	} else {
		query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM class_overlays WHERE group_name = ? ORDER BY class_name, student_id", overlayColumns))
		err = r.db.SelectContext(ctx, &overlays, query, group)
	}
	if err != nil {
		return nil, fmt.Errorf("list overlays: %w", err)
	}
	return overlays, nil
}

// Upsert inserts or replaces the overlay for overlay.StudentID.
func (r *OverlayRepository) Upsert(ctx context.Context, overlay *models.ClassOverlay) error {
	now := time.Now().UTC()
	if overlay.ID == "" {
		overlay.ID = uuid.NewString()
	}
	if overlay.CreatedAt.IsZero() {
		overlay.CreatedAt = now
	}
	overlay.UpdatedAt = now

	query := r.db.Rebind(`INSERT INTO class_overlays (id, student_id, class_name, group_name, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (student_id) DO UPDATE SET class_name = excluded.class_name, group_name = excluded.group_name, updated_at = excluded.updated_at`)
	if _, err := r.db.ExecContext(ctx, query,
		overlay.ID, overlay.StudentID, overlay.ClassName, overlay.GroupName, overlay.CreatedAt, overlay.UpdatedAt); err != nil {
		return fmt.Errorf("upsert overlay: %w", err)
	}
	return nil
}

// Delete removes a student's overlay. It returns sql.ErrNoRows when none existed.
func (r *OverlayRepository) Delete(ctx context.Context, studentID string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM class_overlays WHERE student_id = ?"), studentID)
	if err != nil {
		return fmt.Errorf("delete overlay: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete overlay rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteGroup removes every overlay of an import group and returns the count.
func (r *OverlayRepository) DeleteGroup(ctx context.Context, group string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM class_overlays WHERE group_name = ?"), group)
	if err != nil {
		return 0, fmt.Errorf("delete overlay group: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete overlay group rows affected: %w", err)
	}
	return affected, nil
}

// IsNotFound reports whether err signals a missing overlay.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
