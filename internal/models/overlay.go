package models

import "time"

// ClassOverlay maps a student to a locally maintained class name.
type ClassOverlay struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"studentId"`
	ClassName string    `db:"class_name" json:"className"`
	GroupName string    `db:"group_name" json:"groupName"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// UpsertOverlayRequest is the payload for creating or updating an overlay.
type UpsertOverlayRequest struct {
	StudentID string `json:"-" validate:"required,max=128"`
	ClassName string `json:"className" validate:"required,max=128"`
	GroupName string `json:"groupName" validate:"required,max=128"`
}
