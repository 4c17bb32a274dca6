package models

import (
	"fmt"
	"time"
)

// CourseState mirrors the upstream course lifecycle.
type CourseState string

const (
	CourseStateActive      CourseState = "ACTIVE"
	CourseStateArchived    CourseState = "ARCHIVED"
	CourseStateProvisioned CourseState = "PROVISIONED"
	CourseStateDeclined    CourseState = "DECLINED"
)

// Course is a read-only mirror of an upstream course.
type Course struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Section       string      `json:"section,omitempty"`
	State         CourseState `json:"state"`
	AlternateLink string      `json:"alternateLink,omitempty"`
}

// RosterEntry is one student enrolled in a course. ClassName is filled from
// the overlay store when known.
type RosterEntry struct {
	CourseID  string  `json:"courseId"`
	UserID    string  `json:"userId"`
	FullName  string  `json:"fullName"`
	PhotoURL  *string `json:"photoUrl,omitempty"`
	ClassName *string `json:"className,omitempty"`
}

// Date is the structured calendar date used by upstream due dates.
type Date struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Time converts the date to midnight UTC.
func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// TimeOfDay is the structured due time used by upstream coursework.
type TimeOfDay struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// Coursework is an assignment, question or material posted to a course.
type Coursework struct {
	ID            string     `json:"id"`
	CourseID      string     `json:"courseId"`
	Title         string     `json:"title"`
	TopicID       *string    `json:"topicId,omitempty"`
	MaxPoints     *float64   `json:"maxPoints,omitempty"`
	AlternateLink string     `json:"alternateLink,omitempty"`
	DueDate       *Date      `json:"dueDate,omitempty"`
	DueTime       *TimeOfDay `json:"dueTime,omitempty"`
	State         string     `json:"state,omitempty"`
	UpdateTime    time.Time  `json:"updateTime"`
}

// IsGraded distinguishes graded work from status-only work.
func (c Coursework) IsGraded() bool {
	return c.MaxPoints != nil
}

// Topic groups coursework inside a course.
type Topic struct {
	ID       string `json:"id"`
	CourseID string `json:"courseId"`
	Name     string `json:"name"`
}

// SubmissionState is the upstream student submission state.
type SubmissionState string

const (
	SubmissionStateNew       SubmissionState = "NEW"
	SubmissionStateCreated   SubmissionState = "CREATED"
	SubmissionStateTurnedIn  SubmissionState = "TURNED_IN"
	SubmissionStateReturned  SubmissionState = "RETURNED"
	SubmissionStateReclaimed SubmissionState = "RECLAIMED_BY_STUDENT"
)

// Submission is one student's work for one coursework item.
type Submission struct {
	ID            string          `json:"id"`
	CourseID      string          `json:"courseId"`
	CourseworkID  string          `json:"courseworkId"`
	UserID        string          `json:"userId"`
	State         SubmissionState `json:"state"`
	AssignedGrade *float64        `json:"assignedGrade,omitempty"`
	DraftGrade    *float64        `json:"draftGrade,omitempty"`
	Late          bool            `json:"late"`
	UpdateTime    time.Time       `json:"updateTime"`
	AlternateLink string          `json:"alternateLink,omitempty"`
}

// Submitted reports whether the student has handed the work in at some point.
func (s Submission) Submitted() bool {
	return s.State == SubmissionStateTurnedIn || s.State == SubmissionStateReturned
}

// AwaitingReview reports whether the work is turned in but not yet returned.
func (s Submission) AwaitingReview() bool {
	return s.State == SubmissionStateTurnedIn
}

// Announcement is a course stream post.
type Announcement struct {
	ID            string    `json:"id"`
	CourseID      string    `json:"courseId"`
	Text          string    `json:"text"`
	State         string    `json:"state,omitempty"`
	AlternateLink string    `json:"alternateLink,omitempty"`
	CreatorUserID string    `json:"creatorUserId,omitempty"`
	UpdateTime    time.Time `json:"updateTime"`
}

// CalendarEvent is a single (already expanded) calendar occurrence.
type CalendarEvent struct {
	ID               string    `json:"id"`
	Summary          string    `json:"summary"`
	Description      string    `json:"description,omitempty"`
	Location         string    `json:"location,omitempty"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	AllDay           bool      `json:"allDay"`
	HTMLLink         string    `json:"htmlLink,omitempty"`
	RecurringEventID string    `json:"recurringEventId,omitempty"`
}
