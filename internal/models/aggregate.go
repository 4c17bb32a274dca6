package models

import "time"

// UncategorizedTopic labels coursework without a resolvable topic.
const UncategorizedTopic = "Uncategorized"

// TodoItem is a submission joined with its coursework, student and topic.
type TodoItem struct {
	SubmissionID     string          `json:"submissionId"`
	State            SubmissionState `json:"state"`
	AssignedGrade    *float64        `json:"assignedGrade,omitempty"`
	Late             bool            `json:"late"`
	UpdateTime       time.Time       `json:"updateTime"`
	SubmissionLink   string          `json:"submissionLink,omitempty"`
	CourseID         string          `json:"courseId"`
	CourseworkID     string          `json:"courseworkId"`
	CourseworkTitle  string          `json:"courseworkTitle"`
	MaxPoints        *float64        `json:"maxPoints,omitempty"`
	DueDate          *Date           `json:"dueDate,omitempty"`
	CourseworkLink   string          `json:"courseworkLink,omitempty"`
	StudentID        string          `json:"studentId"`
	StudentName      string          `json:"studentName"`
	StudentPhotoURL  *string         `json:"studentPhotoUrl,omitempty"`
	StudentClassName *string         `json:"studentClassName,omitempty"`
	TopicID          *string         `json:"topicId,omitempty"`
	TopicName        string          `json:"topicName"`
}

// TodoGroup holds one course's pending items.
type TodoGroup struct {
	CourseID     string     `json:"courseId"`
	CourseName   string     `json:"courseName"`
	StudentCount int        `json:"studentCount"`
	Items        []TodoItem `json:"items"`
}

// CourseAggregate is the unit cached and invalidated for the grade matrix.
type CourseAggregate struct {
	CourseID    string        `json:"courseId"`
	CourseName  string        `json:"courseName"`
	Section     string        `json:"section,omitempty"`
	Roster      []RosterEntry `json:"roster"`
	Coursework  []Coursework  `json:"coursework"`
	Submissions []Submission  `json:"submissions"`
	Topics      []Topic       `json:"topics"`
}

// StreamItem is an announcement annotated with its course name.
type StreamItem struct {
	Announcement
	CourseName string `json:"courseName"`
}

// SchedulePayload is the cached calendar window.
type SchedulePayload struct {
	TimeMin time.Time       `json:"timeMin"`
	TimeMax time.Time       `json:"timeMax"`
	Events  []CalendarEvent `json:"events"`
}
