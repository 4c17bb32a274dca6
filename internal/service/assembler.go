package service

import (
	"sort"

	"github.com/noah-isme/classroom-sync-api/internal/models"
)

// TodoFragments are the already fetched branches of one course.
type TodoFragments struct {
	Roster      []models.RosterEntry
	Coursework  []models.Coursework
	Submissions []models.Submission
	Topics      []models.Topic
	// Overlay maps student id to class name.
	Overlay map[string]string
}

// AssembleOptions tunes todo assembly.
type AssembleOptions struct {
	// PendingOnly keeps submissions turned in but not yet returned.
	PendingOnly bool
	// OnInconsistency is called for each submission dropped because its
	// student or coursework could not be resolved.
	OnInconsistency func(sub models.Submission, reason string)
}

const (
	inconsistencyMissingStudent    = "student not in roster"
	inconsistencyMissingCoursework = "coursework not found"
)

// AssembleTodoItems joins submissions with their student, coursework and
// topic. A submission is emitted only when both its student and coursework
// resolve. The result is never nil.
func AssembleTodoItems(f TodoFragments, opts AssembleOptions) []models.TodoItem {
	students := make(map[string]models.RosterEntry, len(f.Roster))
	for _, entry := range f.Roster {
		students[entry.UserID] = entry
	}
	coursework := make(map[string]models.Coursework, len(f.Coursework))
	for _, cw := range f.Coursework {
		coursework[cw.ID] = cw
	}
	topics := make(map[string]string, len(f.Topics))
	for _, topic := range f.Topics {
		topics[topic.ID] = topic.Name
	}

	items := make([]models.TodoItem, 0, len(f.Submissions))
	for _, sub := range f.Submissions {
		if opts.PendingOnly && !sub.AwaitingReview() {
			continue
		}
		student, ok := students[sub.UserID]
		if !ok {
			reportInconsistency(opts, sub, inconsistencyMissingStudent)
			continue
		}
		cw, ok := coursework[sub.CourseworkID]
		if !ok {
			reportInconsistency(opts, sub, inconsistencyMissingCoursework)
			continue
		}

		item := models.TodoItem{
			SubmissionID:    sub.ID,
			State:           sub.State,
			AssignedGrade:   sub.AssignedGrade,
			Late:            sub.Late,
			UpdateTime:      sub.UpdateTime,
			SubmissionLink:  sub.AlternateLink,
			CourseID:        cw.CourseID,
			CourseworkID:    cw.ID,
			CourseworkTitle: cw.Title,
			MaxPoints:       cw.MaxPoints,
			DueDate:         cw.DueDate,
			CourseworkLink:  cw.AlternateLink,
			StudentID:       student.UserID,
			StudentName:     student.FullName,
			StudentPhotoURL: student.PhotoURL,
			TopicID:         cw.TopicID,
			TopicName:       topicName(topics, cw.TopicID),
		}
		if item.CourseID == "" {
			item.CourseID = sub.CourseID
		}
		item.StudentClassName = student.ClassName
		if className, ok := f.Overlay[student.UserID]; ok {
			name := className
			item.StudentClassName = &name
		}
		items = append(items, item)
	}

	return items
}

// TodoFilter narrows an assembled todo view at read time.
type TodoFilter struct {
	// HiddenTopicIDs drops items whose coursework belongs to these topics.
	HiddenTopicIDs []string
	// SortByDue orders items by due date, undated last. Otherwise items keep
	// submission order.
	SortByDue bool
}

// Empty reports whether the filter leaves groups unchanged.
func (f TodoFilter) Empty() bool {
	return len(f.HiddenTopicIDs) == 0 && !f.SortByDue
}

// ArrangeTodoGroups applies filter to copies of groups. Groups left without
// items are dropped.
func ArrangeTodoGroups(groups []models.TodoGroup, filter TodoFilter) []models.TodoGroup {
	hidden := make(map[string]struct{}, len(filter.HiddenTopicIDs))
	for _, id := range filter.HiddenTopicIDs {
		hidden[id] = struct{}{}
	}

	out := make([]models.TodoGroup, 0, len(groups))
	for _, group := range groups {
		items := make([]models.TodoItem, 0, len(group.Items))
		for _, item := range group.Items {
			if item.TopicID != nil {
				if _, skip := hidden[*item.TopicID]; skip {
					continue
				}
			}
			items = append(items, item)
		}
		if len(items) == 0 {
			continue
		}
		if filter.SortByDue {
			sort.SliceStable(items, func(i, j int) bool {
				return dueBefore(items[i].DueDate, items[j].DueDate)
			})
		}
		group.Items = items
		out = append(out, group)
	}
	return out
}

// ApplyRosterOverlay returns a copy of roster with class names taken from the
// overlay. The overlay is the only source of class names, so students without
// one get none.
func ApplyRosterOverlay(roster []models.RosterEntry, overlay map[string]string) []models.RosterEntry {
	out := make([]models.RosterEntry, len(roster))
	copy(out, roster)
	for i := range out {
		out[i].ClassName = overlayClass(overlay, out[i].UserID)
	}
	return out
}

// ApplyTodoOverlay is ApplyRosterOverlay for assembled todo items.
func ApplyTodoOverlay(items []models.TodoItem, overlay map[string]string) []models.TodoItem {
	out := make([]models.TodoItem, len(items))
	copy(out, items)
	for i := range out {
		out[i].StudentClassName = overlayClass(overlay, out[i].StudentID)
	}
	return out
}

func overlayClass(overlay map[string]string, studentID string) *string {
	className, ok := overlay[studentID]
	if !ok {
		return nil
	}
	return &className
}

// AssembleCourse builds the grade matrix aggregate. Branch slices are never
// nil in the result.
func AssembleCourse(course models.Course, f TodoFragments) models.CourseAggregate {
	return models.CourseAggregate{
		CourseID:    course.ID,
		CourseName:  course.Name,
		Section:     course.Section,
		Roster:      ApplyRosterOverlay(f.Roster, f.Overlay),
		Coursework:  nonNil(f.Coursework),
		Submissions: nonNil(f.Submissions),
		Topics:      nonNil(f.Topics),
	}
}

// AssembleTodoGroup wraps assembled items for one course. It returns nil when
// there is nothing to review.
func AssembleTodoGroup(course models.Course, studentCount int, items []models.TodoItem) *models.TodoGroup {
	if len(items) == 0 {
		return nil
	}
	return &models.TodoGroup{
		CourseID:     course.ID,
		CourseName:   course.Name,
		StudentCount: studentCount,
		Items:        items,
	}
}

// AssembleStream merges per-course announcements newest first. Entries with
// the same update time keep course order.
func AssembleStream(courses []models.Course, announcements [][]models.Announcement) []models.StreamItem {
	items := make([]models.StreamItem, 0)
	for i, course := range courses {
		if i >= len(announcements) {
			break
		}
		for _, a := range announcements[i] {
			items = append(items, models.StreamItem{Announcement: a, CourseName: course.Name})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].UpdateTime.After(items[j].UpdateTime)
	})
	return items
}

func topicName(topics map[string]string, topicID *string) string {
	if topicID == nil {
		return models.UncategorizedTopic
	}
	if name, ok := topics[*topicID]; ok && name != "" {
		return name
	}
	return models.UncategorizedTopic
}

func dueBefore(a, b *models.Date) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.Time().Before(b.Time())
	}
}

func reportInconsistency(opts AssembleOptions, sub models.Submission, reason string) {
	if opts.OnInconsistency != nil {
		opts.OnInconsistency(sub, reason)
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
