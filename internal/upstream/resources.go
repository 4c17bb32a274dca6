package upstream

import (
	"context"
	"net/url"
	"time"

	"github.com/noah-isme/classroom-sync-api/internal/models"
)

// Resource labels used for metrics and failure reports.
const (
	ResourceCourses       = "courses"
	ResourceCourse        = "course"
	ResourceRoster        = "roster"
	ResourceCoursework    = "coursework"
	ResourceTopics        = "topics"
	ResourceSubmissions   = "submissions"
	ResourceAnnouncements = "announcements"
	ResourceEvents        = "calendar_events"
)

// CourseQuery filters the course listing.
type CourseQuery struct {
	States   []models.CourseState
	PageSize int
}

// EventQuery bounds a calendar listing.
type EventQuery struct {
	CalendarID string
	TimeMin    time.Time
	TimeMax    time.Time
	MaxResults int
}

type wireCourse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Section       string `json:"section"`
	CourseState   string `json:"courseState"`
	AlternateLink string `json:"alternateLink"`
}

func (w wireCourse) model() models.Course {
	return models.Course{
		ID:            w.ID,
		Name:          w.Name,
		Section:       w.Section,
		State:         models.CourseState(w.CourseState),
		AlternateLink: w.AlternateLink,
	}
}

type wireStudent struct {
	CourseID string `json:"courseId"`
	UserID   string `json:"userId"`
	Profile  struct {
		ID   string `json:"id"`
		Name struct {
			FullName string `json:"fullName"`
		} `json:"name"`
		PhotoURL string `json:"photoUrl"`
	} `json:"profile"`
}

type wireCoursework struct {
	ID            string            `json:"id"`
	CourseID      string            `json:"courseId"`
	Title         string            `json:"title"`
	TopicID       string            `json:"topicId"`
	MaxPoints     *float64          `json:"maxPoints"`
	AlternateLink string            `json:"alternateLink"`
	DueDate       *models.Date      `json:"dueDate"`
	DueTime       *models.TimeOfDay `json:"dueTime"`
	State         string            `json:"state"`
	UpdateTime    time.Time         `json:"updateTime"`
}

type wireTopic struct {
	CourseID string `json:"courseId"`
	TopicID  string `json:"topicId"`
	Name     string `json:"name"`
}

type wireSubmission struct {
	ID            string    `json:"id"`
	CourseID      string    `json:"courseId"`
	CourseWorkID  string    `json:"courseWorkId"`
	UserID        string    `json:"userId"`
	State         string    `json:"state"`
	AssignedGrade *float64  `json:"assignedGrade"`
	DraftGrade    *float64  `json:"draftGrade"`
	Late          bool      `json:"late"`
	UpdateTime    time.Time `json:"updateTime"`
	AlternateLink string    `json:"alternateLink"`
}

type wireAnnouncement struct {
	ID            string    `json:"id"`
	CourseID      string    `json:"courseId"`
	Text          string    `json:"text"`
	State         string    `json:"state"`
	AlternateLink string    `json:"alternateLink"`
	CreatorUserID string    `json:"creatorUserId"`
	UpdateTime    time.Time `json:"updateTime"`
}

type wireEventTime struct {
	DateTime *time.Time `json:"dateTime"`
	Date     string     `json:"date"`
}

func (w wireEventTime) value() (time.Time, bool) {
	if w.DateTime != nil {
		return *w.DateTime, false
	}
	if parsed, err := time.Parse("2006-01-02", w.Date); err == nil {
		return parsed, true
	}
	return time.Time{}, false
}

type wireEvent struct {
	ID               string        `json:"id"`
	Summary          string        `json:"summary"`
	Description      string        `json:"description"`
	Location         string        `json:"location"`
	Start            wireEventTime `json:"start"`
	End              wireEventTime `json:"end"`
	HTMLLink         string        `json:"htmlLink"`
	RecurringEventID string        `json:"recurringEventId"`
}

// ListCourses lists the caller's courses as a teacher, filtered by state.
func (c *Client) ListCourses(ctx context.Context, q CourseQuery) ([]models.Course, error) {
	query := url.Values{}
	query.Set("teacherId", "me")
	query.Set("pageSize", itoa(PageQuery{PageSize: q.PageSize}.pageSize()))
	for _, state := range q.States {
		query.Add("courseStates", string(state))
	}
	wire, err := collect[wireCourse](ctx, c, ResourceCourses, c.classroomURL("/courses"), "courses", query, 0)
	if err != nil {
		return []models.Course{}, err
	}
	courses := make([]models.Course, 0, len(wire))
	for _, w := range wire {
		courses = append(courses, w.model())
	}
	return courses, nil
}

// GetCourse fetches a single course.
func (c *Client) GetCourse(ctx context.Context, courseID string) (models.Course, error) {
	var w wireCourse
	if err := c.getJSON(ctx, ResourceCourse, c.classroomURL("/courses/%s", courseID), url.Values{}, &w); err != nil {
		return models.Course{}, err
	}
	return w.model(), nil
}

// ListRoster lists the students of a course.
func (c *Client) ListRoster(ctx context.Context, courseID string, q PageQuery) ([]models.RosterEntry, error) {
	query := url.Values{}
	query.Set("pageSize", itoa(q.pageSize()))
	wire, err := collect[wireStudent](ctx, c, ResourceRoster, c.classroomURL("/courses/%s/students", courseID), "students", query, q.MaxItems)
	if err != nil {
		return []models.RosterEntry{}, err
	}
	roster := make([]models.RosterEntry, 0, len(wire))
	for _, w := range wire {
		entry := models.RosterEntry{
			CourseID: w.CourseID,
			UserID:   w.UserID,
			FullName: w.Profile.Name.FullName,
		}
		if entry.CourseID == "" {
			entry.CourseID = courseID
		}
		if entry.UserID == "" {
			entry.UserID = w.Profile.ID
		}
		if w.Profile.PhotoURL != "" {
			photo := w.Profile.PhotoURL
			entry.PhotoURL = &photo
		}
		roster = append(roster, entry)
	}
	return roster, nil
}

// ListCoursework lists coursework newest-updated first.
func (c *Client) ListCoursework(ctx context.Context, courseID string, q PageQuery) ([]models.Coursework, error) {
	query := url.Values{}
	query.Set("orderBy", "updateTime desc")
	query.Set("pageSize", itoa(q.pageSize()))
	wire, err := collect[wireCoursework](ctx, c, ResourceCoursework, c.classroomURL("/courses/%s/courseWork", courseID), "courseWork", query, q.MaxItems)
	if err != nil {
		return []models.Coursework{}, err
	}
	items := make([]models.Coursework, 0, len(wire))
	for _, w := range wire {
		item := models.Coursework{
			ID:            w.ID,
			CourseID:      w.CourseID,
			Title:         w.Title,
			MaxPoints:     w.MaxPoints,
			AlternateLink: w.AlternateLink,
			DueDate:       w.DueDate,
			DueTime:       w.DueTime,
			State:         w.State,
			UpdateTime:    w.UpdateTime,
		}
		if item.CourseID == "" {
			item.CourseID = courseID
		}
		if w.TopicID != "" {
			topicID := w.TopicID
			item.TopicID = &topicID
		}
		items = append(items, item)
	}
	return items, nil
}

// ListTopics lists the topics of a course.
func (c *Client) ListTopics(ctx context.Context, courseID string) ([]models.Topic, error) {
	query := url.Values{}
	query.Set("pageSize", itoa(MaxPageSize))
	wire, err := collect[wireTopic](ctx, c, ResourceTopics, c.classroomURL("/courses/%s/topics", courseID), "topic", query, 0)
	if err != nil {
		return []models.Topic{}, err
	}
	topics := make([]models.Topic, 0, len(wire))
	for _, w := range wire {
		topics = append(topics, models.Topic{ID: w.TopicID, CourseID: courseID, Name: w.Name})
	}
	return topics, nil
}

// ListSubmissions lists every student submission for one coursework item.
func (c *Client) ListSubmissions(ctx context.Context, courseID, courseworkID string) ([]models.Submission, error) {
	query := url.Values{}
	query.Set("pageSize", itoa(MaxPageSize))
	endpoint := c.classroomURL("/courses/%s/courseWork/%s/studentSubmissions", courseID, courseworkID)
	wire, err := collect[wireSubmission](ctx, c, ResourceSubmissions, endpoint, "studentSubmissions", query, 0)
	if err != nil {
		return []models.Submission{}, err
	}
	submissions := make([]models.Submission, 0, len(wire))
	for _, w := range wire {
		sub := models.Submission{
			ID:            w.ID,
			CourseID:      w.CourseID,
			CourseworkID:  w.CourseWorkID,
			UserID:        w.UserID,
			State:         models.SubmissionState(w.State),
			AssignedGrade: w.AssignedGrade,
			DraftGrade:    w.DraftGrade,
			Late:          w.Late,
			UpdateTime:    w.UpdateTime,
			AlternateLink: w.AlternateLink,
		}
		if sub.CourseID == "" {
			sub.CourseID = courseID
		}
		if sub.CourseworkID == "" {
			sub.CourseworkID = courseworkID
		}
		submissions = append(submissions, sub)
	}
	return submissions, nil
}

// ListAnnouncements lists a course's stream announcements newest first.
func (c *Client) ListAnnouncements(ctx context.Context, courseID string, q PageQuery) ([]models.Announcement, error) {
	query := url.Values{}
	query.Set("orderBy", "updateTime desc")
	query.Set("pageSize", itoa(q.pageSize()))
	wire, err := collect[wireAnnouncement](ctx, c, ResourceAnnouncements, c.classroomURL("/courses/%s/announcements", courseID), "announcements", query, q.MaxItems)
	if err != nil {
		return []models.Announcement{}, err
	}
	items := make([]models.Announcement, 0, len(wire))
	for _, w := range wire {
		item := models.Announcement(w)
		if item.CourseID == "" {
			item.CourseID = courseID
		}
		items = append(items, item)
	}
	return items, nil
}

// ListCalendarEvents lists expanded single events in a time window.
func (c *Client) ListCalendarEvents(ctx context.Context, q EventQuery) ([]models.CalendarEvent, error) {
	calendarID := q.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	pageSize := q.MaxResults
	if pageSize <= 0 || pageSize > maxCalendarPageSize {
		pageSize = maxCalendarPageSize
	}
	query := url.Values{}
	query.Set("singleEvents", "true")
	query.Set("orderBy", "startTime")
	query.Set("maxResults", itoa(pageSize))
	if !q.TimeMin.IsZero() {
		query.Set("timeMin", q.TimeMin.UTC().Format(time.RFC3339))
	}
	if !q.TimeMax.IsZero() {
		query.Set("timeMax", q.TimeMax.UTC().Format(time.RFC3339))
	}
	endpoint := c.calendarBase + "/calendars/" + url.PathEscape(calendarID) + "/events"
	wire, err := collect[wireEvent](ctx, c, ResourceEvents, endpoint, "items", query, q.MaxResults)
	if err != nil {
		return []models.CalendarEvent{}, err
	}
	events := make([]models.CalendarEvent, 0, len(wire))
	for _, w := range wire {
		start, allDay := w.Start.value()
		end, _ := w.End.value()
		events = append(events, models.CalendarEvent{
			ID:               w.ID,
			Summary:          w.Summary,
			Description:      w.Description,
			Location:         w.Location,
			Start:            start,
			End:              end,
			AllDay:           allDay,
			HTMLLink:         w.HTMLLink,
			RecurringEventID: w.RecurringEventID,
		})
	}
	return events, nil
}
