package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-sync-api/internal/models"
)

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *countingRecorder) ObserveUpstreamCall(resource, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[resource+":"+outcome]++
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *countingRecorder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	rec := &countingRecorder{}
	client := NewClient(Config{
		ClassroomBaseURL: srv.URL + "/v1",
		CalendarBaseURL:  srv.URL + "/calendar/v3",
		Timeout:          5 * time.Second,
		HTTPClient:       srv.Client(),
		Recorder:         rec,
	})
	return client, rec
}

func authed() context.Context {
	return WithCredential(context.Background(), Credential{AccessToken: "tok-123"})
}

func TestListCoursesSendsCredentialAndFilters(t *testing.T) {
	var gotAuth, gotStates, gotTeacher string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotStates = r.URL.Query().Get("courseStates")
		gotTeacher = r.URL.Query().Get("teacherId")
		fmt.Fprint(w, `{"courses":[{"id":"c1","name":"Biology","section":"7A","courseState":"ACTIVE"}]}`)
	}))

	courses, err := client.ListCourses(authed(), CourseQuery{States: []models.CourseState{models.CourseStateActive}})

	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "ACTIVE", gotStates)
	assert.Equal(t, "me", gotTeacher)
	assert.Equal(t, models.Course{ID: "c1", Name: "Biology", Section: "7A", State: models.CourseStateActive}, courses[0])
}

func TestCollectFollowsPaginationToExhaustion(t *testing.T) {
	var calls int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		assert.Equal(t, "100", r.URL.Query().Get("pageSize"))
		switch r.URL.Query().Get("pageToken") {
		case "":
			fmt.Fprint(w, `{"studentSubmissions":[{"id":"s1","courseWorkId":"cw1","userId":"u1","state":"TURNED_IN"}],"nextPageToken":"p2"}`)
		case "p2":
			fmt.Fprint(w, `{"studentSubmissions":[{"id":"s2","userId":"u2","state":"RETURNED","assignedGrade":9.5,"late":true}],"nextPageToken":"p3"}`)
		default:
			fmt.Fprint(w, `{"studentSubmissions":[{"id":"s3","userId":"u3","state":"NEW"}]}`)
		}
	}))

	subs, err := client.ListSubmissions(authed(), "c1", "cw1")

	require.NoError(t, err)
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
	require.Len(t, subs, 3)
	assert.Equal(t, "cw1", subs[1].CourseworkID)
	assert.Equal(t, "c1", subs[1].CourseID)
	require.NotNil(t, subs[1].AssignedGrade)
	assert.Equal(t, 9.5, *subs[1].AssignedGrade)
	assert.True(t, subs[1].Late)
	assert.Equal(t, models.SubmissionStateNew, subs[2].State)
}

func TestCollectStopsOnRepeatedPageToken(t *testing.T) {
	var calls int64
	client, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		fmt.Fprint(w, `{"topic":[{"topicId":"t1","name":"Writing"}],"nextPageToken":"same"}`)
	}))

	topics, err := client.ListTopics(authed(), "c1")

	require.Error(t, err)
	assert.Equal(t, FailureUnavailable, KindOf(err))
	assert.NotNil(t, topics)
	assert.Empty(t, topics)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
	assert.Equal(t, 2, rec.outcomes[ResourceTopics+":ok"])
}

func TestRosterProbeHonoursMaxItems(t *testing.T) {
	var calls int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		assert.Equal(t, "1", r.URL.Query().Get("pageSize"))
		fmt.Fprint(w, `{"students":[{"userId":"u1","profile":{"name":{"fullName":"Ada"},"photoUrl":"//p/ada"}}],"nextPageToken":"more"}`)
	}))

	roster, err := client.ListRoster(authed(), "c1", PageQuery{PageSize: 1, MaxItems: 1})

	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	require.Len(t, roster, 1)
	assert.Equal(t, "Ada", roster[0].FullName)
	assert.Equal(t, "c1", roster[0].CourseID)
	require.NotNil(t, roster[0].PhotoURL)
}

func TestListCourseworkOrdersByUpdateTimeAndMapsTopic(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "updateTime desc", r.URL.Query().Get("orderBy"))
		assert.Equal(t, "/v1/courses/c%201/courseWork", r.URL.EscapedPath())
		fmt.Fprint(w, `{"courseWork":[
			{"id":"cw1","title":"Essay","topicId":"t1","maxPoints":100,"dueDate":{"year":2024,"month":3,"day":9},"updateTime":"2024-03-01T10:00:00Z"},
			{"id":"cw2","title":"Reading"}]}`)
	}))

	items, err := client.ListCoursework(authed(), "c 1", PageQuery{PageSize: 500})

	require.NoError(t, err)
	require.Len(t, items, 2)
	require.NotNil(t, items[0].TopicID)
	assert.Equal(t, "t1", *items[0].TopicID)
	assert.True(t, items[0].IsGraded())
	assert.Equal(t, "2024-03-09", items[0].DueDate.String())
	assert.Nil(t, items[1].TopicID)
	assert.False(t, items[1].IsGraded())
}

func TestFailureClassification(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   FailureKind
	}{
		{http.StatusUnauthorized, `{}`, FailureUnauthenticated},
		{http.StatusForbidden, `{"error":{"status":"PERMISSION_DENIED"}}`, FailureRejected},
		{http.StatusForbidden, `{"error":{"errors":[{"reason":"rateLimitExceeded"}]}}`, FailureUnavailable},
		{http.StatusNotFound, `{}`, FailureRejected},
		{http.StatusTooManyRequests, `{}`, FailureUnavailable},
		{http.StatusServiceUnavailable, `{}`, FailureUnavailable},
	}
	for _, tc := range cases {
		client, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			fmt.Fprint(w, tc.body)
		}))

		topics, err := client.ListTopics(authed(), "c1")

		require.Error(t, err, "status %d", tc.status)
		assert.NotNil(t, topics)
		assert.Empty(t, topics)
		assert.Equal(t, tc.want, KindOf(err), "status %d", tc.status)
		var failure *Failure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, ResourceTopics, failure.Resource)
		assert.Equal(t, tc.status, failure.Status)
		assert.Equal(t, 1, rec.outcomes[ResourceTopics+":"+string(tc.want)])
	}
}

func TestMissingCredentialFailsWithoutNetwork(t *testing.T) {
	var calls int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
	}))

	_, err := client.ListCourses(context.Background(), CourseQuery{})
	assert.True(t, IsUnauthenticated(err))

	expired := WithCredential(context.Background(), Credential{AccessToken: "x", Expiry: time.Now().Add(-time.Minute)})
	_, err = client.ListRoster(expired, "c1", PageQuery{})
	assert.True(t, IsUnauthenticated(err))

	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
}

func TestMalformedBodyIsUnavailable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"announcements": "nope"}`)
	}))

	items, err := client.ListAnnouncements(authed(), "c1", PageQuery{})

	require.Error(t, err)
	assert.Equal(t, FailureUnavailable, KindOf(err))
	assert.Empty(t, items)
}

func TestListCalendarEventsExpandsWindow(t *testing.T) {
	timeMin := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/calendar/v3/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "startTime", q.Get("orderBy"))
		assert.Equal(t, "1000", q.Get("maxResults"))
		assert.Equal(t, "2024-01-01T00:00:00Z", q.Get("timeMin"))
		fmt.Fprint(w, `{"items":[
			{"id":"e1","summary":"Biology 7A","start":{"dateTime":"2024-01-08T08:00:00Z"},"end":{"dateTime":"2024-01-08T09:00:00Z"},"recurringEventId":"r1"},
			{"id":"e2","summary":"Holiday","start":{"date":"2024-01-10"},"end":{"date":"2024-01-11"}}]}`)
	}))

	events, err := client.ListCalendarEvents(authed(), EventQuery{TimeMin: timeMin, MaxResults: 1000})

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "r1", events[0].RecurringEventID)
	assert.False(t, events[0].AllDay)
	assert.True(t, events[1].AllDay)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), events[1].Start)
}
